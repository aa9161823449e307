package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"squash/internal/server/logging"
	"squash/internal/server/metrics"
	"squash/internal/server/storage"
)

// downloadID matches "<stem>_<16-char token><ext...>".
var downloadID = regexp.MustCompile(`^([A-Za-z0-9._-]+)_([A-Za-z0-9]{16})((?:\.[A-Za-z0-9]+)+)$`)

// Download is a claimed output ready to stream. Closing it deletes the file.
type Download struct {
	Filename    string
	ContentType string
	Size        int64

	file  *os.File
	path  string
	store storage.Store
	once  sync.Once
}

func (d *Download) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

// Close closes and removes the claimed file. It is safe to call more than once.
func (d *Download) Close() error {
	var err error
	d.once.Do(func() {
		closeErr := d.file.Close()
		removeErr := d.store.Remove(d.path)
		err = errors.Join(closeErr, removeErr)
	})
	return err
}

// Download claims the output with the given id for a single delivery. A
// second request for the same id returns ErrNotFound.
func (s *CompressService) Download(ctx context.Context, id string) (*Download, error) {
	log := logging.FromContext(ctx)

	m := downloadID.FindStringSubmatch(id)
	if m == nil {
		metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	f, claimed, err := s.output.Claim(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &StorageError{Op: "claim", Err: err}
	}

	d := &Download{
		Filename: m[1] + m[3],
		file:     f,
		path:     claimed,
		store:    s.output,
	}

	info, err := f.Stat()
	if err != nil {
		d.Close()
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &StorageError{Op: "stat", Err: err}
	}
	d.Size = info.Size()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		d.Close()
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &StorageError{Op: "sniff", Err: err}
	}
	d.ContentType = mtype.String()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		d.Close()
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, &StorageError{Op: "seek", Err: fmt.Errorf("rewind after sniff: %w", err)}
	}

	if err := s.ledger.MarkDownloaded(ctx, id, s.now().UTC()); err != nil {
		log.Warn("failed to record download", "id", id, "error", err)
	}

	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	log.Info("download claimed", "id", id, "size", d.Size, "content_type", d.ContentType)

	return d, nil
}
