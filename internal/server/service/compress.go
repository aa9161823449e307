package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"squash/internal/core"
	"squash/internal/server/config"
	"squash/internal/server/database"
	"squash/internal/server/logging"
	"squash/internal/server/metrics"
	"squash/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound     = errors.New("download not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// ValidationError is a user-correctable problem with an upload. Cause is
// safe to show to clients.
type ValidationError struct {
	Field string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Cause)
}

// StorageError is a filesystem failure while staging or serving a file.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Ledger records compressions for statistics. It is never consulted to
// resolve downloads.
type Ledger interface {
	Create(ctx context.Context, c *database.Compression) error
	MarkDownloaded(ctx context.Context, id string, at time.Time) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

type nopLedger struct{}

func (nopLedger) Create(context.Context, *database.Compression) error { return nil }

func (nopLedger) MarkDownloaded(context.Context, string, time.Time) error { return nil }

func (nopLedger) GetStats(context.Context) (*database.Stats, error) {
	return &database.Stats{}, nil
}

// CompressResult is returned after a successful compression.
type CompressResult struct {
	OriginalSize        int64     `json:"original_size"`
	OriginalSizeHuman   string    `json:"original_size_human"`
	CompressedSize      int64     `json:"compressed_size"`
	CompressedSizeHuman string    `json:"compressed_size_human"`
	CompressionRatio    float64   `json:"compression_ratio_percent"`
	DownloadID          string    `json:"download_id"`
	DownloadURL         string    `json:"download_url"`
	DownloadFilename    string    `json:"download_filename"`
	Strategy            string    `json:"strategy"`
	Fallback            bool      `json:"fallback"`
	Checksum            string    `json:"checksum"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// CompressService runs the upload, compress, report, download and cleanup
// lifecycle over two staging stores.
type CompressService struct {
	cfg      *config.Config
	staging  storage.Store
	output   storage.Store
	selector *core.Selector
	ledger   Ledger
	now      func() time.Time
}

// NewCompressService creates a new compression service. A nil ledger
// disables recording.
func NewCompressService(cfg *config.Config, staging, output storage.Store, selector *core.Selector, ledger Ledger) *CompressService {
	if ledger == nil {
		ledger = nopLedger{}
	}
	return &CompressService{
		cfg:      cfg,
		staging:  staging,
		output:   output,
		selector: selector,
		ledger:   ledger,
		now:      time.Now,
	}
}

// Compress validates the upload, stages it, runs the strategy chosen for its
// type (falling back to the archive strategy when an image cannot be
// re-encoded) and leaves exactly one output behind for download. The staged
// input is always removed before returning.
func (s *CompressService) Compress(ctx context.Context, filename string, data io.Reader, size int64) (*CompressResult, error) {
	log := logging.FromContext(ctx)

	// 1. Validate before touching storage
	if strings.TrimSpace(filename) == "" {
		return nil, &ValidationError{Field: "file", Cause: "no file selected"}
	}
	if size > s.cfg.MaxUploadSize {
		return nil, ErrFileTooLarge
	}
	if size == 0 {
		return nil, &ValidationError{Field: "file", Cause: "file is empty"}
	}

	stem, ext := core.SplitUpload(filename)
	if !s.cfg.AllowsExtension(ext) {
		return nil, &ValidationError{Field: "file", Cause: fmt.Sprintf("file type %q is not allowed", ext)}
	}
	name := stem + ext

	// 2. Unique storage key
	token, err := generateSecureToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate storage key: %w", err)
	}
	key := stem + "_" + token

	l := &lease{staging: s.staging, output: s.output, log: log}
	defer l.release()

	// 3. Stage the upload while hashing it
	inputKey := key + ext
	l.input = inputKey

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create hasher: %w", err)
	}
	limited := io.LimitReader(data, s.cfg.MaxUploadSize+1)
	written, err := s.staging.Save(inputKey, io.TeeReader(limited, hasher))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &StorageError{Op: "save", Err: err}
	}
	if written > s.cfg.MaxUploadSize {
		return nil, ErrFileTooLarge
	}
	if written == 0 {
		return nil, &ValidationError{Field: "file", Cause: "file is empty"}
	}

	inputPath, err := s.staging.Path(inputKey)
	if err != nil {
		return nil, &StorageError{Op: "resolve", Err: err}
	}

	// 4. Compress, with fallback
	kind := core.Classify(name)
	primary, fallback := s.selector.Select(kind)
	job := core.Job{Source: inputPath, Name: name}

	strategy := primary
	outputKey, err := s.run(ctx, l, primary, key, ext, job)
	usedFallback := false
	if err != nil && fallback != nil && ctx.Err() == nil {
		log.Warn("primary strategy failed, falling back",
			"strategy", primary.Name(),
			"fallback", fallback.Name(),
			"error", err,
		)
		metrics.FallbacksTotal.Inc()
		strategy, usedFallback = fallback, true
		outputKey, err = s.run(ctx, l, fallback, key, ext, job)
	}
	if err != nil {
		return nil, err
	}

	// 5. Sizes from the filesystem
	originalSize, err := s.staging.Size(inputKey)
	if err != nil {
		return nil, &StorageError{Op: "stat", Err: err}
	}
	compressedSize, err := s.output.Size(outputKey)
	if err != nil {
		return nil, &StorageError{Op: "stat", Err: err}
	}

	// 6. Keep the output; the input goes with the deferred release
	l.commit(outputKey)

	metrics.BytesIn.Add(float64(originalSize))
	metrics.BytesOut.Add(float64(compressedSize))

	now := s.now().UTC()
	checksum := hex.EncodeToString(hasher.Sum(nil))
	downloadFilename := stem + strategy.Extension(ext)

	record := &database.Compression{
		ID:             outputKey,
		Filename:       downloadFilename,
		Strategy:       strategy.Name(),
		Fallback:       usedFallback,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Checksum:       checksum,
		CreatedAt:      now,
	}
	if err := s.ledger.Create(ctx, record); err != nil {
		log.Error("failed to record compression", "id", outputKey, "error", err)
	}

	log.Info("compression complete",
		"id", outputKey,
		"kind", kind.String(),
		"strategy", strategy.Name(),
		"fallback", usedFallback,
		"original_size", originalSize,
		"compressed_size", compressedSize,
	)

	return &CompressResult{
		OriginalSize:        originalSize,
		OriginalSizeHuman:   core.HumanizeBytes(originalSize),
		CompressedSize:      compressedSize,
		CompressedSizeHuman: core.HumanizeBytes(compressedSize),
		CompressionRatio:    core.Ratio(originalSize, compressedSize),
		DownloadID:          outputKey,
		DownloadURL:         fmt.Sprintf("%s/download/%s", s.cfg.BaseURL, outputKey),
		DownloadFilename:    downloadFilename,
		Strategy:            strategy.Name(),
		Fallback:            usedFallback,
		Checksum:            checksum,
		ExpiresAt:           now.Add(s.cfg.OrphanMaxAge),
	}, nil
}

// run executes one strategy into a fresh output key. A failed run leaves no
// output behind.
func (s *CompressService) run(ctx context.Context, l *lease, st core.Strategy, key, ext string, job core.Job) (string, error) {
	outputKey := key + st.Extension(ext)
	l.track(outputKey)

	dest, err := s.output.Path(outputKey)
	if err != nil {
		return "", &StorageError{Op: "resolve", Err: err}
	}
	job.Dest = dest

	if err := st.Compress(ctx, job); err != nil {
		l.discard(outputKey)
		metrics.CompressionsTotal.WithLabelValues(st.Name(), "failure").Inc()
		return "", err
	}

	metrics.CompressionsTotal.WithLabelValues(st.Name(), "success").Inc()
	return outputKey, nil
}

// Stats returns aggregate ledger statistics.
func (s *CompressService) Stats(ctx context.Context) (*database.Stats, error) {
	return s.ledger.GetStats(ctx)
}

// --- Helpers ---

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
