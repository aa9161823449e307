package core

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Job describes one compression run. Source and Dest are filesystem paths;
// Name is the sanitized original filename used inside archives.
type Job struct {
	Source string
	Dest   string
	Name   string
}

// Strategy compresses a single file from Job.Source into Job.Dest.
type Strategy interface {
	// Name identifies the strategy in results, logs and metrics.
	Name() string

	// Extension returns the extension of the produced file given the
	// extension of the source (e.g. ".txt").
	Extension(sourceExt string) string

	Compress(ctx context.Context, job Job) error
}

// CompressionError reports a codec or archive failure inside a strategy.
type CompressionError struct {
	Strategy string
	Err      error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%s compression failed: %v", e.Strategy, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Kind is the class of file a strategy is chosen for.
type Kind int

const (
	KindArchive Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "archive"
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".bmp": true, ".webp": true,
}

// Classify returns the Kind for a filename based on its extension.
func Classify(filename string) Kind {
	if imageExtensions[strings.ToLower(path.Ext(filename))] {
		return KindImage
	}
	return KindArchive
}

// Archive formats accepted by NewArchiveStrategy.
const (
	FormatZip  = "zip"
	FormatGzip = "gzip"
)

// NewArchiveStrategy returns the lossless strategy for the given format.
func NewArchiveStrategy(format string) (Strategy, error) {
	switch strings.ToLower(format) {
	case FormatZip, "":
		return &ZipStrategy{}, nil
	case FormatGzip:
		return &GzipStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown archive format %q", format)
	}
}

// Selector picks strategies for a Kind.
type Selector struct {
	archive Strategy
	image   Strategy
}

// NewSelector creates a Selector. archive handles every kind that has no
// dedicated strategy and is the fallback for images.
func NewSelector(archive, image Strategy) *Selector {
	return &Selector{archive: archive, image: image}
}

// Select returns the primary strategy for kind and the strategy to fall back
// to when the primary fails. fallback is nil when there is none.
func (s *Selector) Select(kind Kind) (primary, fallback Strategy) {
	if kind == KindImage && s.image != nil {
		return s.image, s.archive
	}
	return s.archive, nil
}
