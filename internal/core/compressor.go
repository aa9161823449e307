package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// ZipStrategy writes a single-entry ZIP archive using Deflate at maximum
// compression.
type ZipStrategy struct{}

func (s *ZipStrategy) Name() string { return FormatZip }

func (s *ZipStrategy) Extension(string) string { return ".zip" }

func (s *ZipStrategy) Compress(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := os.Create(job.Dest)
	if err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	if err := addFileToZip(zw, job.Source, job.Name); err != nil {
		zw.Close()
		return &CompressionError{Strategy: s.Name(), Err: err}
	}

	if err := zw.Close(); err != nil {
		return &CompressionError{Strategy: s.Name(), Err: fmt.Errorf("failed to close zip writer: %w", err)}
	}

	if err := out.Close(); err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}

// GzipStrategy streams the source through gzip at maximum compression. The
// original filename is kept in the gzip header.
type GzipStrategy struct{}

func (s *GzipStrategy) Name() string { return FormatGzip }

func (s *GzipStrategy) Extension(sourceExt string) string { return sourceExt + ".gz" }

func (s *GzipStrategy) Compress(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(job.Source)
	if err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	defer in.Close()

	out, err := os.Create(job.Dest)
	if err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	gw.Name = job.Name

	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return &CompressionError{Strategy: s.Name(), Err: fmt.Errorf("failed to write gzip stream: %w", err)}
	}
	if err := gw.Close(); err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	if err := out.Close(); err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	return nil
}
