package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"squash/internal/core"
)

// CompressOptions defines the options for the `compress` command.
type CompressOptions struct {
	IOStreams

	OutputDir string
	Quality   int
	Format    string

	paths    []string
	selector *core.Selector
}

// NewCompressOptions provides an initialised CompressOptions instance.
func NewCompressOptions(streams IOStreams) *CompressOptions {
	return &CompressOptions{IOStreams: streams}
}

// NewCompressCommand creates the `compress` command.
func NewCompressCommand(o *CompressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress FILE...",
		Short: "Compress files on this machine",
		Example: `  # Zip a document and re-encode a photo next to the originals
  squash compress report.pdf photo.png

  # Write gzip output into ./out
  squash compress --format gzip -o out server.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&o.OutputDir, "output", "o", "", "Directory for compressed files (defaults to each source's directory)")
	cmd.Flags().IntVarP(&o.Quality, "quality", "q", core.DefaultImageQuality, "JPEG quality for images (1-100)")
	cmd.Flags().StringVarP(&o.Format, "format", "f", core.FormatZip, "Archive format for non-images (zip or gzip)")

	return cmd
}

func (o *CompressOptions) Complete(cmd *cobra.Command, args []string) error {
	paths, err := core.ParseArgs(args)
	if err != nil {
		return err
	}
	o.paths = paths
	return nil
}

func (o *CompressOptions) Validate() error {
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("--quality must be between 1 and 100, got %d", o.Quality)
	}
	archive, err := core.NewArchiveStrategy(o.Format)
	if err != nil {
		return err
	}
	o.selector = core.NewSelector(archive, core.NewImageStrategy(o.Quality))

	if o.OutputDir != "" {
		if err := os.MkdirAll(o.OutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return nil
}

func (o *CompressOptions) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var errs []error
	for _, p := range o.paths {
		if err := o.compressFile(ctx, p); err != nil {
			fmt.Fprintf(o.ErrOut, "✗ %s: %v\n", filepath.Base(p), err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d files failed", len(errs), len(o.paths))
	}
	return nil
}

func (o *CompressOptions) compressFile(ctx context.Context, src string) error {
	name := filepath.Base(src)
	stem, ext := core.SplitUpload(name)

	dir := o.OutputDir
	if dir == "" {
		dir = filepath.Dir(src)
	}

	primary, fallback := o.selector.Select(core.Classify(name))
	strategy := primary
	job := core.Job{Source: src, Name: stem + ext}

	dest, err := destination(src, dir, stem, primary.Extension(ext))
	if err != nil {
		return err
	}
	job.Dest = dest

	err = primary.Compress(ctx, job)
	if err != nil && fallback != nil && ctx.Err() == nil {
		os.Remove(job.Dest)
		fmt.Fprintf(o.ErrOut, "! %s: %v, falling back to %s\n", name, err, fallback.Name())
		strategy = fallback
		if job.Dest, err = destination(src, dir, stem, fallback.Extension(ext)); err != nil {
			return err
		}
		err = fallback.Compress(ctx, job)
	}
	if err != nil {
		var cerr *core.CompressionError
		if errors.As(err, &cerr) {
			os.Remove(job.Dest)
		}
		return err
	}

	in, err := os.Stat(src)
	if err != nil {
		return err
	}
	out, err := os.Stat(job.Dest)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "✓ %s → %s [%s] (%s → %s, %.2f%%)\n",
		name, filepath.Base(job.Dest), strategy.Name(),
		core.HumanizeBytes(in.Size()), core.HumanizeBytes(out.Size()),
		core.Ratio(in.Size(), out.Size()))
	return nil
}

// destination joins dir with stem+ext. When that is the source itself the
// stem gets a "_min" suffix.
func destination(src, dir, stem, ext string) (string, error) {
	dest := filepath.Join(dir, stem+ext)
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	if srcAbs == destAbs {
		dest = filepath.Join(dir, stem+"_min"+ext)
	}
	return dest, nil
}
