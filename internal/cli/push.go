package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"squash/internal/core"
)

// PushOptions defines the options for the `push` command.
type PushOptions struct {
	IOStreams

	Server  string
	SaveDir string
	Timeout time.Duration
	Retries int

	paths  []string
	client *Client
}

// pushResult is the subset of the server's compress response the CLI prints.
type pushResult struct {
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio_percent"`
	DownloadID       string  `json:"download_id"`
	DownloadURL      string  `json:"download_url"`
	DownloadFilename string  `json:"download_filename"`
	Strategy         string  `json:"strategy"`
	Fallback         bool    `json:"fallback"`
}

// NewPushOptions provides an initialised PushOptions instance.
func NewPushOptions(streams IOStreams) *PushOptions {
	return &PushOptions{IOStreams: streams}
}

// NewPushCommand creates the `push` command.
func NewPushCommand(o *PushOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push FILE...",
		Short: "Compress files on a squash server",
		Example: `  # Upload and print the download link
  squash push --server http://localhost:8080 report.pdf

  # Upload and fetch the result into ./out
  squash push --save out photo.png`,
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

	cmd.Flags().StringVarP(&o.Server, "server", "s", "http://localhost:8080", "Base URL of the squash server")
	cmd.Flags().StringVar(&o.SaveDir, "save", "", "Download each result into this directory")
	defaults := DefaultClientConfig()
	cmd.Flags().DurationVar(&o.Timeout, "timeout", defaults.Timeout, "Per-request timeout")
	cmd.Flags().IntVar(&o.Retries, "retries", defaults.MaxRetries, "Retries for network errors and busy servers")

	return cmd
}

func (o *PushOptions) Complete(cmd *cobra.Command, args []string) error {
	paths, err := core.ParseArgs(args)
	if err != nil {
		return err
	}
	o.paths = paths
	o.Server = strings.TrimRight(o.Server, "/")
	if o.client == nil {
		cfg := DefaultClientConfig()
		cfg.Timeout = o.Timeout
		cfg.MaxRetries = o.Retries
		o.client = NewClient(cfg, slog.New(slog.NewTextHandler(o.ErrOut, nil)))
	}
	return nil
}

func (o *PushOptions) Validate() error {
	if o.Retries < 0 {
		return fmt.Errorf("--retries must not be negative, got %d", o.Retries)
	}
	if !strings.HasPrefix(o.Server, "http://") && !strings.HasPrefix(o.Server, "https://") {
		return fmt.Errorf("--server must be an http(s) URL, got %q", o.Server)
	}
	if o.SaveDir != "" {
		if err := os.MkdirAll(o.SaveDir, 0755); err != nil {
			return fmt.Errorf("failed to create save directory: %w", err)
		}
	}
	return nil
}

func (o *PushOptions) Run(ctx context.Context) error {
	var failed int
	for _, p := range o.paths {
		if err := o.pushFile(ctx, p); err != nil {
			fmt.Fprintf(o.ErrOut, "✗ %s: %v\n", filepath.Base(p), err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(o.paths))
	}
	return nil
}

func (o *PushOptions) pushFile(ctx context.Context, path string) error {
	res, err := o.upload(ctx, path)
	if err != nil {
		return err
	}

	note := ""
	if res.Fallback {
		note = ", fallback"
	}
	fmt.Fprintf(o.Out, "✓ %s → %s [%s%s] (%s → %s, %.2f%%)\n",
		filepath.Base(path), res.DownloadFilename, res.Strategy, note,
		core.HumanizeBytes(res.OriginalSize), core.HumanizeBytes(res.CompressedSize),
		res.CompressionRatio)

	if o.SaveDir == "" {
		fmt.Fprintf(o.Out, "  %s\n", o.downloadURL(res))
		return nil
	}

	dest := filepath.Join(o.SaveDir, filepath.Base(res.DownloadFilename))
	if err := o.download(ctx, o.downloadURL(res), dest); err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "  saved %s\n", dest)
	return nil
}

// downloadURL prefers the server-advertised URL and falls back to --server
// when the server has no BASE_URL configured.
func (o *PushOptions) downloadURL(res *pushResult) string {
	if strings.HasPrefix(res.DownloadURL, "http://") || strings.HasPrefix(res.DownloadURL, "https://") {
		return res.DownloadURL
	}
	return o.Server + "/download/" + res.DownloadID
}

func (o *PushOptions) upload(ctx context.Context, path string) (*pushResult, error) {
	resp, err := o.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return newUploadRequest(ctx, o.Server+"/compress", path)
	})
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	var res pushResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("invalid server response: %w", err)
	}
	return &res, nil
}

// newUploadRequest streams path as the multipart "file" field. The file is
// closed once the body has been written or abandoned.
func newUploadRequest(ctx context.Context, url, path string) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (o *PushOptions) download(ctx context.Context, url, dest string) error {
	resp, err := o.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("download failed: %w", err)
	}
	return out.Close()
}

func serverError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		if body.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
		}
		if body.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Message)
		}
	}
	return errors.New("server returned " + resp.Status)
}
