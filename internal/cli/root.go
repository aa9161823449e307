// Package cli implements the squash command line tool.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// IOStreams holds the writers commands print to.
type IOStreams struct {
	Out    io.Writer
	ErrOut io.Writer
}

// NewRootCommand creates the `squash` command writing to stdout and stderr.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithStreams(IOStreams{Out: os.Stdout, ErrOut: os.Stderr})
}

// NewRootCommandWithStreams creates the `squash` command and its nested
// children.
func NewRootCommandWithStreams(streams IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "squash [command]",
		Version:       versionInfo(),
		Short:         "Compress files locally or through a squash server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(streams.Out)
	cmd.SetErr(streams.ErrOut)

	cmd.AddCommand(NewCompressCommand(NewCompressOptions(streams)))
	cmd.AddCommand(NewPushCommand(NewPushOptions(streams)))

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
