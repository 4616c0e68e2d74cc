package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ringwire",
		Short:         "Framed TCP echo server and client",
		Long:          "ringwire serves and exercises a small framed messaging protocol over TCP.\nFrames carry a type, flags, a 16-bit length and a sequence number.",
		Version:       fmt.Sprintf("ringwire %s", version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newEchoCmd(),
		newConfigCmd(),
	)
	return cmd
}
