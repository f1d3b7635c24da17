package cmd

import (
	"github.com/spf13/cobra"
	"github.com/stratastor/udevd/cmd/serve"
	"github.com/stratastor/udevd/cmd/version"
	"github.com/stratastor/udevd/cmd/worker"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "udevd",
		Short: "udevd: device event dispatch daemon",
	}

	rootCmd.AddCommand(serve.NewServeCmd())
	rootCmd.AddCommand(version.NewVersionCmd())
	rootCmd.AddCommand(worker.NewCmd())

	return rootCmd
}
