package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/conduit/internal/conduit"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the conduit server",
		RunE:  runConduit,
	}
	return cmd
}

func runConduit(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return conduit.Run(config)
}
