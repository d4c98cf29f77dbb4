package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/conduit/internal/common"
	commonconfig "github.com/G-Research/conduit/internal/common/config"
	"github.com/G-Research/conduit/internal/common/logging"
	"github.com/G-Research/conduit/internal/conduit/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/conduit"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "conduit",
		SilenceUsage: true,
		Short:        "Pushes database backed events to WebSocket clients",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")

	cmd.AddCommand(
		runCmd(),
		checkDbCmd(),
	)

	return cmd
}

func loadConfig(cmd *cobra.Command) (configuration.Configuration, error) {
	var config configuration.Configuration
	userSpecifiedConfigs, err := cmd.Flags().GetStringSlice(CustomConfigLocation)
	if err != nil {
		return config, err
	}

	common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs)

	err = commonconfig.Validate(config)
	if err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	if err := config.Postgres.Validate(); err != nil {
		return config, err
	}
	return config, logging.Configure(config.Logging)
}
