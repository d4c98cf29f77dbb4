package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/G-Research/conduit/internal/common"
	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/conduit"
)

func checkDbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-db",
		Short: "Runs a request through the configured database client and prints the server version",
		RunE:  checkDb,
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "Time allowed for connecting and running the request")
	return cmd
}

func checkDb(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	common.ConfigureCommandLineLogging()

	ctx, cancel := conduitcontext.WithTimeout(conduitcontext.Background(), timeout)
	defer cancel()
	client, err := conduit.OpenClient(ctx, config)
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := conduit.FetchServerInfo(ctx, client)
	if err != nil {
		return err
	}
	ctx.Log.Infof("Connected to %s (%s mode)", config.Postgres.Describe(), client.Mode())
	ctx.Log.Infof("Database %s at %s", info.Database, info.Time.Format(time.RFC3339))
	ctx.Log.Info(info.Version)
	return nil
}
