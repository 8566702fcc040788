package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"shopsavr-agent/internal/agent"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against the backend and print the result.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Browser.AutoStart = false

		log, closer, err := setupLogger(cfg.Server)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		a, err := agent.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, syncErr := a.SyncNow(cmd.Context())
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return syncErr
	},
}
