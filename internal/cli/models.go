package cli

import (
	"fmt"

	"github.com/LluisCV99/jarvis/pkg/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Administer the model selection store",
	Long:  `Show, back up and restore the per-agent model selection store (conf.json).`,
}

var modelsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active model of every agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printActiveModels(cmd, cfg.Models.Path)
	},
}

var modelsBackupCmd = &cobra.Command{
	Use:   "backup [path]",
	Short: "Write a backup of the store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		written, err := store.Backup(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", written)
		return nil
	},
}

var modelsRestoreCmd = &cobra.Command{
	Use:   "restore [path]",
	Short: "Restore the store from a backup",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		path := store.DefaultBackupPath()
		if len(args) == 1 {
			path = args[0]
		}
		if err := store.Restore(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", store.Path(), path)
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsStatusCmd, modelsBackupCmd, modelsRestoreCmd)
	rootCmd.AddCommand(modelsCmd)
}

func openStore() (*models.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return models.Open(cfg.Models.Path, zerolog.Nop())
}

func printActiveModels(cmd *cobra.Command, path string) error {
	store, err := models.Open(path, zerolog.Nop())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, agent := range store.Agents() {
		active, err := store.Active(agent)
		if err != nil {
			return err
		}
		def, _ := store.Default(agent)
		fmt.Fprintf(out, "%s: %s (default %s)\n", agent, active, def)
	}
	return nil
}
