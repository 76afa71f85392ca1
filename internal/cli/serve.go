package cli

import (
	"fmt"
	"path/filepath"

	"github.com/LluisCV99/jarvis/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the Jarvis chat server",
	Long: `Start the Jarvis chat server in the foreground.
It serves the chat page, POST /chat, the /ws websocket, /health and /metrics
until it receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := filepath.Join(cfg.DataDir, "jarvis.pid")
	if isRunning(pidFile) {
		return fmt.Errorf("jarvis is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cmd, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		d.Close()
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Jarvis is listening on http://%s\n", cfg.Server.Address())

	return d.Wait()
}
