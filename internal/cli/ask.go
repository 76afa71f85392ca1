package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/LluisCV99/jarvis/internal/daemon"
	"github.com/spf13/cobra"
)

var askVerbose bool

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one turn from the terminal",
	Long: `Run one turn from the terminal and print the final answer.
Without arguments the message is read from standard input. Slash commands
such as /models or /model work here too.`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "print call count, final state and recorded errors")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "You: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read message: %w", err)
		}
		message = strings.TrimSpace(line)
	}
	if message == "" {
		return fmt.Errorf("empty message")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := d.Ask(ctx, message)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.FinalText)

	if askVerbose {
		fmt.Fprintf(out, "\n[state=%s calls=%d/%d]\n", resp.State, resp.CallCount, cfg.Turn.MaxCalls)
		for _, e := range resp.Errors {
			fmt.Fprintf(out, "[error] %s\n", e)
		}
	}
	return nil
}
