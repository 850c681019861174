// File: cmd/ask.go
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/attach"
	"github.com/xkilldash9x/chatdriver-cli/internal/detect"
	"github.com/xkilldash9x/chatdriver-cli/internal/lock"
	"github.com/xkilldash9x/chatdriver-cli/internal/observability"
	"github.com/xkilldash9x/chatdriver-cli/internal/orchestrator"
)

// newAskCmd creates and configures the `ask` command.
func newAskCmd() *cobra.Command {
	var (
		prompt      string
		attachments []string
		timeout     time.Duration
		verbose     bool
		quiet       bool
	)

	askCmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Submits a prompt (with optional attachments) and prints the response",
		Args:  cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their corresponding Viper keys so command-line
			// flags correctly override the config file and environment.
			if err := viper.BindPFlag("chat.url", cmd.Flags().Lookup("url")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.keep_open", cmd.Flags().Lookup("keep-browser")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.remote_url", cmd.Flags().Lookup("remote-url")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-unmarshal so the flag overrides bound in PreRunE apply with
			// the right precedence.
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("failed to re-unmarshal config with flag overrides: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			for _, path := range attachments {
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("attachment %q is not readable: %w", path, err)
				}
			}

			text := prompt
			if text == "" {
				text = strings.Join(args, " ")
			}
			if text == "" {
				return fmt.Errorf("a prompt is required (positional or --prompt)")
			}

			opts := orchestrator.Options{
				Prompt:          text,
				Attachments:     attachments,
				ResponseTimeout: timeout,
				Verbose:         verbose,
			}
			if !quiet {
				opts.Sink = func(line string) { fmt.Fprintln(os.Stderr, line) }
			}

			runner := orchestrator.New(&cfg, logger)
			res, err := runner.Run(ctx, opts)
			if err != nil {
				return describeFailure(err)
			}

			logger.Info("Response received.",
				zap.String("conversation_id", res.ConversationID),
				zap.Duration("elapsed", res.Elapsed.Round(time.Second)))
			fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
			return nil
		},
	}

	askCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt text (alternative to positional arguments)")
	askCmd.Flags().StringSliceVarP(&attachments, "attach", "a", nil, "file(s) to attach before submitting")
	askCmd.Flags().String("url", "", "chat page URL (overrides chat.url)")
	askCmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "response wait budget (default from chat.response_timeout)")
	askCmd.Flags().Bool("headless", true, "run the browser headless")
	askCmd.Flags().Bool("keep-browser", false, "leave the browser running after the command exits")
	askCmd.Flags().String("remote-url", "", "attach to an already running browser over CDP instead of launching one")
	askCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "emit progress lines even when the page reports no status")
	askCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	return askCmd
}

// describeFailure prepends a human-readable hint to the well-known failure
// classes before they reach the user.
func describeFailure(err error) error {
	var lockErr *lock.TimeoutError
	if errors.As(err, &lockErr) {
		return fmt.Errorf("another run holds the browser lock (pid %d); wait for it or remove %s if it is dead: %w",
			lockErr.HolderPID, lockErr.Path, err)
	}
	var verifyErr *attach.VerificationError
	if errors.As(err, &verifyErr) {
		return fmt.Errorf("the page did not end up with the expected attachments: %w", err)
	}
	var completionErr *detect.TimeoutError
	if errors.As(err, &completionErr) {
		return fmt.Errorf("gave up waiting for the response; a diagnostic snapshot was captured: %w", err)
	}
	if orchestrator.IsConnectionLost(err) {
		return fmt.Errorf("the browser connection dropped; keep the browser window open until the run finishes: %w", err)
	}
	return err
}

func init() {
	rootCmd.AddCommand(newAskCmd())
}
