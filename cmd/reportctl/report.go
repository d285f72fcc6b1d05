package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/armorclaw/crashreport/pkg/capture"
)

var reportContext []string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report MESSAGE",
		Short: "Send a manual diagnostic event with the current logs",
		Long: `Send a diagnostic event for MESSAGE through the same pipeline captured
failures use, including the log upload.

Examples:
  # Report a problem seen by a user
  reportctl report "sync stalls after login" -d ~/addons21/myaddon

  # Attach extra context
  reportctl report "sync stalls" -c ticket=1234 -c user=alice`,
		Args: cobra.ExactArgs(1),
		RunE: runReport,
	}

	cmd.Flags().StringSliceVarP(&reportContext, "context", "c", []string{}, "Extra context as key=value")

	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	env, err := loadComponentEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if !env.gate.Enabled(env.store) {
		printError("Error reporting is disabled; run 'reportctl check' for details")
		return nil
	}

	extra := map[string]any{}
	for _, kv := range reportContext {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid context %q, expected key=value", kv)
		}
		extra[key] = value
	}

	exc := capture.New(errors.New(args[0]), capture.CaptureStack(0))

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*env.settings.Timeout())
	defer cancel()

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Suffix = " Reporting error..."
	s.Start()

	id := env.installer.Reporter().ReportAndUploadLogs(ctx, exc, map[string]map[string]any{"manual report": extra})
	flushErr := env.installer.Flush(ctx)
	s.Stop()

	if id == "" {
		printError("The event was not sent; see the component log")
		return nil
	}
	printSuccess(fmt.Sprintf("Event sent: %s", id))
	if flushErr != nil {
		printError(flushErr.Error())
	}
	return nil
}
