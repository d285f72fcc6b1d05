package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/armorclaw/crashreport/pkg/report"
)

var assumeYes bool

func newUploadLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload-logs",
		Short: "Upload the component log file for a support request",
		Long: `Upload the current component log file and print the file name to share
through one of the component's support channels. A failed upload is reported
when error reporting is enabled.`,
		Args: cobra.NoArgs,
		RunE: runUploadLogs,
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func runUploadLogs(cmd *cobra.Command, args []string) error {
	env, err := loadComponentEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if !assumeYes && term.IsTerminal(int(os.Stdin.Fd())) {
		confirmed := false
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Upload the %s log file?", env.consts.Name)).
			Description("The file may contain paths and settings from this machine.").
			Affirmative("Upload").
			Negative("Cancel").
			Value(&confirmed)
		if err := prompt.Run(); err != nil {
			return err
		}
		if !confirmed {
			printError("Upload cancelled")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*env.settings.Timeout())
	defer cancel()

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Suffix = " Uploading logs..."
	s.Start()

	art, err := env.installer.UploadLogs(ctx)
	s.Stop()

	switch {
	case errors.Is(err, report.ErrNoLogs):
		printError("No log file found")
		return nil
	case err != nil:
		printError("Failed to upload logs")
		_ = env.installer.Flush(ctx)
		return err
	}

	printSuccess(fmt.Sprintf("Logs uploaded to file %s", art.Filename))
	fmt.Printf("URL: %s\n", art.URL)

	if len(env.consts.SupportChannels) > 0 {
		fmt.Println()
		fmt.Println("Please share the file name using one of the following support channels:")
		labels := make([]string, 0, len(env.consts.SupportChannels))
		for label := range env.consts.SupportChannels {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			printChannel(label, env.consts.SupportChannels[label])
		}
	}
	return nil
}
