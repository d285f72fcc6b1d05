package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/armorclaw/crashreport/pkg/gate"
)

var checkJSON bool

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Explain whether error reporting is currently enabled",
		Long: `Evaluate the reporting gate for the component and show each condition:
the telemetry SDK version floor, the report_errors opt-in and the
REPORT_ERRORS environment override.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}

	cmd.Flags().BoolVar(&checkJSON, "json", false, "Print the decision as JSON")

	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	env, err := loadComponentEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	decision := env.gate.Explain(env.store)

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(decision)
	}

	printHeader(env.consts.Name, env.consts.Version)
	printCondition("telemetry SDK", decision.SDKSupported,
		fmt.Sprintf("%s (minimum %s)", decision.SDKVersion, decision.MinSDKVersion))
	printCondition("opted in", decision.OptedIn, "report_errors in component config")
	printCondition("environment", !decision.EnvDisabled,
		fmt.Sprintf("%s=%s disables reporting", gate.EnvOverride, gate.DisableValue))
	fmt.Println()

	if decision.Enabled {
		printSuccess("Error reporting is enabled")
	} else {
		printError("Error reporting is disabled")
	}
	return nil
}
