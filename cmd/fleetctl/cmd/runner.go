package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Manage runner sessions",
}

var (
	runnerName       string
	runnerWorkingDir string
	runnerToken      string
)

var runnerRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new runner session",
	RunE:  runRunnerRegister,
}

var runnerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a runner session's available task count",
	RunE:  runRunnerStatus,
}

// runnerStartCmd registers a session and performs a single claim attempt,
// printing what was claimed. It does not execute an Agent Runner Loop — a
// runner process embeds pkg/runner and pkg/agent directly for that; this
// is the operator's view into the same protocol.
var runnerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Register and attempt one claim",
	RunE:  runRunnerStart,
}

func init() {
	runnerRegisterCmd.Flags().StringVar(&runnerName, "name", "", "Runner name (required)")
	runnerRegisterCmd.Flags().StringVar(&runnerWorkingDir, "working-dir", "", "Runner working directory (required)")
	_ = runnerRegisterCmd.MarkFlagRequired("name")
	_ = runnerRegisterCmd.MarkFlagRequired("working-dir")

	runnerStatusCmd.Flags().StringVar(&runnerToken, "token", "", "Runner session token (required)")
	_ = runnerStatusCmd.MarkFlagRequired("token")

	runnerStartCmd.Flags().StringVar(&runnerName, "name", "", "Runner name (required)")
	runnerStartCmd.Flags().StringVar(&runnerWorkingDir, "working-dir", "", "Runner working directory (required)")
	_ = runnerStartCmd.MarkFlagRequired("name")
	_ = runnerStartCmd.MarkFlagRequired("working-dir")

	runnerCmd.AddCommand(runnerRegisterCmd, runnerStatusCmd, runnerStartCmd)
	rootCmd.AddCommand(runnerCmd)
}

func runRunnerRegister(cmd *cobra.Command, args []string) error {
	res, err := client.RegisterRunner(cmd.Context(), runnerName, runnerWorkingDir)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("%s %s\n", styleHeader.Render("Session ID:"), res.Session.ID)
	fmt.Printf("%s %s\n", styleHeader.Render("Token:"), res.Session.Token)
	return nil
}

func runRunnerStatus(cmd *cobra.Command, args []string) error {
	res, err := client.RunnerStatus(cmd.Context(), runnerToken)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("%s %d\n", styleHeader.Render("Available tasks:"), res.AvailableTasks.Count)
	return nil
}

func runRunnerStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	session, err := client.RegisterRunner(ctx, runnerName, runnerWorkingDir)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", styleHeader.Render("Registered session:"), session.Session.ID)

	claim, err := client.ClaimTask(ctx, session.Session.Token, runnerWorkingDir)
	if err != nil {
		return err
	}
	return printClaimResult(claim)
}
