package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

func init() {
	rootCmd.AddCommand(taskCmd)
}

var (
	taskTitle       string
	taskDescription string
	taskPriority    int
	taskRisk        string
	taskFiles       string
	taskWorkingDir  string
)

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new task",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskViewCmd = &cobra.Command{
	Use:   "view <task-id>",
	Short: "Show one task's detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskView,
}

var taskRunCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run (or retry) a task against a local working directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRun,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a queued or in-progress task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

func init() {
	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskAddCmd.Flags().IntVar(&taskPriority, "priority", 2, "Priority, 0 (highest) to 3 (lowest)")
	taskAddCmd.Flags().StringVar(&taskRisk, "risk", "low", "Risk level: low, medium, high")
	taskAddCmd.Flags().StringVar(&taskFiles, "files", "", "Comma-separated files hint")
	_ = taskAddCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskStatusFilter, "status", "", "Filter by status")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 50, "Max results")

	taskRunCmd.Flags().StringVar(&taskWorkingDir, "working-dir", "", "Working directory the runner should use (required)")
	_ = taskRunCmd.MarkFlagRequired("working-dir")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskViewCmd, taskRunCmd, taskCancelCmd)
}

var (
	taskStatusFilter string
	taskListLimit    int
)

func runTaskAdd(cmd *cobra.Command, args []string) error {
	var files []string
	if taskFiles != "" {
		files = strings.Split(taskFiles, ",")
	}
	t, err := client.CreateTask(cmd.Context(), createTaskBody{
		Title:       taskTitle,
		Description: taskDescription,
		Priority:    taskPriority,
		RiskLevel:   strings.ToLower(taskRisk),
		FilesHint:   files,
	})
	if err != nil {
		return err
	}
	return printTask(t)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	tasks, err := client.ListTasks(cmd.Context(), taskStatusFilter, taskListLimit)
	if err != nil {
		return err
	}
	return printTaskTable(tasks)
}

func runTaskView(cmd *cobra.Command, args []string) error {
	t, err := client.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printTask(t)
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	res, err := client.RunTask(cmd.Context(), args[0], taskWorkingDir)
	if err != nil {
		return err
	}
	return printClaimResult(res)
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	t, err := client.CancelTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printTask(t)
}

func printTask(t *models.Task) error {
	if outputFormat == "json" {
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%s %s\n", styleHeader.Render("ID:"), t.ID)
	fmt.Printf("%s %s\n", styleHeader.Render("Title:"), t.Title)
	fmt.Printf("%s %s\n", styleHeader.Render("Status:"), styleStatus(string(t.Status)))
	fmt.Printf("%s %d\n", styleHeader.Render("Priority:"), t.Priority)
	fmt.Printf("%s %s\n", styleHeader.Render("Risk:"), t.RiskLevel)
	if t.Description != "" {
		fmt.Printf("%s %s\n", styleHeader.Render("Description:"), t.Description)
	}
	if t.AssignedAgentID != nil {
		fmt.Printf("%s %s\n", styleHeader.Render("Agent:"), *t.AssignedAgentID)
	}
	fmt.Printf("%s %s\n", styleSubtle.Render("Created:"), t.CreatedAt.Format(time.RFC3339))
	return nil
}

func printTaskTable(tasks []*models.Task) error {
	if outputFormat == "json" {
		data, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tRISK")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Title, styleStatus(string(t.Status)), t.Priority, t.RiskLevel)
	}
	return w.Flush()
}

func printClaimResult(res *claimResult) error {
	if outputFormat == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	if res.Task == nil {
		fmt.Println("No task claimed.")
		return nil
	}
	if err := printTask(res.Task); err != nil {
		return err
	}
	if res.Agent != nil {
		fmt.Printf("%s %s\n", styleHeader.Render("Agent:"), res.Agent.ID)
	}
	return nil
}
