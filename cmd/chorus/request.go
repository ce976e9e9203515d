package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitlock/chorus/pkg/models"
)

var (
	requestContextJSON string
	requestMaxTasks    int
	requestSequential  bool
	requestJSONOutput  bool
)

var requestCmd = &cobra.Command{
	Use:   "request <goal>",
	Short: "Process a one-shot request",
	Long: `Decompose a free-text goal into tasks, execute them against the
registered agents, and print the aggregated result.

Examples:
  chorus request "create a lead for Acme Corp"
  chorus request "create a lead for Acme and check stock for widgets"
  chorus request --sequential "create an order then create an invoice"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().StringVar(&requestContextJSON, "context", "", "Request context as a JSON object")
	requestCmd.Flags().IntVar(&requestMaxTasks, "max-tasks", 0, "Cap the number of planned tasks (0 = no cap)")
	requestCmd.Flags().BoolVar(&requestSequential, "sequential", false, "Chain planned tasks so each depends on the previous one")
	requestCmd.Flags().BoolVar(&requestJSONOutput, "json", false, "Print the raw result as JSON")
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	goal := strings.Join(args, " ")

	var reqContext map[string]any
	if requestContextJSON != "" {
		if err := json.Unmarshal([]byte(requestContextJSON), &reqContext); err != nil {
			return fmt.Errorf("parse --context: %w", err)
		}
	}

	constraints := map[string]any{}
	if requestMaxTasks > 0 {
		constraints["max_tasks"] = requestMaxTasks
	}
	if requestSequential {
		constraints["sequential"] = true
	}

	eng, err := buildEngine(cfg, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	if err := eng.orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		eng.orch.Stop(stopCtx)
	}()

	result, err := eng.orch.ProcessRequest(ctx, goal, reqContext, constraints)
	if err != nil {
		return fmt.Errorf("process request: %w", err)
	}

	if requestJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(goal, result)
	return nil
}

func printResult(goal string, result *models.Result) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	dim := color.New(color.Faint)

	bold.Printf("Goal: ")
	fmt.Println(goal)

	switch result.State {
	case models.RequestStateUnroutable:
		red.Println("No agent can handle this request.")
		if len(result.Unmatched) > 0 {
			dim.Printf("Unmatched: %s\n", strings.Join(result.Unmatched, ", "))
		}
		return
	case models.RequestStateCompleted:
		green.Printf("Request %s completed\n", result.RequestID)
	default:
		red.Printf("Request %s %s\n", result.RequestID, result.State)
	}

	for i, task := range result.Tasks {
		if task.ErrKind == "" {
			green.Printf("  ✓ %d. %s", i+1, task.Capability)
			if task.AgentID != "" {
				dim.Printf(" (%s)", task.AgentID)
			}
			fmt.Println()
			if len(task.Output) > 0 {
				out, err := json.MarshalIndent(task.Output, "     ", "  ")
				if err == nil {
					fmt.Printf("     %s\n", out)
				}
			}
		} else {
			red.Printf("  ✗ %d. %s: %s", i+1, task.Capability, task.ErrKind)
			fmt.Println()
			if task.ErrDetail != "" {
				dim.Printf("     %s\n", task.ErrDetail)
			}
		}
	}

	dim.Printf("Finished in %s\n", result.Duration.Round(time.Millisecond))
}
