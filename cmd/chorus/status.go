package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitlock/chorus/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agents and recent requests",
	Long: `Show the orchestrator snapshot from a running "chorus serve"
gateway when one is reachable, otherwise the persisted state.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of recent requests to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := printLiveStatus(cfg.Gateway.ListenAddr, cfg.Gateway.AuthToken); err == nil {
		fmt.Println()
	} else {
		color.New(color.Faint).Println("Gateway not reachable; showing persisted state.")
	}

	db, err := openRoster()
	if err != nil {
		return err
	}
	defer db.Close()

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	dim := color.New(color.Faint)

	agents, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	active := 0
	for _, a := range agents {
		if a.State == models.AgentStateActive {
			active++
		}
	}
	bold.Println("Agents")
	fmt.Printf("  %d registered, %d active\n", len(agents), active)
	for _, a := range agents {
		if a.State == models.AgentStateError {
			red.Printf("  ✗ %s: %s\n", a.ID, a.LastError)
		}
	}

	requests, err := db.ListRecentRequests(statusLimit)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}

	fmt.Println()
	bold.Println("Recent requests")
	if len(requests) == 0 {
		fmt.Println("  none yet")
		return nil
	}
	for _, req := range requests {
		goal := req.Goal
		if len(goal) > 60 {
			goal = goal[:57] + "..."
		}

		var stateStr string
		switch req.State {
		case models.RequestStateCompleted:
			stateStr = green.Sprint(string(req.State))
		case models.RequestStateInProgress:
			stateStr = string(req.State)
		default:
			stateStr = red.Sprint(string(req.State))
		}

		fmt.Printf("  %-11s %s\n", stateStr, goal)
		detail := fmt.Sprintf("%d tasks", len(req.TaskIDs))
		if !req.FinishedAt.IsZero() {
			detail += ", finished " + req.FinishedAt.Local().Format(time.RFC3339)
		}
		dim.Printf("              %s\n", detail)
	}
	return nil
}

// printLiveStatus queries a running gateway's get_agent_status tool
// and the orchestrator status resource.
func printLiveStatus(listenAddr, authToken string) error {
	client := &http.Client{Timeout: 2 * time.Second}

	readText := func(method string, params any) (string, error) {
		body, err := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
		})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequest(http.MethodPost, "http://"+listenAddr+"/mcp", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("gateway returned %d", resp.StatusCode)
		}

		var envelope struct {
			Result struct {
				Contents []struct {
					Text string `json:"text"`
				} `json:"contents"`
			} `json:"result"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return "", err
		}
		if envelope.Error != nil {
			return "", fmt.Errorf("gateway error: %s", envelope.Error.Message)
		}
		if len(envelope.Result.Contents) != 1 {
			return "", fmt.Errorf("unexpected gateway response")
		}
		return envelope.Result.Contents[0].Text, nil
	}

	text, err := readText("resources/read", map[string]any{"uri": "ai://orchestrator/status"})
	if err != nil {
		return err
	}
	var st struct {
		Running        bool           `json:"running"`
		TaskQueue      map[string]int `json:"task_queue"`
		ActiveRequests int            `json:"active_requests"`
	}
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Println("Orchestrator (live)")
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Printf("  %s, %d active requests\n", state, st.ActiveRequests)
	for taskState, n := range st.TaskQueue {
		if n > 0 {
			fmt.Printf("  queue %s: %d\n", taskState, n)
		}
	}
	return nil
}
