package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitlock/chorus/internal/config"
	"github.com/mwhitlock/chorus/internal/store"
	"github.com/mwhitlock/chorus/pkg/models"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the agent roster",
	RunE:  runAgentsList,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE:  runAgentsList,
}

var agentsActivateCmd = &cobra.Command{
	Use:   "activate <agent-id>",
	Short: "Activate an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAgentState(args[0], models.AgentStateActive)
	},
}

var agentsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <agent-id>",
	Short: "Deactivate an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAgentState(args[0], models.AgentStateInactive)
	},
}

var agentsResetCmd = &cobra.Command{
	Use:   "reset <agent-id>",
	Short: "Clear an agent's error state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAgentState(args[0], models.AgentStateInactive)
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsActivateCmd)
	agentsCmd.AddCommand(agentsDeactivateCmd)
	agentsCmd.AddCommand(agentsResetCmd)
}

// openRoster opens the store and makes sure the roster has been
// bootstrapped into it at least once.
func openRoster() (*store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := store.Open(store.DefaultDBPath(cfg.Store.StateDir))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	agentsPath := config.AgentsPath(cfg.Store.StateDir)
	if _, err := config.EnsureAgentsFile(agentsPath); err != nil {
		db.Close()
		return nil, err
	}
	defs, err := config.LoadAgents(agentsPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, a := range defs {
		stored, err := db.GetAgent(a.ID)
		if err != nil {
			db.Close()
			return nil, err
		}
		if stored != nil {
			continue
		}
		if err := db.SaveAgent(a); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	db, err := openRoster()
	if err != nil {
		return err
	}
	defer db.Close()

	agents, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	dim := color.New(color.Faint)

	for _, a := range agents {
		marker := dim.Sprint("●")
		switch a.State {
		case models.AgentStateActive:
			marker = green.Sprint("●")
		case models.AgentStateError:
			marker = red.Sprint("●")
		}
		fmt.Printf("%s %-18s %-10s %-8s %s\n",
			marker, a.ID, a.Type, a.State, strings.Join(a.Capabilities, ", "))
		if a.LastError != "" {
			dim.Printf("  last error: %s\n", a.LastError)
		}
	}
	return nil
}

func setAgentState(agentID string, next models.AgentState) error {
	db, err := openRoster()
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := db.GetAgent(agentID)
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}
	if a == nil {
		return fmt.Errorf("agent %q not found", agentID)
	}
	if a.State == next {
		fmt.Printf("%s is already %s\n", agentID, next)
		return nil
	}
	if !a.State.CanTransitionTo(next) {
		return fmt.Errorf("agent %s cannot go from %s to %s", agentID, a.State, next)
	}

	if err := db.UpdateAgentState(agentID, next, ""); err != nil {
		return fmt.Errorf("update agent state: %w", err)
	}
	fmt.Printf("%s is now %s\n", agentID, next)
	return nil
}
