package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mwhitlock/chorus/internal/gateway"
	"github.com/mwhitlock/chorus/internal/version"
)

var (
	serveListenAddr string
	serveAuthToken  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator with the MCP gateway",
	Long: `Start the orchestration engine and expose it over the MCP gateway.

The gateway speaks JSON-RPC 2.0 over HTTP POST and serves the
process_request, execute_agent, and get_agent_status tools plus the
agent and orchestrator status resources.

Edits to agents.yaml in the state directory are picked up live.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Gateway listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveAuthToken, "auth-token", "", "Bearer token required on gateway calls (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Gateway.ListenAddr = serveListenAddr
	}
	if serveAuthToken != "" {
		cfg.Gateway.AuthToken = serveAuthToken
	}

	eng, err := buildEngine(cfg, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Subscribe before Start so the stream is drained from the first
	// event. The channel closes when Stop completes.
	events := eng.orch.Events()
	go func() {
		for ev := range events {
			eng.logger.Log("event %s: request=%s task=%s agent=%s %s",
				ev.Type, ev.RequestID, ev.TaskID, ev.AgentID, ev.Detail)
		}
	}()

	// The engine outlives the signal context: shutdown goes through
	// Stop below so in-flight requests drain first.
	if err := eng.orch.Start(context.Background()); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	srv, err := gateway.NewServer(gateway.Config{
		ListenAddr: cfg.Gateway.ListenAddr,
		AuthToken:  cfg.Gateway.AuthToken,
		Version:    version.Get(),
		Logger:     log.New(os.Stderr, "gateway: ", log.LstdFlags),
	}, eng.orch, eng.reg)
	if err != nil {
		return err
	}

	stopWatch, err := watchAgentsFile(ctx, eng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agents.yaml watch disabled: %v\n", err)
	} else {
		defer stopWatch()
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ %d agents loaded\n", eng.reg.Count())
	green.Printf("✓ MCP gateway listening on %s\n", cfg.Gateway.ListenAddr)
	fmt.Println("Press Ctrl+C to stop.")

	serveErr := srv.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := eng.orch.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator stop: %v\n", err)
	}
	return serveErr
}

// watchAgentsFile reloads the agent roster whenever agents.yaml
// changes on disk.
func watchAgentsFile(ctx context.Context, eng *engine) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(eng.agentsPath); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Editors often fire several events per save.
				time.Sleep(100 * time.Millisecond)
				if err := eng.reloadRoster(); err != nil {
					fmt.Fprintf(os.Stderr, "reload agents.yaml: %v\n", err)
					continue
				}
				fmt.Printf("agents.yaml reloaded, %d agents registered\n", eng.reg.Count())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "agents.yaml watch: %v\n", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
