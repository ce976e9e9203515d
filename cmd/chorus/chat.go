package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitlock/chorus/internal/chat"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agents interactively",
	Long: `Start an interactive conversation with the orchestrator.

Business requests are decomposed and executed; ask "help", "status",
or "agents" for information about the system. Turns are persisted so
"chat" picks up where you left off. Type "exit" or Ctrl+D to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "Conversation user name (default: OS user)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	userName := chatUser
	if userName == "" {
		if u, err := user.Current(); err == nil {
			userName = u.Username
		}
	}

	session, err := chat.NewSession(eng.orch, userName, chat.WithConversationStore(eng.db))
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	bold.Println("Chorus chat")
	dim.Println(`Ask for something ("create a lead for Acme") or type "help".`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		bold.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		reply, err := session.HandleMessage(ctx, line)
		if reply != "" {
			fmt.Println(reply)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
}
