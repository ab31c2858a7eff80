/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"crabbybot/pkg/channel"
	"crabbybot/pkg/channel/cli"
	"crabbybot/pkg/config"
	"crabbybot/pkg/gateway"
	"crabbybot/pkg/logger"

	"github.com/spf13/cobra"
)

var promptText string

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent [prompt]",
	Short: "Send a prompt or start an interactive chat",
	Long:  "Runs the message bus with the terminal as its only transport. With a prompt it prints the single reply and exits; without one it opens an interactive chat.",
	Run: func(cmd *cobra.Command, args []string) {
		prompt := resolvePrompt(args)

		loaded, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}
		cfg := terminalConfig(loaded)

		appLogger, closeLog, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer closeLog()
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.agent")

		adapter := cli.NewAdapter(prompt, cli.RuntimeInfo{
			Provider: cfg.Agents.Defaults.Provider,
			Model:    cfg.Agents.Defaults.Model,
		}, log)

		svc, err := gateway.NewService(cfg, []channel.Adapter{adapter}, log, gateway.WithoutStatusServer())
		if err != nil {
			fmt.Printf("failed to initialize agent: %v\n", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("agent failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// terminalConfig returns a copy of cfg for the terminal-only run: background
// producers are off and logs go to a file so they stay off the UI.
func terminalConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Heartbeat.Enabled = false
	out.Stream.URL = ""
	if strings.TrimSpace(out.Logging.File) == "" {
		out.Logging.File = defaultAgentLogFile()
	}

	return &out
}

func defaultAgentLogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, "crabbybot", "agent.log")
}
