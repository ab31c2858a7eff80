/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crabbybot",
	Short: "Chat gateway that routes Telegram, Discord and terminal messages to one agent",
	Long: `crabbybot connects chat transports to a single LLM-backed agent through an
in-process message bus.

  crabbybot gateway          run the enabled transports until interrupted
  crabbybot agent [prompt]   chat from the terminal, or send one prompt`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
