// Package main is the entry point for the quotameter TUI. It loads
// configuration, starts the background prober, and runs the Bubble Tea
// program.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/quotameter/internal/app"
	"github.com/j-veylop/quotameter/internal/config"
	"github.com/j-veylop/quotameter/internal/services"
	"github.com/j-veylop/quotameter/internal/version"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Handle help flag
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		printUsage()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run contains the main application logic, separated for cleaner error handling.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Starts the poll loop and credential watchers in the background.
	mgr, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", closeErr)
		}
	}()

	model := app.NewModel(mgr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	go func() {
		<-sigChan
		p.Send(tea.Quit())
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}

// printUsage prints the command-line usage information.
func printUsage() {
	fmt.Println(`quotameter - AI coding subscription quota monitor

Usage:
  quotameter [flags]

Flags:
  -h, --help      Show this help message
  -v, --version   Show version information

Keyboard Shortcuts:
  r               Probe all providers now
  q, Ctrl+C       Quit

Environment Variables:
  DATABASE_PATH             SQLite database path
  POLL_INTERVAL             Probe interval (default: 5m, min: 30s)
  CLAUDE_CREDENTIALS_PATH   Claude Code credentials file
  CODEX_AUTH_PATH           Codex auth.json file
  ZAI_CREDENTIALS_PATH      Z.ai credentials file
  NOTIFICATIONS_ENABLED     Desktop threshold alerts (default: true)

Configuration:
  The application looks for .env files in the following locations:
  - Current directory
  - ~/.config/quotameter/.env
  - ~/.quotameter/.env

For more information, visit: https://github.com/j-veylop/quotameter`)
}
