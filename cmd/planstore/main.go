package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"planstore/internal/app"
	"planstore/internal/config"
	"planstore/internal/eventlog"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "PostsAdd", "DocRepair").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	// Short-lived commands gain nothing from watching the data directory.
	cfg.Documents.Watch = operation == "Watch"

	actor, _ := cmd.Flags().GetString("actor")
	a, err := app.NewApp(cfg, app.NewOperation(operation, actor))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

// audit records a mutation in the event log. A failed append is reported
// but does not fail the command, whose change is already durable.
func audit(ctx context.Context, a *app.App, action, subject string, details map[string]any) {
	if _, err := a.AppendLog(ctx, eventlog.Entry{Action: action, Subject: subject, Details: details}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: writing event log: %v\n", err)
	}
}

// readPassword prompts on stderr and reads a password without echo when
// stdin is a terminal, or one line otherwise.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newPassword prompts twice and requires both entries to match.
func newPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return readPassword("Password: ")
	}
	first, err := readPassword("Password: ")
	if err != nil {
		return "", err
	}
	second, err := readPassword("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

var rootCmd = &cobra.Command{
	Use:          "planstore",
	Short:        "Durable document store for the content planner",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if enc, _ := cmd.Flags().GetString("encryption"); enc != "" {
			cfg.Sessions.Encryption.Type = enc
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Printf("Data Dir: %s\n", cfg.Documents.DataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Data Dir:       %s\n", cfg.Documents.DataDir)
		fmt.Printf("Strict Locking: %v\n", cfg.Documents.StrictLocking)
		fmt.Printf("Event Log:      %s\n", cfg.EventLog.Path)
		fmt.Printf("Log Index:      %s\n", cfg.LogIndex.Type)
		fmt.Printf("Sessions:       %s (ttl %s, encryption %s)\n",
			cfg.Sessions.Path, cfg.Sessions.TTL.Duration, cfg.Sessions.Encryption.Type)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("actor", "", "Name recorded in the event log (default: current OS user)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("encryption", "", `Session mirror encryption: "none" or "age"`)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(postsCmd)
	rootCmd.AddCommand(listsCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(watchCmd)
}
