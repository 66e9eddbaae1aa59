package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new opsrelay project",
		Long:  "Creates project scaffolding with a starter opsrelay.yaml.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0])
		},
	}
}

func runInit(projectName string) error {
	bold := color.New(color.Bold)

	_, _ = bold.Printf("Initializing opsrelay project: %s\n", projectName)

	if err := os.MkdirAll(projectName, 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	configPath := filepath.Join(projectName, "opsrelay.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	configContent := `forge:
  baseUrl: https://api.github.com
  owner: your-org
  repo: your-repo
  # Inline tokens rotate round-robin; prefer tokensSecret in production.
  tokens: []
  # tokensSecret: opsrelay/forge-tokens
  breaker: true

retry:
  maxRetries: 3
  baseDelay: 2s
  maxDelay: 60s

poll:
  interval: 4s
  lookback: 5m
  grace: 2s
  timeoutSeconds: 180

server:
  addr: ":3000"
  # apiKey: change-me

store:
  provider: memory
  # provider: redis
  # redis:
  #   addr: localhost:6379
  #   keyPrefix: "opsrelay:"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.Green("  ✓ Project scaffolded")

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  edit opsrelay.yaml with your forge owner, repo, and tokens")
	fmt.Println("  opsrelay dispatch <workflow> --ref main")
	fmt.Println("  opsrelay serve")
	return nil
}
