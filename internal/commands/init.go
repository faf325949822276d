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
		Short: "Initialize a new Gridshift project",
		Long:  "Creates project scaffolding with a starter gridshift.yaml.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0])
		},
	}
}

func runInit(projectName string) error {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Initializing Gridshift project: %s\n", projectName)

	if err := os.MkdirAll(projectName, 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	configPath := filepath.Join(projectName, "gridshift.yaml")
	configContent := `provider: dynamodb
dynamodb:
  tableName: gridshift
  region: us-east-1
  # endpoint: http://localhost:8000   # uncomment for DynamoDB Local
  retentionTtl: 168h
  createTable: true
server:
  addr: ":3000"
valve:
  maxPrice: 100.0
  retention: 168h
  cacheTtl: 60s
sentinel:
  dedupWindow: 15m
  rateLimitWindow: 10s
  rateLimitThreshold: 3
  monitorInterval: 60s
engine:
  active: cost-model
  fallback: rules
archiver:
  enabled: false
  interval: 5m
  dsn: postgres://localhost/gridshift
alerts:
  - type: console
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.Green("  ✓ Project scaffolded")
	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  gridshift serve")
	fmt.Println("  gridshift status")
	return nil
}
