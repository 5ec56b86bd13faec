package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `# operon configuration. See SPEC_FULL.md §4.J for the full field reference.
version: 1

llm:
  default_provider: anthropic
  providers:
    anthropic:
      default_model: claude-sonnet-4-5
  fallback_chain: [anthropic]

tools:
  policy:
    enabled: true
    default_permission: read
    rate_limit_per_minute: 60
  execution:
    timeout: 30s
    max_parallel: 4
    max_iterations: 25
  hooks:
    enabled: false

server:
  host: 127.0.0.1
  port: 8080

session:
  default_agent_id: default
  max_messages: 200

logging:
  level: info
  format: json

audit:
  enabled: false
`

func buildInitCmd() *cobra.Command {
	var (
		outputPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long:  "Write a starter operon.yaml with a single Anthropic provider, the default tool-policy pipeline, and sane execution bounds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := outputPath
			if path == "" {
				path = defaultConfigPath
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists; pass --force to overwrite", path)
				}
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to write (default: operon.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
