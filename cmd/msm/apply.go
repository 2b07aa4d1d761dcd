package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/manifest"
)

var applyCmd = &cobra.Command{
	Use:   "apply -f FILE",
	Short: "Apply a declarative manifest",
	Long: `Apply a declarative manifest.

A manifest is a YAML file of Server and Schedule documents. Apply is
idempotent: existing resources are patched where they differ and left
alone where they match, so the same file can run from a provisioning
script on every boot.

Example manifest:

  kind: Server
  metadata:
    name: survival
  spec:
    distro: paper
    version: 1.21.1
    port: 25565
    memory: 4G
  ---
  kind: Schedule
  metadata:
    server: survival
  spec:
    action: backup
    cron: "0 4 * * *"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		docs, err := manifest.Load(file)
		if err != nil {
			return err
		}
		results, err := manifest.Apply(cmd.Context(), apiClient(), docs)
		for _, r := range results {
			fmt.Printf("✓ %s %s: %s\n", r.Kind, r.Name, r.Outcome)
		}
		if err != nil {
			return fmt.Errorf("apply stopped: %w", err)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Manifest file to apply")
	_ = applyCmd.MarkFlagRequired("file")
}
