package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	infraconfig "github.com/hmiyata/weave/internal/infra/config"
)

const defaultCatalogYAML = `units:
  - id: write-code
    description: Implement the change described by the work item
    verification: build-and-test
  - id: write-tests
    description: Add test coverage for the change
    verification: build-and-test
  - id: update-docs
    description: Update documentation touched by the change

templates:
  - id: feature-basic
    name: Basic feature workflow
    phases:
      - name: implement
        class: implement
        units:
          - id: write-code
            required: true
          - id: write-tests
            required: true
        verification: build-and-test
      - name: document
        class: document
        units:
          - id: update-docs
            required: false
      - name: review
        class: review
        units: []
        gate:
          id: review-gate
          type: human
          required: true
      - name: ship
        class: ship
        units: []

hooks:
  - id: build-and-test
    command: make test
`

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the .weave directory, settings, and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := baseDir()

			dirs := []string{
				home,
				filepath.Join(home, "catalog"),
				filepath.Join(home, "workspaces"),
				filepath.Join(home, "var"),
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			created := 0
			settingPath := filepath.Join(home, "setting.json")
			if _, err := os.Stat(settingPath); os.IsNotExist(err) {
				if err := os.WriteFile(settingPath, infraconfig.CreateDefaultSettings(), 0644); err != nil {
					return fmt.Errorf("write %s: %w", settingPath, err)
				}
				created++
			}

			catalogPath := filepath.Join(home, "catalog", "default.yaml")
			if _, err := os.Stat(catalogPath); os.IsNotExist(err) {
				if err := os.WriteFile(catalogPath, []byte(defaultCatalogYAML), 0644); err != nil {
					return fmt.Errorf("write %s: %w", catalogPath, err)
				}
				created++
			}

			if created == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already initialized\n", home)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", home)
			}
			return nil
		},
	}
}
