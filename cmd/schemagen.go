package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"medcoder/pkg/orchestrator/agents"
)

var schemaGenCmd = &cobra.Command{
	Use:   "schema-gen",
	Short: "Print the JSON schemas of every structured model call",
	Long: `Dumps the response schemas the agents embed in their prompts, one per
model call, so prompt changes can be diffed against the wire contract.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := agents.SchemaCatalog()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(catalog))
		for name := range catalog {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "=== %s ===\n%s\n\n", name, catalog[name])
		}
		return nil
	},
}
