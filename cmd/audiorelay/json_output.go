package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// addJSONFlag registers the shared --json switch on cmd.
func addJSONFlag(cmd *cobra.Command, target *bool, what string) {
	cmd.Flags().BoolVar(target, "json", false, "Emit "+what+" as JSON")
}

// writeJSON encodes v as indented JSON to the command's stdout. HTML escaping
// is off so audio URLs print with their query strings intact.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
