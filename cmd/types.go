package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"firestige.xyz/argus/internal/bc"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the known camera message types",
	Long: `Print the catalog of known Baichuan message type IDs and their names.
Decoded records carry these names; types missing from the catalog are
labeled "unknown".`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"ID", "Name"})
		tw.SetBorder(true)
		tw.SetAutoWrapText(false)

		for _, entry := range bc.MessageTypes() {
			tw.Append([]string{fmt.Sprintf("%d", entry.ID), entry.Name})
		}
		tw.Render()
	},
}
