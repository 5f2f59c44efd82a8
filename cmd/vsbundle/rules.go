package main

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/videostream/vsbundle/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the module rewrite rules in application order",
	Run: func(cmd *cobra.Command, args []string) {
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"#", "Category", "Name", "Match"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(true)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetTablePadding("\t")
		table.SetNoWhiteSpace(true)

		for i, r := range rules.Default() {
			table.Append([]string{strconv.Itoa(i + 1), r.Category.String(), r.Name, r.Pattern})
		}
		table.Render()
	},
}
