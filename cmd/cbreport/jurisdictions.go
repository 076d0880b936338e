package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/custodybuddy/internal/legal"
)

var jurisdictionsCmd = &cobra.Command{
	Use:   "jurisdictions",
	Short: "List the recognized provinces and states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tCOUNTRY\tSTATUTES")
		for _, j := range legal.Jurisdictions() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", j.Key, j.Name, j.Country, len(j.Statutes))
		}
		return tw.Flush()
	},
}
