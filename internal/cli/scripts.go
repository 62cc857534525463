package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/storeload/internal/scenarios"
)

func newScriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List the available scripts and their user types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listScripts(cmd.OutOrStdout())
		},
	}
}

func listScripts(w io.Writer) error {
	for _, name := range scenarios.Names() {
		script, err := scenarios.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n  %s\n\n", script.Name, script.Description)

		// nil factory: only the definitions are inspected
		userTypes := script.UserTypes(nil)
		totalWeight := 0
		for _, ut := range userTypes {
			totalWeight += ut.Weight
		}

		table := tablewriter.NewWriter(w)
		table.Header("User Type", "Weight", "Share", "On Start", "Tasks")
		for _, ut := range userTypes {
			tasks := make([]string, 0, len(ut.Tasks))
			for _, t := range ut.Tasks {
				tasks = append(tasks, t.Name)
			}
			onStart := "-"
			if ut.OnStart != nil {
				onStart = "yes"
			}
			_ = table.Append(
				ut.Name,
				strconv.Itoa(ut.Weight),
				fmt.Sprintf("%.1f%%", float64(ut.Weight)*100/float64(max(totalWeight, 1))),
				onStart,
				strings.Join(tasks, ", "),
			)
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}
