package cmd

import (
	"os"
	"sort"

	"lunchbox-backend/internal/scrapers/edupage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(weekCmd)
}

var weekCmd = &cobra.Command{
	Use:   "week [date]",
	Short: "Prints the meals of the week containing the date (default today).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) > 0 {
			value = args[0]
		}
		date, err := parseDate(value)
		if err != nil {
			return err
		}

		meals, err := app.Service.Week(cmd.Context(), userId, date)
		if err != nil {
			return err
		}

		days := make([]string, 0, len(meals))
		for day := range meals {
			days = append(days, day)
		}
		sort.Strings(days)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Date", "#", "Menu", "Ordered", "Change until"})

		for _, day := range days {
			record := meals[day]
			deadline := "?"
			if record.CanChangeUntil != nil {
				deadline = record.CanChangeUntil.Format("2006-01-02 15:04")
			}
			for _, option := range record.ListedOptions() {
				t.AppendRow(table.Row{day, option.Number, option.Name, orderedMark(record, option), deadline})
			}
			t.AppendSeparator()
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

func orderedMark(record edupage.MealRecord, option edupage.MenuOption) string {
	if record.IsOrdered(option) {
		return "*"
	}
	return ""
}
