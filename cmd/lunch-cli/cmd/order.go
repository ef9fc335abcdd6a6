package cmd

import (
	"fmt"
	"strconv"

	"lunchbox-backend/internal/scrapers/edupage"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(cancelCmd)
}

func printAck(ack edupage.Ack) {
	if !ack.Confirmed {
		fmt.Printf("%s: sent %s, the provider didn't confirm it.\n", ack.Date, ack.Choice)
		return
	}
	fmt.Printf("%s: %s confirmed.\n", ack.Date, ack.Choice)
}

var orderCmd = &cobra.Command{
	Use:   "order <date> <option>",
	Short: "Orders the 1-based menu option on the date.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDate(args[0])
		if err != nil {
			return err
		}
		option, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("option must be a number: %w", err)
		}

		ack, err := app.Service.Order(cmd.Context(), userId, date, option)
		if err != nil {
			return err
		}
		printAck(ack)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <date>",
	Short: "Signs off the meal on the date.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDate(args[0])
		if err != nil {
			return err
		}
		ack, err := app.Service.Cancel(cmd.Context(), userId, date)
		if err != nil {
			return err
		}
		printAck(ack)
		return nil
	},
}
