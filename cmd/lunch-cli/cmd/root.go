package cmd

import (
	"fmt"
	"os"
	"time"

	"lunchbox-backend/internal/application"
	"lunchbox-backend/internal/components/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	userId     string
	verbose    bool
)

var app *application.Application

var rootCmd = &cobra.Command{
	Use:   "lunch-cli",
	Short: "lunch-cli orders and cancels school lunches on edupage from the terminal.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		cfg, err := application.ReadConfig(configPath)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		app, err = application.New(cmd.Context(), cfg, telemetry.SlogAPI{})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		return app.Close()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&userId, "user", "u", "default", "local name the session is stored under")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseDate accepts YYYY-MM-DD, "today" and "tomorrow".
func parseDate(value string) (time.Time, error) {
	now := app.Time.Now()
	switch value {
	case "", "today":
		return now, nil
	case "tomorrow":
		return now.AddDate(0, 0, 1), nil
	}
	return time.ParseInLocation("2006-01-02", value, app.Time.Location())
}
