package cmd

import (
	"fmt"
	"os"

	"lunchbox-backend/internal/scrapers/edupage"

	"github.com/spf13/cobra"
)

func init() {
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "edupage username")
	loginCmd.Flags().StringVar(&loginSubdomain, "subdomain", edupage.PlaceholderSubdomain, "school subdomain, resolved automatically when left out")
	loginCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(pingCmd)
}

var (
	loginUsername  string
	loginSubdomain string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Logs in and stores the session, the password is read from LUNCHBOX_PASSWORD.",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, ok := os.LookupEnv("LUNCHBOX_PASSWORD")
		if !ok {
			return fmt.Errorf("LUNCHBOX_PASSWORD is not set")
		}
		err := app.Service.Login(cmd.Context(), userId, loginUsername, password, loginSubdomain)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s.\n", loginUsername)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forgets the stored session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Service.Logout(cmd.Context(), userId)
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Checks whether the stored session is still valid.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := app.Service.Ping(cmd.Context(), userId)
		if err != nil {
			return err
		}
		fmt.Println("Session is valid.")
		return nil
	},
}
