package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the calagent application
var rootCmd = &cobra.Command{
	Use:   "calagent",
	Short: "Natural-language calendar agent for Google and Microsoft calendars",
	Long: `calagent turns instructions like "move my 2pm to tomorrow" into
operations on a connected Google or Microsoft calendar and streams the
progress back to the caller as Server-Sent Events.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	rootCmd.SetVersionTemplate(`{{printf "calagent version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCredentialsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
