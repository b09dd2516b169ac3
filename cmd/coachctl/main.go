package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coachctl",
	Short: "Operator tool for the coach21 backend",
	Long: `coachctl works directly against the coach21 database.

It reads the same environment as the server (DB_TYPE, DB_PATH, DATABASE_URL,
PROGRAM_TZ, UNLOCK_MODE, ...), including a .env file in the working directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd, resetCmd, adminCmd)
	adminCmd.AddCommand(adminCreateCmd, adminListCmd, adminSetPasswordCmd, adminLinkLineCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
