package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "doc",
	Short: "versioned document sync tool",
	Example: `doc context keygen
doc context set -r ws://localhost:7447
doc create -d <doc-id> -c <content>
doc get -d <doc-id>
doc list
doc update -d <doc-id> -c <content>
doc delete -d <doc-id>
doc purge -d <doc-id>
doc history -d <doc-id>
doc sync --full
doc watch`,
}

var offline bool

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(contextCommand)
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "read the local event log without contacting the relay")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}
