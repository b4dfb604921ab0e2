// Package cli wires the meshbridge commands.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/agentmesh/meshbridge/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"                     _     _          _     _\n" +
		"  _ __ ___   ___ ___| |__ | |__  _ __(_) __| | __ _  ___\n" +
		" | '_ ` _ \\ / _ \\ __| '_ \\| '_ \\| '__| |/ _` |/ _` |/ _ \\\n" +
		" | | | | | |  __\\__ \\ | | | |_) | |  | | (_| | (_| |  __/\n" +
		" |_| |_| |_|\\___|___/_| |_|_.__/|_|  |_|\\__,_|\\__, |\\___|\n" +
		"                                              |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "meshbridge",
	Short: "meshbridge - agent-mesh dashboard bridge",
	Long:  color.CyanString(logo) + "\nA relay between an agent-mesh network and local dashboard clients.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
