// Package cli provides the command-line interface for memcord.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/memcord/memcord/internal/client"
	"github.com/memcord/memcord/internal/model"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	token     string
	agentID   string

	api *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "memcord",
	Short: "Agent memory over a vector index and a property graph",
	Long: `Memcord stores agent memories in two coordinated stores: a vector
index for semantic search and a property graph for relationships and
history. This CLI talks to a running memcord server.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = client.New(serverURL, token)
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $MEMCORD_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default $MEMCORD_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&agentID, "agent", "a", model.DefaultAgentID, "agent id of the owner scope")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(historyCmd)
}
