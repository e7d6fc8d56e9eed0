package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memcord/memcord/internal/coordinator"
	"github.com/memcord/memcord/internal/model"
)

var (
	addImportance float64
	addLevel      int
	addMetadata   map[string]string
)

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a new memory",
	Long: `Store a new memory under the calling user's scope.

Examples:
  memcord add "prefers dark mode in all editors"
  memcord add "deploys happen on fridays" --importance 0.9 --meta topic=ops`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().Float64VarP(&addImportance, "importance", "i", 0.5, "importance in [0,1]")
	addCmd.Flags().IntVar(&addLevel, "level", 0, "memory level")
	addCmd.Flags().StringToStringVarP(&addMetadata, "meta", "m", nil, "metadata key=value pairs")
}

func runAdd(cmd *cobra.Command, args []string) error {
	in := coordinator.AddInput{
		Content:    args[0],
		Scope:      model.OwnerScope{AgentID: agentID},
		Importance: addImportance,
		Level:      addLevel,
	}
	if len(addMetadata) > 0 {
		in.Metadata = make(map[string]any, len(addMetadata))
		for k, v := range addMetadata {
			in.Metadata[k] = v
		}
	}

	mem, err := api.Add(context.Background(), in)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}

	fmt.Printf("Created %s\n", mem.ID)
	return nil
}
