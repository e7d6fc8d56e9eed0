package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memcord/memcord/internal/relation"
)

var linkWeight float64

var linkCmd = &cobra.Command{
	Use:   "link <source-id> <target-id> <type>",
	Short: "Create a relationship between two memories",
	Long: `Create a typed, weighted relationship between two memories owned by
the same scope.

Examples:
  memcord link 4f0c... 9a1e... relates_to
  memcord link 4f0c... 9a1e... contradicts --weight 1.0`,
	Args: cobra.ExactArgs(3),
	RunE: runLink,
}

func init() {
	linkCmd.Flags().Float64VarP(&linkWeight, "weight", "w", 0, "edge weight in [0,1], defaults server-side")
}

func runLink(cmd *cobra.Command, args []string) error {
	in := relation.AddInput{
		SourceID: args[0],
		TargetID: args[1],
		Type:     args[2],
	}
	if cmd.Flags().Changed("weight") {
		in.Weight = &linkWeight
	}

	rel, err := api.Link(context.Background(), in)
	if err != nil {
		return fmt.Errorf("create relationship: %w", err)
	}

	fmt.Printf("Linked %s -[%s %.2f]-> %s (%s)\n", rel.SourceID, rel.Type, rel.Weight, rel.TargetID, rel.ID)
	return nil
}
