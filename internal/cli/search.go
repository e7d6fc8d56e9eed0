package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memcord/memcord/internal/client"
	"github.com/memcord/memcord/internal/fusion"
	"github.com/memcord/memcord/internal/model"
)

var (
	searchLimit   int
	searchFilters map[string]string
	searchSuggest bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over stored memories",
	Long: `Search memories by meaning, ranked by similarity with recency
breaking ties.

Examples:
  memcord search "editor preferences"
  memcord search "deployment schedule" --filter topic=ops --limit 5
  memcord search "talking about databases" --suggest`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().StringToStringVarP(&searchFilters, "filter", "f", nil, "metadata filters key=value")
	searchCmd.Flags().BoolVar(&searchSuggest, "suggest", false, "treat the query as conversational context and suggest memories")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	req := client.SearchRequest{
		Scope:   model.OwnerScope{AgentID: agentID},
		Filters: searchFilters,
		Limit:   searchLimit,
	}

	var (
		res *fusion.Result
		err error
	)
	if searchSuggest {
		req.Context = args[0]
		res, err = api.Suggest(ctx, req)
	} else {
		req.Query = args[0]
		res, err = api.Search(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(res.Memories) == 0 {
		fmt.Println("No results.")
		return nil
	}
	if res.Partial {
		fmt.Println("Warning: partial result, graph store unavailable.")
	}
	for i, m := range res.Memories {
		fmt.Printf("%2d. [%.3f] %s  %s\n", i+1, m.Score, m.ID, m.Content)
	}
	return nil
}
