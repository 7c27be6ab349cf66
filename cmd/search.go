package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/memory"
)

var (
	searchScope          scopeFlags
	searchLimit          int
	searchExcludePrivate bool

	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Search memory for facts and relationships",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			service, err := buildService(cmd.Context())
			if err != nil {
				return err
			}

			scope := searchScope.scope()

			items, err := service.Flat.Search(cmd.Context(), query, scope, searchLimit)
			if err != nil {
				return err
			}

			triples, err := service.Graph.Search(cmd.Context(), query, scope, memory.SearchOptions{
				FilterPrivate: searchExcludePrivate,
			})
			if err != nil {
				return err
			}

			b, _ := json.MarshalIndent(map[string]any{
				"memories":  items,
				"relations": triples,
			}, "", "  ")
			fmt.Println(string(b))

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVar(&searchScope.userID, "user", "", "owner user id")
	searchCmd.Flags().StringVar(&searchScope.agentID, "agent", "", "owner agent id")
	searchCmd.Flags().StringVar(&searchScope.runID, "run", "", "owner run id")
	searchCmd.Flags().StringVar(&searchScope.actorID, "actor", "", "actor id")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum number of fact results")
	searchCmd.Flags().BoolVar(&searchExcludePrivate, "exclude-private", false, "drop privacy sensitive relationships")
}
