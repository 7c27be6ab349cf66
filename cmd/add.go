package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	addScope scopeFlags

	addCmd = &cobra.Command{
		Use:   "add [text]",
		Short: "Consolidate a piece of text into memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" {
				return errors.New("text is required")
			}

			service, err := buildService(cmd.Context())
			if err != nil {
				return err
			}

			scope := addScope.scope()

			events, err := service.Flat.Add(cmd.Context(), text, scope, nil)
			if err != nil {
				return err
			}

			result, err := service.Graph.Add(cmd.Context(), text, scope)
			if err != nil {
				return err
			}

			b, _ := json.MarshalIndent(map[string]any{
				"events":  events,
				"added":   result.Added,
				"deleted": result.Deleted,
			}, "", "  ")
			fmt.Println(string(b))

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVar(&addScope.userID, "user", "", "owner user id")
	addCmd.Flags().StringVar(&addScope.agentID, "agent", "", "owner agent id")
	addCmd.Flags().StringVar(&addScope.runID, "run", "", "owner run id")
	addCmd.Flags().StringVar(&addScope.actorID, "actor", "", "actor id")
}
