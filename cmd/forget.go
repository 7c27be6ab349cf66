package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	forgetScope scopeFlags

	forgetCmd = &cobra.Command{
		Use:   "forget",
		Short: "Delete everything remembered for one owner scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := buildService(cmd.Context())
			if err != nil {
				return err
			}

			scope := forgetScope.scope()

			if err := service.Flat.DeleteAll(cmd.Context(), scope); err != nil {
				return err
			}
			if err := service.Graph.DeleteAll(cmd.Context(), scope); err != nil {
				return err
			}

			fmt.Println("forgotten")
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(forgetCmd)

	forgetCmd.Flags().StringVar(&forgetScope.userID, "user", "", "owner user id")
	forgetCmd.Flags().StringVar(&forgetScope.agentID, "agent", "", "owner agent id")
	forgetCmd.Flags().StringVar(&forgetScope.runID, "run", "", "owner run id")
	forgetCmd.Flags().StringVar(&forgetScope.actorID, "actor", "", "actor id")
}
