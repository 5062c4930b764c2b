package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latestcomment/expert-dialogue/internal/services"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <expert-a> <expert-b>",
		Short: "Check that both experts have published papers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.scholar().Validate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, e := range res.Experts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d papers\n", e.Name, e.Count)
			}
			if !res.Valid() {
				return fmt.Errorf("%w: %v", services.ErrNoPublications, res.Rejected())
			}
			return nil
		},
	}
}
