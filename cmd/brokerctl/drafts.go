package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func draftsCmd(open func() (*stores, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Manage parked requests",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <user-id>",
			Short: "List a user's unexpired drafts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				s, err := open()
				if err != nil {
					return err
				}
				drafts, err := s.drafts.ListByUser(cmd.Context(), id)
				if err != nil {
					return err
				}
				for _, d := range drafts {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d XTR\texpires %s\n", d.ID, d.Flow, d.Price, d.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete expired drafts now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := open()
				if err != nil {
					return err
				}
				n, err := s.drafts.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired drafts\n", n)
				return nil
			},
		},
	)
	return cmd
}
