package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/ai-broker/internal/profile"
)

func profileCmd(open func() (*stores, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect or clear user profiles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Print a user's profile",
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
				p, err := s.profiles.Get(cmd.Context(), id)
				if errors.Is(err, profile.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "user %d has no profile\n", id)
					return nil
				}
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "name:       %s\n", p.Name)
				fmt.Fprintf(w, "gender:     %s\n", p.Gender)
				fmt.Fprintf(w, "birth:      %s %s\n", p.BirthDate, p.BirthTime)
				fmt.Fprintf(w, "city:       %s\n", p.City)
				fmt.Fprintf(w, "sign:       %s\n", p.Sign)
				fmt.Fprintf(w, "theme:      %s\n", p.Theme)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset <user-id>",
			Short: "Delete a user's profile; the balance is kept",
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
				if err := s.profiles.Reset(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "profile of user %d cleared\n", id)
				return nil
			},
		},
	)
	return cmd
}
