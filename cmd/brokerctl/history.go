package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/ai-broker/internal/history"
)

func historyCmd(open func() (*stores, error)) *cobra.Command {
	var (
		limit     int
		favorites bool
	)
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's served requests, newest first",
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
			var entries []history.Entry
			if favorites {
				entries, err = s.history.ListFavorites(cmd.Context(), id, limit)
			} else {
				entries, err = s.history.ListRecent(cmd.Context(), id, limit)
			}
			if err != nil {
				return err
			}
			for _, e := range entries {
				star := " "
				if e.IsFavorite {
					star = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\t%s\t%s\t%d %s\t%s\n",
					star, e.ID, e.CreatedAt.Format(time.DateTime), e.Flow, e.PricePaid, e.ChargeSource, firstLine(e.ResultText))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum entries")
	cmd.Flags().BoolVar(&favorites, "favorites", false, "Only favorites")
	return cmd
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
