package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/ai-broker/internal/ledger"
)

func ledgerCmd(open func() (*stores, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and adjust user balances",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Print a user's account",
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
				acct, err := s.ledger.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				printAccount(cmd, acct)
				return nil
			},
		},
		&cobra.Command{
			Use:   "credit <user-id> <amount>",
			Short: "Add credits to a balance",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				amount, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid amount %q", args[1])
				}
				s, err := open()
				if err != nil {
					return err
				}
				if err := s.ledger.Credit(cmd.Context(), id, amount); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "credited %d to user %d\n", amount, id)
				return nil
			},
		},
		grantCmd(open),
		resetFreeCmd(open),
	)
	return cmd
}

func grantCmd(open func() (*stores, error)) *cobra.Command {
	var lifetime bool
	cmd := &cobra.Command{
		Use:   "grant <user-id> [duration]",
		Short: "Extend a subscription, e.g. grant 42 72h",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			d := ledger.LifetimeGrant
			if !lifetime {
				if len(args) < 2 {
					return fmt.Errorf("duration required unless --lifetime is set")
				}
				if d, err = time.ParseDuration(args[1]); err != nil || d <= 0 {
					return fmt.Errorf("invalid duration %q", args[1])
				}
			}
			s, err := open()
			if err != nil {
				return err
			}
			until, err := s.ledger.GrantSubscription(cmd.Context(), id, d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d subscribed until %s\n", id, until.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&lifetime, "lifetime", false, "Grant lifetime access")
	return cmd
}

func resetFreeCmd(open func() (*stores, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-free <user-id> <count>",
		Short: "Set the remaining free requests",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid count %q", args[1])
			}
			s, err := open()
			if err != nil {
				return err
			}
			if err := s.ledger.ResetFree(cmd.Context(), id, n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d has %d free requests\n", id, n)
			return nil
		},
	}
}

func printAccount(cmd *cobra.Command, a ledger.Account) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user:          %d\n", a.UserID)
	fmt.Fprintf(out, "free left:     %d\n", a.FreeRemaining)
	fmt.Fprintf(out, "credits:       %d\n", a.CreditBalance)
	if a.SubscriptionUntil != nil {
		fmt.Fprintf(out, "subscribed to: %s\n", a.SubscriptionUntil.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "subscribed to: -")
	}
}
