// Command brokerctl inspects and adjusts broker state directly in the store.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/ai-broker/internal/app"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/draft"
	"github.com/suPer8Hu/ai-broker/internal/history"
	"github.com/suPer8Hu/ai-broker/internal/ledger"
	"github.com/suPer8Hu/ai-broker/internal/profile"
)

var Version = "dev"

// stores holds what the subcommands operate on.
type stores struct {
	ledger   *ledger.Ledger
	drafts   *draft.Store
	history  *history.Repo
	profiles *profile.Store
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if err := newRootCmd(openStores).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStores() (*stores, error) {
	cfg := config.Load()
	gdb, err := app.Open(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := config.NewRuntimeStore(cfg.OverridesPath)
	if err != nil {
		return nil, err
	}
	return &stores{
		ledger:   ledger.New(gdb, rt),
		drafts:   draft.NewStore(gdb, func() time.Duration { return rt.Current().DraftTTL }),
		history:  history.NewRepo(gdb),
		profiles: profile.NewStore(gdb),
	}, nil
}

func newRootCmd(open func() (*stores, error)) *cobra.Command {
	root := &cobra.Command{
		Use:           "brokerctl",
		Short:         "Operate on broker accounts, drafts, history and profiles",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(ledgerCmd(open))
	root.AddCommand(draftsCmd(open))
	root.AddCommand(historyCmd(open))
	root.AddCommand(profileCmd(open))
	root.AddCommand(transportTokenCmd())
	return root
}

func parseUserID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}
