package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/ai-broker/internal/app"
	"github.com/suPer8Hu/ai-broker/internal/auth"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/db/dbtest"
	"github.com/suPer8Hu/ai-broker/internal/draft"
	"github.com/suPer8Hu/ai-broker/internal/history"
	"github.com/suPer8Hu/ai-broker/internal/ledger"
	"github.com/suPer8Hu/ai-broker/internal/profile"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

func testStores(t *testing.T) *stores {
	t.Helper()
	gdb := dbtest.Open(t, app.Models()...)
	rt := config.StaticRuntime(config.DefaultRuntime())
	return &stores{
		ledger:   ledger.New(gdb, rt),
		drafts:   draft.NewStore(gdb, func() time.Duration { return time.Hour }),
		history:  history.NewRepo(gdb),
		profiles: profile.NewStore(gdb),
	}
}

func run(t *testing.T, s *stores, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func() (*stores, error) { return s, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLedgerCommands(t *testing.T) {
	s := testStores(t)

	out, err := run(t, s, "ledger", "credit", "7", "40")
	require.NoError(t, err)
	assert.Contains(t, out, "credited 40 to user 7")

	_, err = run(t, s, "ledger", "reset-free", "7", "0")
	require.NoError(t, err)

	out, err = run(t, s, "ledger", "grant", "7", "48h")
	require.NoError(t, err)
	assert.Contains(t, out, "subscribed until")

	out, err = run(t, s, "ledger", "show", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "credits:       40")
	assert.Contains(t, out, "free left:     0")
	assert.NotContains(t, out, "subscribed to: -")
}

func TestLedgerCommands_BadInput(t *testing.T) {
	s := testStores(t)
	_, err := run(t, s, "ledger", "show", "abc")
	assert.Error(t, err)
	_, err = run(t, s, "ledger", "grant", "7")
	assert.Error(t, err)
	_, err = run(t, s, "ledger", "credit", "7", "0")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestDraftsAndHistory(t *testing.T) {
	ctx := context.Background()
	s := testStores(t)

	_, err := s.drafts.Save(ctx, 3, request.Payload{Flow: "tarot"}, 4)
	require.NoError(t, err)
	out, err := run(t, s, "drafts", "list", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "tarot\t4 XTR")

	out, err = run(t, s, "drafts", "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 expired drafts")

	require.NoError(t, s.history.Insert(ctx, &history.Entry{
		UserID: 3, Flow: "tarot", Payload: "{}", ResultText: "The Star\nmore", PricePaid: 4, ChargeSource: "credit",
	}))
	out, err = run(t, s, "history", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "The Star")
	assert.NotContains(t, out, "more")
}

func TestProfileCommands(t *testing.T) {
	ctx := context.Background()
	s := testStores(t)

	out, err := run(t, s, "profile", "show", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "user 4 has no profile")

	require.NoError(t, s.profiles.Save(ctx, &profile.Profile{UserID: 4, Name: "Ann", Sign: "leo"}))
	out, err = run(t, s, "profile", "show", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "name:       Ann")
	assert.Contains(t, out, "sign:       leo")

	out, err = run(t, s, "profile", "reset", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "profile of user 4 cleared")
	_, err = s.profiles.Get(ctx, 4)
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestTransportToken(t *testing.T) {
	t.Setenv("TRANSPORT_SECRET", "ops-secret")

	out, err := run(t, nil, "transport-token", "telegram", "--ttl", "24h")
	require.NoError(t, err)

	c, err := auth.ParseTransportToken("ops-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "telegram", c.Name)
	require.NotNil(t, c.ExpiresAt)
}
