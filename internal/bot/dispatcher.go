// Package bot turns inbound transport events into replies. Every error ends
// up as an ordinary reply; nothing here is fatal.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-broker/internal/action"
	"github.com/suPer8Hu/ai-broker/internal/broker"
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/draft"
	"github.com/suPer8Hu/ai-broker/internal/history"
	"github.com/suPer8Hu/ai-broker/internal/ledger"
	"github.com/suPer8Hu/ai-broker/internal/lock"
	"github.com/suPer8Hu/ai-broker/internal/payment"
	"github.com/suPer8Hu/ai-broker/internal/profile"
	"github.com/suPer8Hu/ai-broker/internal/wizard"
)

const historyLimit = 5

type Reply struct {
	Text    string           `json:"text"`
	Choices []wizard.Button  `json:"choices"`
	Invoice *payment.Invoice `json:"invoice,omitempty"`
}

type Deps struct {
	Wizard   *wizard.Engine
	Broker   *broker.Service
	Payments *payment.Service
	Ledger   *ledger.Ledger
	Drafts   *draft.Store
	History  *history.Repo
	Profiles *profile.Store
	Runtime  *config.RuntimeStore
	Locker   lock.Locker
}

type Dispatcher struct {
	Deps
}

func NewDispatcher(d Deps) *Dispatcher {
	if d.Locker == nil {
		d.Locker = lock.NewMemoryLocker()
	}
	return &Dispatcher{Deps: d}
}

// HandleEvent processes one event for one user. Events for the same user are
// handled one at a time.
func (d *Dispatcher) HandleEvent(ctx context.Context, userID uint64, in action.Action) Reply {
	unlock, err := d.Locker.Lock(ctx, userID)
	if err != nil {
		slog.Warn("user lock not acquired", "user_id", userID, "error", err)
		return Reply{Text: "Still working on your previous message, please try again in a moment."}
	}
	defer unlock()

	start := time.Now()
	reply := d.handle(ctx, userID, in)
	slog.Debug("event handled", "user_id", userID, "action", in.Token(), "duration_ms", time.Since(start).Milliseconds())
	return reply
}

func (d *Dispatcher) handle(ctx context.Context, userID uint64, in action.Action) Reply {
	switch a := in.(type) {
	case action.Menu:
		d.Wizard.Cancel(userID)
		return d.menu(ctx, userID, "")
	case action.StartFlow:
		p, err := d.Wizard.StartWith(userID, a.Flow, d.known(ctx, userID, a.Flow))
		if err != nil {
			return d.menu(ctx, userID, "That option is not available.")
		}
		return fromPrompt(p)
	case action.History:
		return d.history(ctx, userID)
	case action.Favorite:
		return d.favorite(ctx, userID, a.HistoryID)
	case action.Plans:
		return d.plans()
	case action.Profile:
		d.Wizard.Cancel(userID)
		return d.profile(ctx, userID, "")
	case action.ResetProfile:
		if err := d.Profiles.Reset(ctx, userID); err != nil {
			return d.failure(ctx, userID, err)
		}
		return d.profile(ctx, userID, "Your profile was cleared.")
	case action.BuyPlan:
		inv, err := d.Payments.PlanInvoice(userID, a.Plan)
		if err != nil {
			return d.plans()
		}
		return Reply{Text: fmt.Sprintf("%s for %d %s.", inv.Title, inv.Price, inv.Currency), Invoice: &inv}
	case action.BuyDraft:
		inv, err := d.Payments.DraftInvoice(ctx, userID, a.DraftID)
		if err != nil {
			return d.expired(ctx, userID, err)
		}
		return Reply{Text: fmt.Sprintf("Pay %d %s to run your request.", inv.Price, inv.Currency), Invoice: &inv}
	case action.ResumeDraft:
		return d.resume(ctx, userID, a.DraftID)
	case action.CancelDraft:
		if err := d.Drafts.Delete(ctx, userID, a.DraftID); err != nil && !errors.Is(err, draft.ErrNotFound) {
			return d.failure(ctx, userID, err)
		}
		return d.menu(ctx, userID, "The request was removed.")
	case action.Text:
		if isStartCommand(a.Value) {
			d.Wizard.Cancel(userID)
			return d.menu(ctx, userID, "")
		}
		if strings.EqualFold(strings.TrimSpace(a.Value), "/profile") {
			d.Wizard.Cancel(userID)
			return d.profile(ctx, userID, "")
		}
	case action.Unknown:
		return d.menu(ctx, userID, "")
	}

	if !d.Wizard.Active(userID) {
		return d.menu(ctx, userID, "")
	}
	p, payload, err := d.Wizard.Advance(userID, in)
	if errors.Is(err, wizard.ErrNoSession) {
		return d.menu(ctx, userID, "")
	}
	if payload == nil {
		if p.Done {
			return d.menu(ctx, userID, p.Text)
		}
		return fromPrompt(p)
	}

	if payload.Flow == wizard.ProfileKind {
		p := profile.FromPayload(userID, *payload)
		if err := d.Profiles.Save(ctx, &p); err != nil {
			return d.failure(ctx, userID, err)
		}
		return d.profile(ctx, userID, "Profile saved.")
	}

	out, err := d.Broker.Fulfill(ctx, userID, *payload, broker.Options{})
	return d.outcome(ctx, userID, out, err)
}

// known answers wizard steps from the user's profile.
func (d *Dispatcher) known(ctx context.Context, userID uint64, flow string) map[string]string {
	if flow == wizard.ProfileKind {
		return nil
	}
	p, err := d.Profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			slog.Warn("profile not loaded", "user_id", userID, "error", err)
		}
		return nil
	}
	return map[string]string{"sign": p.Sign}
}

func (d *Dispatcher) profile(ctx context.Context, userID uint64, note string) Reply {
	p, err := d.Profiles.Get(ctx, userID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return d.failure(ctx, userID, err)
	}

	var b strings.Builder
	if note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}
	if p == nil || p.Empty() {
		b.WriteString("Your profile is empty. Fill it in and forecasts will use your sign without asking.")
	} else {
		b.WriteString("Your profile:")
		values := p.Fields()
		for _, st := range wizard.ProfileFlow().Steps {
			if v := values[st.Field]; v != "" {
				fmt.Fprintf(&b, "\n• %s: %s", st.Label, st.Display(v))
			}
		}
	}
	if acct, err := d.Ledger.Get(ctx, userID); err == nil {
		b.WriteString("\n\n")
		b.WriteString(balance(acct, time.Now()))
	}

	return Reply{
		Text: b.String(),
		Choices: []wizard.Button{
			{Label: "Edit", Token: action.StartFlow{Flow: wizard.ProfileKind}.Token()},
			{Label: "Reset", Token: action.ResetProfile{}.Token()},
			{Label: "Plans", Token: action.Plans{}.Token()},
			{Label: "Menu", Token: action.Menu{}.Token()},
		},
	}
}

func fromPrompt(p wizard.Prompt) Reply {
	text := p.Text
	if p.Hint != "" {
		text = p.Hint + "\n\n" + text
	}
	return Reply{Text: text, Choices: p.Buttons}
}

func isStartCommand(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "/start" || s == "/menu"
}

func (d *Dispatcher) outcome(ctx context.Context, userID uint64, out broker.Outcome, err error) Reply {
	if err != nil {
		return d.failure(ctx, userID, err)
	}
	switch o := out.(type) {
	case broker.Served:
		return served(o.Entry)
	case broker.Deferred:
		return d.paywall(o.DraftID, o.Price)
	}
	return d.failure(ctx, userID, fmt.Errorf("bot: unexpected outcome %T", out))
}

func served(e history.Entry) Reply {
	return Reply{
		Text: e.ResultText,
		Choices: []wizard.Button{
			{Label: "Add to favorites", Token: action.Favorite{HistoryID: e.ID}.Token()},
			{Label: "Menu", Token: action.Menu{}.Token()},
		},
	}
}

func (d *Dispatcher) paywall(draftID uint64, price int64) Reply {
	return Reply{
		Text: fmt.Sprintf("Your free requests are used up. This request costs %d %s.\n"+
			"Pay for it now, or pick a plan and come back to it.", price, payment.Currency),
		Choices: []wizard.Button{
			{Label: fmt.Sprintf("Pay %d %s", price, payment.Currency), Token: action.BuyDraft{DraftID: draftID}.Token()},
			{Label: "Plans", Token: action.Plans{}.Token()},
			{Label: "Run after buying a plan", Token: action.ResumeDraft{DraftID: draftID}.Token()},
			{Label: "Drop this request", Token: action.CancelDraft{DraftID: draftID}.Token()},
		},
	}
}

// resume runs a parked draft through the normal access path, e.g. after a
// plan purchase. The draft is removed only once it has been served.
func (d *Dispatcher) resume(ctx context.Context, userID, draftID uint64) Reply {
	dr, err := d.Drafts.Get(ctx, draftID)
	if err != nil || dr.UserID != userID {
		return d.expired(ctx, userID, draft.ErrNotFound)
	}
	payload, err := dr.Request()
	if err != nil {
		return d.failure(ctx, userID, err)
	}

	ok, err := d.Ledger.HasAccess(ctx, userID, dr.Price)
	if err != nil {
		return d.failure(ctx, userID, err)
	}
	if !ok {
		return d.paywall(dr.ID, dr.Price)
	}

	out, err := d.Broker.Fulfill(ctx, userID, payload, broker.Options{Price: dr.Price})
	if err != nil {
		return d.failure(ctx, userID, err)
	}
	switch o := out.(type) {
	case broker.Served:
		if err := d.Drafts.Delete(ctx, userID, draftID); err != nil && !errors.Is(err, draft.ErrNotFound) {
			slog.Warn("served draft not removed", "user_id", userID, "draft_id", draftID, "error", err)
		}
		return served(o.Entry)
	case broker.Deferred:
		// access was lost between the check and the charge; keep offering the original draft
		if err := d.Drafts.Delete(ctx, userID, o.DraftID); err != nil {
			slog.Warn("duplicate draft not removed", "user_id", userID, "draft_id", o.DraftID, "error", err)
		}
		return d.paywall(dr.ID, dr.Price)
	}
	return d.outcome(ctx, userID, out, nil)
}

func (d *Dispatcher) history(ctx context.Context, userID uint64) Reply {
	entries, err := d.History.ListRecent(ctx, userID, historyLimit)
	if err != nil {
		return d.failure(ctx, userID, err)
	}
	if len(entries) == 0 {
		return d.menu(ctx, userID, "You have no requests yet.")
	}
	var b strings.Builder
	b.WriteString("Your recent requests:\n")
	var choices []wizard.Button
	for _, e := range entries {
		star := ""
		if e.IsFavorite {
			star = " ★"
		}
		fmt.Fprintf(&b, "\n#%d %s %s%s\n%s\n", e.ID, e.CreatedAt.Format("02.01.2006"), e.Flow, star, excerpt(e.ResultText, 120))
		if !e.IsFavorite {
			choices = append(choices, wizard.Button{
				Label: fmt.Sprintf("★ #%d", e.ID),
				Token: action.Favorite{HistoryID: e.ID}.Token(),
			})
		}
	}
	choices = append(choices, wizard.Button{Label: "Menu", Token: action.Menu{}.Token()})
	return Reply{Text: strings.TrimRight(b.String(), "\n"), Choices: choices}
}

func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

func (d *Dispatcher) favorite(ctx context.Context, userID, id uint64) Reply {
	err := d.History.SetFavorite(ctx, userID, id, true)
	if errors.Is(err, history.ErrNotFound) {
		return d.menu(ctx, userID, "That entry was not found.")
	}
	if err != nil {
		return d.failure(ctx, userID, err)
	}
	return Reply{
		Text:    "Saved to favorites.",
		Choices: []wizard.Button{{Label: "Menu", Token: action.Menu{}.Token()}},
	}
}

func (d *Dispatcher) plans() Reply {
	plans := d.Runtime.Current().Plans
	names := make([]string, 0, len(plans))
	for name := range plans {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return plans[names[i]].Price < plans[names[j]].Price })

	var b strings.Builder
	b.WriteString("Plans:\n")
	choices := make([]wizard.Button, 0, len(names)+1)
	for _, name := range names {
		p := plans[name]
		fmt.Fprintf(&b, "• %s: %d %s\n", p.Title, p.Price, payment.Currency)
		choices = append(choices, wizard.Button{
			Label: fmt.Sprintf("%s · %d %s", p.Title, p.Price, payment.Currency),
			Token: action.BuyPlan{Plan: name}.Token(),
		})
	}
	choices = append(choices, wizard.Button{Label: "Menu", Token: action.Menu{}.Token()})
	return Reply{Text: strings.TrimRight(b.String(), "\n"), Choices: choices}
}

func (d *Dispatcher) menu(ctx context.Context, userID uint64, note string) Reply {
	var b strings.Builder
	if note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}
	b.WriteString("What would you like?")
	if acct, err := d.Ledger.Get(ctx, userID); err == nil {
		b.WriteString("\n")
		b.WriteString(balance(acct, time.Now()))
	}

	choices := wizard.MenuButtons(d.Wizard.Flows())
	choices = append(choices,
		wizard.Button{Label: "History", Token: action.History{}.Token()},
		wizard.Button{Label: "Profile", Token: action.Profile{}.Token()},
		wizard.Button{Label: "Plans", Token: action.Plans{}.Token()},
	)
	return Reply{Text: b.String(), Choices: choices}
}

func balance(a ledger.Account, now time.Time) string {
	if a.Subscribed(now) {
		if a.SubscriptionUntil.Sub(now) > 50*365*24*time.Hour {
			return "Subscription: forever."
		}
		return "Subscription until " + a.SubscriptionUntil.Format("02.01.2006 15:04") + "."
	}
	return fmt.Sprintf("Free requests left: %d. Credits: %d.", a.FreeRemaining, a.CreditBalance)
}

func (d *Dispatcher) expired(ctx context.Context, userID uint64, err error) Reply {
	if !errors.Is(err, draft.ErrNotFound) {
		return d.failure(ctx, userID, err)
	}
	return d.menu(ctx, userID, "This offer has expired. Please make the request again.")
}

func (d *Dispatcher) failure(ctx context.Context, userID uint64, err error) Reply {
	if errors.Is(err, broker.ErrBackendFailure) {
		return d.menu(ctx, userID, "Generation failed and you were not charged. Please try again later.")
	}
	slog.Error("event failed", "user_id", userID, "error", err)
	return d.menu(ctx, userID, "Something went wrong. Please try again.")
}

// PaymentReply renders the result of an applied payment for out-of-band delivery.
func (d *Dispatcher) PaymentReply(ctx context.Context, res payment.Result, err error) Reply {
	switch res.Kind {
	case payment.DraftServed:
		return served(res.Served.Entry)
	case payment.DraftExpired:
		return d.menu(ctx, res.UserID, "Payment received, but that request has expired. The credits are on your balance.")
	case payment.DraftFailed:
		r := d.menu(ctx, res.UserID, "Payment received, but generation failed. The credits are on your balance and the request is saved.")
		r.Choices = append([]wizard.Button{{Label: "Try again", Token: action.ResumeDraft{DraftID: res.DraftID}.Token()}}, r.Choices...)
		return r
	case payment.DraftUnfunded:
		r := d.paywall(res.DraftID, res.Price)
		r.Text = "Payment received, but the credits were used by another request first. Your request is still saved.\n\n" + r.Text
		return r
	case payment.PlanApplied:
		title := res.Plan
		if p, ok := d.Runtime.Current().Plans[res.Plan]; ok {
			title = p.Title
		}
		return d.menu(ctx, res.UserID, fmt.Sprintf("Thank you! %s is active.", title))
	}
	if err != nil {
		return d.failure(ctx, res.UserID, err)
	}
	return Reply{}
}
