// Package action turns opaque transport tokens into typed actions.
// Tokens are parsed once at the edge; nothing past the dispatcher sees raw strings.
package action

import (
	"strconv"
	"strings"
)

// Action is one of the concrete types below.
type Action interface {
	Token() string
	isAction()
}

type (
	Text         struct{ Value string }
	Choice       struct{ Value string }
	StartFlow    struct{ Flow string }
	Skip         struct{}
	Back         struct{}
	Confirm      struct{}
	Cancel       struct{}
	Menu         struct{}
	History      struct{}
	Favorite     struct{ HistoryID uint64 }
	Plans        struct{}
	BuyPlan      struct{ Plan string }
	BuyDraft     struct{ DraftID uint64 }
	ResumeDraft  struct{ DraftID uint64 }
	CancelDraft  struct{ DraftID uint64 }
	Profile      struct{}
	ResetProfile struct{}
	Unknown      struct{ Raw string }
)

func (Text) isAction()         {}
func (Choice) isAction()       {}
func (StartFlow) isAction()    {}
func (Skip) isAction()         {}
func (Back) isAction()         {}
func (Confirm) isAction()      {}
func (Cancel) isAction()       {}
func (Menu) isAction()         {}
func (History) isAction()      {}
func (Favorite) isAction()     {}
func (Plans) isAction()        {}
func (BuyPlan) isAction()      {}
func (BuyDraft) isAction()     {}
func (ResumeDraft) isAction()  {}
func (CancelDraft) isAction()  {}
func (Profile) isAction()      {}
func (ResetProfile) isAction() {}
func (Unknown) isAction()      {}

func (a Text) Token() string        { return a.Value }
func (a Choice) Token() string      { return "pick:" + a.Value }
func (a StartFlow) Token() string   { return "flow:" + a.Flow }
func (Skip) Token() string          { return "skip" }
func (Back) Token() string          { return "back" }
func (Confirm) Token() string       { return "go" }
func (Cancel) Token() string        { return "cancel" }
func (Menu) Token() string          { return "menu" }
func (History) Token() string       { return "history" }
func (a Favorite) Token() string    { return "fav:" + id(a.HistoryID) }
func (Plans) Token() string         { return "plans" }
func (a BuyPlan) Token() string     { return "pay:plan:" + a.Plan }
func (a BuyDraft) Token() string    { return "pay:draft:" + id(a.DraftID) }
func (a ResumeDraft) Token() string { return "draft:resume:" + id(a.DraftID) }
func (a CancelDraft) Token() string { return "draft:cancel:" + id(a.DraftID) }
func (Profile) Token() string       { return "profile" }
func (ResetProfile) Token() string  { return "profile:reset" }
func (a Unknown) Token() string     { return a.Raw }

func id(n uint64) string { return strconv.FormatUint(n, 10) }

// FromText wraps free-form user input.
func FromText(s string) Action {
	return Text{Value: strings.TrimSpace(s)}
}

// Parse decodes a choice token. Malformed tokens become Unknown, never an error.
func Parse(token string) Action {
	token = strings.TrimSpace(token)
	switch token {
	case "skip":
		return Skip{}
	case "back":
		return Back{}
	case "go":
		return Confirm{}
	case "cancel":
		return Cancel{}
	case "menu":
		return Menu{}
	case "history":
		return History{}
	case "plans":
		return Plans{}
	case "profile":
		return Profile{}
	case "profile:reset":
		return ResetProfile{}
	}

	parts := strings.Split(token, ":")
	switch {
	case len(parts) == 2 && parts[0] == "pick":
		return Choice{Value: parts[1]}
	case len(parts) == 2 && parts[0] == "flow" && parts[1] != "":
		return StartFlow{Flow: parts[1]}
	case len(parts) == 2 && parts[0] == "fav":
		if n, ok := parseID(parts[1]); ok {
			return Favorite{HistoryID: n}
		}
	case len(parts) == 3 && parts[0] == "pay" && parts[1] == "plan" && parts[2] != "":
		return BuyPlan{Plan: parts[2]}
	case len(parts) == 3 && parts[0] == "pay" && parts[1] == "draft":
		if n, ok := parseID(parts[2]); ok {
			return BuyDraft{DraftID: n}
		}
	case len(parts) == 3 && parts[0] == "draft" && parts[1] == "resume":
		if n, ok := parseID(parts[2]); ok {
			return ResumeDraft{DraftID: n}
		}
	case len(parts) == 3 && parts[0] == "draft" && parts[1] == "cancel":
		if n, ok := parseID(parts[2]); ok {
			return CancelDraft{DraftID: n}
		}
	}
	return Unknown{Raw: token}
}

func parseID(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}
