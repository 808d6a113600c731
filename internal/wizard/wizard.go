// Package wizard collects a request step by step. Flows are plain data and
// Flow.Advance is a pure function of the session and one action.
package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-broker/internal/action"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

// StepConfirm is the pseudo-step after the last real step.
const StepConfirm = "$confirm"

type Option struct {
	Label string
	Value string
}

type Step struct {
	Field   string
	Label   string
	Prompt  string
	Options []Option
	// used when Options is empty; defaults to Text
	Validate Validator
	Optional bool
	// Next picks the following step from this step's answer.
	// Returning "" means the next declared step.
	Next func(value string) string
}

type Flow struct {
	Kind  string
	Title string
	// Subtype is used when the flow has no "subtype" step.
	Subtype string
	Steps   []Step
	// Hidden flows are started from their own button, not the menu.
	Hidden bool
}

type Session struct {
	UserID    uint64
	Flow      string
	Step      string
	Fields    map[string]string
	Visited   []string
	UpdatedAt time.Time
}

func (s Session) clone() Session {
	out := s
	out.Fields = make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	out.Visited = append([]string(nil), s.Visited...)
	return out
}

type Button struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Prompt is what the user sees next. Done means the session has ended.
type Prompt struct {
	Text    string
	Hint    string
	Buttons []Button
	Done    bool
}

func (f *Flow) step(field string) (Step, int, bool) {
	for i, s := range f.Steps {
		if s.Field == field {
			return s, i, true
		}
	}
	return Step{}, -1, false
}

// Begin returns the first prompt and a fresh session.
func (f *Flow) Begin(userID uint64) (Prompt, *Session) {
	sess := &Session{
		UserID: userID,
		Flow:   f.Kind,
		Step:   f.Steps[0].Field,
		Fields: map[string]string{},
	}
	return f.render(*sess, ""), sess
}

// Prefill answers leading steps from known values, stopping at the first
// step without a value or whose value is rejected. Back still reaches them.
func (f *Flow) Prefill(sess Session, known map[string]string) (Prompt, Session) {
	for sess.Step != StepConfirm {
		v, ok := known[sess.Step]
		if !ok || v == "" {
			break
		}
		p, next, _ := f.Advance(sess, action.Choice{Value: v})
		if next == nil || p.Hint != "" {
			break
		}
		sess = *next
	}
	return f.render(sess, ""), sess
}

// Advance applies one action. At most one of the returned session and payload
// is non-nil; both are nil when the flow ended without a request.
// Invalid input returns the current prompt with a hint and an unchanged session.
func (f *Flow) Advance(sess Session, in action.Action) (Prompt, *Session, *request.Payload) {
	if _, ok := in.(action.Cancel); ok {
		return Prompt{Text: "Cancelled. Send /start to begin again.", Done: true}, nil, nil
	}

	next := sess.clone()
	if _, ok := in.(action.Back); ok {
		if len(next.Visited) == 0 {
			return f.render(sess, errNoBack.Error()), &sess, nil
		}
		prev := next.Visited[len(next.Visited)-1]
		next.Visited = next.Visited[:len(next.Visited)-1]
		delete(next.Fields, prev)
		next.Step = prev
		return f.render(next, ""), &next, nil
	}

	if sess.Step == StepConfirm {
		if _, ok := in.(action.Confirm); ok {
			p := f.payload(sess)
			return Prompt{Text: "Working on it...", Done: true}, nil, &p
		}
		return f.render(sess, "Press Confirm to send the request, Back to change it or Cancel."), &sess, nil
	}

	st, _, ok := f.step(sess.Step)
	if !ok {
		// stale session from an older flow definition
		return Prompt{Text: "This request is no longer available. Please start again.", Done: true}, nil, nil
	}

	var value string
	switch a := in.(type) {
	case action.Skip:
		if !st.Optional {
			return f.render(sess, errNoSkip.Error()), &sess, nil
		}
	case action.Text:
		v, err := st.accept(a.Value)
		if err != nil {
			return f.render(sess, err.Error()), &sess, nil
		}
		value = v
	case action.Choice:
		v, err := st.accept(a.Value)
		if err != nil {
			return f.render(sess, err.Error()), &sess, nil
		}
		value = v
	default:
		return f.render(sess, errChoice.Error()), &sess, nil
	}

	if value != "" {
		next.Fields[st.Field] = value
	}
	next.Visited = append(next.Visited, st.Field)
	next.Step = f.after(st, value)
	return f.render(next, ""), &next, nil
}

func (f *Flow) after(st Step, value string) string {
	if st.Next != nil {
		if name := st.Next(value); name != "" {
			return name
		}
	}
	_, i, _ := f.step(st.Field)
	if i+1 < len(f.Steps) {
		return f.Steps[i+1].Field
	}
	return StepConfirm
}

func (s Step) accept(raw string) (string, error) {
	if len(s.Options) > 0 {
		raw = strings.TrimSpace(raw)
		for _, o := range s.Options {
			if raw == o.Value || strings.EqualFold(raw, o.Label) {
				return o.Value, nil
			}
		}
		return "", errChoice
	}
	if s.Validate != nil {
		return s.Validate(raw)
	}
	return Text(raw)
}

func (s Step) label() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Field
}

func (f *Flow) payload(sess Session) request.Payload {
	p := request.Payload{
		Flow:    f.Kind,
		Subtype: f.Subtype,
		Style:   request.ParseStyle(sess.Fields["style"]),
	}
	for _, st := range f.Steps {
		v, ok := sess.Fields[st.Field]
		if !ok {
			continue
		}
		p.Fields = append(p.Fields, request.Field{Name: st.Field, Value: v})
		if st.Field == "subtype" {
			p.Subtype = v
		}
	}
	return p
}

func (f *Flow) render(sess Session, hint string) Prompt {
	if sess.Step == StepConfirm {
		return Prompt{
			Text: f.preview(sess),
			Hint: hint,
			Buttons: []Button{
				{Label: "Confirm", Token: action.Confirm{}.Token()},
				{Label: "Back", Token: action.Back{}.Token()},
				{Label: "Cancel", Token: action.Cancel{}.Token()},
			},
		}
	}

	st, _, _ := f.step(sess.Step)
	p := Prompt{Text: st.Prompt, Hint: hint}
	for _, o := range st.Options {
		p.Buttons = append(p.Buttons, Button{Label: o.Label, Token: action.Choice{Value: o.Value}.Token()})
	}
	if st.Optional {
		p.Buttons = append(p.Buttons, Button{Label: "Skip", Token: action.Skip{}.Token()})
	}
	if len(sess.Visited) > 0 {
		p.Buttons = append(p.Buttons, Button{Label: "Back", Token: action.Back{}.Token()})
	}
	p.Buttons = append(p.Buttons, Button{Label: "Cancel", Token: action.Cancel{}.Token()})
	return p
}

func (f *Flow) preview(sess Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nPlease check your request:\n", f.Title)
	for _, st := range f.Steps {
		v, ok := sess.Fields[st.Field]
		if !ok {
			continue
		}
		if o, found := st.option(v); found {
			v = o.Label
		}
		fmt.Fprintf(&b, "• %s: %s\n", st.label(), v)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Display shows a stored value the way the user picked it.
func (s Step) Display(value string) string {
	if o, ok := s.option(value); ok {
		return o.Label
	}
	return value
}

func (s Step) option(value string) (Option, bool) {
	for _, o := range s.Options {
		if o.Value == value {
			return o, true
		}
	}
	return Option{}, false
}
