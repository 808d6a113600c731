package request

import (
	"encoding/json"
	"strings"
)

type Style string

const (
	StyleShort Style = "short"
	StyleLong  Style = "long"
)

// ParseStyle maps the wizard's style answer; anything unknown is short.
func ParseStyle(v string) Style {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long", "full":
		return StyleLong
	default:
		return StyleShort
	}
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload is the immutable output of a completed wizard.
// Fields keep the flow's declared order.
type Payload struct {
	Flow    string  `json:"flow"`
	Subtype string  `json:"subtype"`
	Style   Style   `json:"style"`
	Fields  []Field `json:"fields"`
}

func (p Payload) Get(name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (p Payload) Marshal() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Unmarshal(s string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}
