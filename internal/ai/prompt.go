package ai

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/ai-broker/internal/request"
)

var systemByFlow = map[string]string{
	"today-forecast": "You are an experienced astrologer. Give a forecast for today for the given zodiac sign.",
	"horoscope":      "You are an experienced astrologer and psychologist. Build a horoscope from the birth data.",
	"tarot":          "You are a thoughtful tarot reader. Draw the requested spread and interpret it for the question.",
	"numerology":     "You are a numerologist. Calculate the requested number and explain what it means.",
	"compatibility":  "You are an astrologer specialising in synastry. Assess the compatibility of the two people.",
}

const baseRules = "Be polite and concrete. Do not give medical diagnoses or financial guarantees."

// BuildPrompt turns a finished request into the system and user messages for the backend.
func BuildPrompt(p request.Payload, tone string) []Message {
	system := systemByFlow[p.Flow]
	if system == "" {
		system = "You are a helpful assistant."
	}
	system += " " + baseRules
	if p.Style == request.StyleLong {
		system += " Answer in 6 to 10 short sections, each with a heading."
	} else {
		system += " Answer in one short paragraph."
	}
	if tone = strings.TrimSpace(tone); tone != "" {
		system += fmt.Sprintf(" Tone: %s.", tone)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Request: %s", p.Flow)
	if p.Subtype != "" {
		fmt.Fprintf(&user, " (%s)", p.Subtype)
	}
	user.WriteString("\n")
	for _, f := range p.Fields {
		if f.Name == "subtype" || f.Name == "style" {
			continue
		}
		fmt.Fprintf(&user, "%s: %s\n", strings.ReplaceAll(f.Name, "_", " "), f.Value)
	}

	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: strings.TrimRight(user.String(), "\n")},
	}
}
