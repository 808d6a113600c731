package wizard

import "github.com/suPer8Hu/ai-broker/internal/action"

var signs = []Option{
	{"Aries", "aries"}, {"Taurus", "taurus"}, {"Gemini", "gemini"},
	{"Cancer", "cancer"}, {"Leo", "leo"}, {"Virgo", "virgo"},
	{"Libra", "libra"}, {"Scorpio", "scorpio"}, {"Sagittarius", "sagittarius"},
	{"Capricorn", "capricorn"}, {"Aquarius", "aquarius"}, {"Pisces", "pisces"},
}

var styles = []Option{{"Short", "short"}, {"Detailed", "long"}}

var timeKnown = []Option{{"Exact", "exact"}, {"Approximate", "approx"}, {"Unknown", "unknown"}}

// skipTimeIf jumps past the birth time step when the time is unknown.
func skipTimeIf(target string) func(string) string {
	return func(v string) string {
		if v == "unknown" {
			return target
		}
		return ""
	}
}

func styleStep() Step {
	return Step{Field: "style", Label: "Style", Prompt: "Short answer or a detailed one?", Options: styles}
}

func TodayForecast() *Flow {
	return &Flow{
		Kind:    "today-forecast",
		Title:   "Forecast for today",
		Subtype: "today",
		Steps: []Step{
			{Field: "sign", Label: "Sign", Prompt: "Choose your zodiac sign.", Options: signs},
			styleStep(),
		},
	}
}

func Horoscope() *Flow {
	return &Flow{
		Kind:  "horoscope",
		Title: "Horoscope",
		Steps: []Step{
			{Field: "subtype", Label: "Period", Prompt: "Which horoscope would you like?", Options: []Option{
				{"Day", "day"}, {"Week", "week"}, {"Month", "month"}, {"Natal chart", "natal"},
			}},
			{Field: "birth_date", Label: "Birth date", Prompt: "Your date of birth (DD.MM.YYYY)?", Validate: Date},
			{Field: "time_known", Label: "Birth time known", Prompt: "Do you know your time of birth?", Options: timeKnown,
				Next: skipTimeIf("birth_place")},
			{Field: "birth_time", Label: "Birth time", Prompt: "Your time of birth (HH:MM)?", Validate: Clock},
			{Field: "birth_place", Label: "Birth place", Prompt: "Where were you born? City and country."},
			styleStep(),
		},
	}
}

func Tarot() *Flow {
	return &Flow{
		Kind:  "tarot",
		Title: "Tarot reading",
		Steps: []Step{
			{Field: "subtype", Label: "Spread", Prompt: "Pick a spread.", Options: []Option{
				{"One card", "one"}, {"Three cards", "three"}, {"Love spread", "love"},
			}},
			{Field: "question", Label: "Question", Prompt: "What is your question for the cards?"},
			styleStep(),
		},
	}
}

func Numerology() *Flow {
	return &Flow{
		Kind:  "numerology",
		Title: "Numerology",
		Steps: []Step{
			{Field: "subtype", Label: "Reading", Prompt: "What should we calculate?", Options: []Option{
				{"Life path number", "life_path"}, {"Name number", "name"}, {"Personal year", "year"},
			}},
			{Field: "birth_date", Label: "Birth date", Prompt: "Your date of birth (DD.MM.YYYY)?", Validate: Date},
			{Field: "name", Label: "Name", Prompt: "Your full name, or press Skip.", Optional: true},
			styleStep(),
		},
	}
}

func Compatibility() *Flow {
	return &Flow{
		Kind:  "compatibility",
		Title: "Compatibility",
		Steps: []Step{
			{Field: "subtype", Label: "Kind", Prompt: "What kind of compatibility?", Options: []Option{
				{"Love", "love"}, {"Friendship", "friendship"}, {"Work", "work"},
			}},
			{Field: "a_birth_date", Label: "Your birth date", Prompt: "Your date of birth (DD.MM.YYYY)?", Validate: Date},
			{Field: "a_time_known", Label: "Your birth time known", Prompt: "Do you know your time of birth?", Options: timeKnown,
				Next: skipTimeIf("b_birth_date")},
			{Field: "a_birth_time", Label: "Your birth time", Prompt: "Your time of birth (HH:MM)?", Validate: Clock},
			{Field: "b_birth_date", Label: "Partner birth date", Prompt: "Partner's date of birth (DD.MM.YYYY)?", Validate: Date},
			{Field: "b_time_known", Label: "Partner birth time known", Prompt: "Do you know your partner's time of birth?", Options: timeKnown,
				Next: skipTimeIf("style")},
			{Field: "b_birth_time", Label: "Partner birth time", Prompt: "Partner's time of birth (HH:MM)?", Validate: Clock},
			styleStep(),
		},
	}
}

const ProfileKind = "profile"

// ProfileFlow fills in the user's profile. Every step can be skipped.
func ProfileFlow() *Flow {
	return &Flow{
		Kind:   ProfileKind,
		Title:  "Profile",
		Hidden: true,
		Steps: []Step{
			{Field: "name", Label: "Name", Prompt: "What is your name?", Optional: true},
			{Field: "gender", Label: "Gender", Prompt: "Your gender?", Optional: true, Options: []Option{
				{"Male", "male"}, {"Female", "female"},
			}},
			{Field: "birth_date", Label: "Birth date", Prompt: "Your date of birth (DD.MM.YYYY)?", Validate: Date, Optional: true},
			{Field: "birth_time", Label: "Birth time", Prompt: "Your time of birth (HH:MM)?", Validate: Clock, Optional: true},
			{Field: "city", Label: "City", Prompt: "City of birth, or where you live now?", Optional: true},
			{Field: "sign", Label: "Sign", Prompt: "Your zodiac sign? Skip to take it from your birth date.", Options: signs, Optional: true},
			{Field: "theme", Label: "Focus", Prompt: "What matters most to you right now?", Optional: true, Options: []Option{
				{"Relationships", "relationships"}, {"Money", "money"}, {"Work", "work"}, {"Energy", "energy"},
			}},
		},
	}
}

// Builtin returns every shipped flow.
func Builtin() []*Flow {
	return []*Flow{TodayForecast(), Horoscope(), Tarot(), Numerology(), Compatibility(), ProfileFlow()}
}

// MenuButtons lists one start button per visible flow.
func MenuButtons(flows []*Flow) []Button {
	out := make([]Button, 0, len(flows))
	for _, f := range flows {
		if f.Hidden {
			continue
		}
		out = append(out, Button{Label: f.Title, Token: action.StartFlow{Flow: f.Kind}.Token()})
	}
	return out
}
