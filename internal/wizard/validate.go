package wizard

import (
	"strings"
	"time"
	"unicode/utf8"
)

const maxTextLen = 500

// Hint is a validation failure worded for the user.
type Hint string

func (h Hint) Error() string { return string(h) }

const (
	errEmpty   Hint = "Please type an answer."
	errTooLong Hint = "That is too long, please keep it under 500 characters."
	errDate    Hint = "Please enter the date as DD.MM.YYYY, for example 07.03.1991."
	errTime    Hint = "Please enter the time as HH:MM, for example 14:30."
	errChoice  Hint = "Please pick one of the options below."
	errNoSkip  Hint = "This step cannot be skipped."
	errNoBack  Hint = "You are already at the first step."
)

// Validator normalizes an answer or explains what is wrong with it.
type Validator func(string) (string, error)

func Text(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errEmpty
	}
	if utf8.RuneCountInString(v) > maxTextLen {
		return "", errTooLong
	}
	return v, nil
}

// Date accepts DD.MM.YYYY and rejects dates in the future.
func Date(v string) (string, error) {
	v = strings.TrimSpace(v)
	t, err := time.Parse("02.01.2006", v)
	if err != nil {
		return "", errDate
	}
	if t.After(time.Now()) || t.Year() < 1900 {
		return "", errDate
	}
	return t.Format("02.01.2006"), nil
}

// Clock accepts HH:MM on a 24h clock.
func Clock(v string) (string, error) {
	v = strings.TrimSpace(v)
	t, err := time.Parse("15:04", v)
	if err != nil {
		return "", errTime
	}
	return t.Format("15:04"), nil
}
