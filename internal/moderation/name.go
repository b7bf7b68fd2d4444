// Package moderation screens the display names users pick before they are
// shown to a chat partner. Names are short, so screening is plain pattern
// matching against a fixed rule list.
package moderation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultName replaces any empty or rejected name.
const DefaultName = "RandomChip"

// MaxNameLength is the maximum display name length in characters.
const MaxNameLength = 20

// Rejection reasons shown to the user.
const (
	ReasonLength        = "Name must be 1-20 characters"
	ReasonSpaces        = "No spaces allowed"
	ReasonSpecialChars  = "Only letters and numbers allowed"
	ReasonPhone         = "Phone numbers not allowed"
	ReasonAge           = "Age-related content not allowed"
	ReasonInappropriate = "Inappropriate content detected"
	ReasonLanguage      = "Inappropriate language detected"
)

// Result is the outcome of ValidateName.
type Result struct {
	Valid  bool
	Reason string
}

// nameRule rejects a name matching any of its patterns.
type nameRule struct {
	name     string
	reason   string
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// nameRules is evaluated in order; the first match wins.
var nameRules = []nameRule{
	{name: "special_chars", reason: ReasonSpecialChars, patterns: compile(
		`[^a-zA-Z0-9]`,
	)},
	{name: "phone", reason: ReasonPhone, patterns: compile(
		`\b\d{10,}\b`,
		`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`,
		`\b\+?\d{1,3}[-.\s]?\d{3,4}[-.\s]?\d{3,4}\b`,
		`\b\(\d{3}\)[-.\s]?\d{3}[-.\s]?\d{4}\b`,
	)},
	{name: "underage", reason: ReasonAge, patterns: compile(
		`\b(1[0-7]|[0-9])\b`,
		`(?i)\b\d{1,2}(yo|yr|yrs|years?old)\b`,
		`(?i)\b(kid|child)(ren)?\b`,
		`(?i)\bminor\b`,
	)},
	{name: "young", reason: ReasonAge, patterns: compile(
		`(?i)\b(young|yng|yong|yung|youth|juvenile)\b`,
		`(?i)\b(minor|underage|jailbait|loli|shota)\b`,
	)},
	{name: "family", reason: ReasonInappropriate, patterns: compile(
		`(?i)\b(dad|daddy|father|papa|pops?)\b`,
		`(?i)\b(mom|mommy|mother|mama|mum)\b`,
		`(?i)\b(sis|sister|bro|brother)\b`,
		`(?i)\b(son|daughter|child|kid)(ren)?\b`,
		`(?i)\b(uncle|aunt|cousin|nephew|niece)s?\b`,
		`(?i)\b(step)?(dad|mom|sis|bro|son|daughter)\b`,
		`(?i)\b(family|relative|incest)\b`,
	)},
	{name: "explicit", reason: ReasonLanguage, patterns: compile(
		`(?i)\b(fuck|shit|bitch|ass|dick|cock|pussy|cunt|slut|whore|rape|porn)\b`,
		`(?i)\b(nude|naked|sex|sexy|horny|kinky|nsfw)\b`,
		`(?i)\b(anal|oral|blow|suck|cum|orgasm)\b`,
	)},
}

// ValidateName checks a requested display name. An empty or all-whitespace
// name is valid; callers substitute DefaultName for it.
func ValidateName(name string) Result {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Result{Valid: true}
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return Result{Reason: ReasonLength}
	}
	if strings.IndexFunc(trimmed, unicode.IsSpace) >= 0 {
		return Result{Reason: ReasonSpaces}
	}
	for _, rule := range nameRules {
		for _, p := range rule.patterns {
			if p.MatchString(trimmed) {
				return Result{Reason: rule.reason}
			}
		}
	}
	return Result{Valid: true}
}

// SanitizeName returns the trimmed name if it passes ValidateName, and
// DefaultName otherwise.
func SanitizeName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || !ValidateName(trimmed).Valid {
		return DefaultName
	}
	return trimmed
}
