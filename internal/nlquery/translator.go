// Package nlquery translates free-text assistant questions into structured
// event filters.
package nlquery

import (
	"strings"
	"time"

	"github.com/campuswatch/attendance-sentry/internal/models"
)

// Labels attached to translated filters.
const (
	labelProxies   = "Proxy Attempts"
	labelIntruders = "Intruder Sightings"
	labelAll       = "All Events"
)

// minAliasLen keeps short name fragments ("al", "jo") from matching inside
// unrelated words of the question.
const minAliasLen = 3

// DefaultAliases is the registry of given names the translator recognizes as
// a person query even when nobody by that name is enrolled. Asking about a
// recognized but unenrolled name short-circuits to "not found" instead of
// falling through to the generic today filter.
var DefaultAliases = []string{
	"rahul", "priya", "aarav", "ananya", "rohan", "sneha", "vikram", "isha",
}

// Translator maps questions onto QueryFilters using case-insensitive keyword
// matching. The name registry is fixed at construction: DefaultAliases plus
// the lowercased name tokens of every enrolled subject, so translation is
// deterministic for an unchanged directory.
type Translator struct {
	directory []models.Subject
	aliases   []string
	now       func() time.Time
}

// New builds a Translator over the given subject directory. Extra aliases
// extend the recognized-name registry for deployment-specific nicknames.
func New(directory []models.Subject, extra ...string) *Translator {
	seen := make(map[string]struct{})
	var aliases []string
	add := func(tok string) {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if len(tok) < minAliasLen {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		aliases = append(aliases, tok)
	}

	for _, a := range DefaultAliases {
		add(a)
	}
	for _, a := range extra {
		add(a)
	}
	for _, s := range directory {
		for _, tok := range strings.Fields(s.FullName) {
			add(tok)
		}
	}

	return &Translator{
		directory: directory,
		aliases:   aliases,
		now:       time.Now,
	}
}

// Translate maps a question to a filter. The second return value is false
// when the question names a recognized subject that is not in the directory
// and no other rule matched; callers must short-circuit with a "not found"
// reply and skip summarization entirely.
//
// Rule precedence: proxies, intruders (combinable with proxies), subject
// name, then the today/default time bound.
func (t *Translator) Translate(question string) (models.QueryFilter, bool) {
	q := strings.ToLower(question)
	var f models.QueryFilter

	if strings.Contains(q, "proxy") || strings.Contains(q, "proxies") {
		spoof := true
		f.SpoofEquals = &spoof
		f.Label = labelProxies
	}

	if strings.Contains(q, "intruder") {
		f.RollNoIsNull = true
		if f.Label == "" {
			f.Label = labelIntruders
		} else {
			f.Label += " & " + labelIntruders
		}
	}

	keywordMatched := f.SpoofEquals != nil || f.RollNoIsNull

	if ids, name, aliasSeen := t.matchSubjects(q); aliasSeen {
		if len(ids) == 0 && !keywordMatched {
			return models.QueryFilter{}, false
		}
		if len(ids) > 0 {
			f.RollNoIn = ids
			if f.Label == "" {
				f.Label = name
			}
		}
	}

	hasFilter := keywordMatched || len(f.RollNoIn) > 0
	if !hasFilter || strings.Contains(q, "today") {
		start := t.startOfToday()
		f.TimestampGte = &start
		if f.Label == "" {
			f.Label = labelAll
		}
		f.Label += " (Today)"
	}

	return f, true
}

// matchSubjects scans the question for registry aliases and resolves them
// against the directory by case-insensitive partial name match. It reports
// whether any alias appeared at all, so callers can distinguish "no name in
// the question" from "a recognized name that is not enrolled".
func (t *Translator) matchSubjects(q string) (ids []string, name string, aliasSeen bool) {
	matched := make(map[string]struct{})
	for _, alias := range t.aliases {
		if !strings.Contains(q, alias) {
			continue
		}
		aliasSeen = true
		for _, s := range t.directory {
			if !strings.Contains(strings.ToLower(s.FullName), alias) {
				continue
			}
			if _, ok := matched[s.RollNo]; ok {
				continue
			}
			matched[s.RollNo] = struct{}{}
			ids = append(ids, s.RollNo)
			if name == "" {
				name = s.FullName
			}
		}
	}
	return ids, name, aliasSeen
}

func (t *Translator) startOfToday() time.Time {
	now := t.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
