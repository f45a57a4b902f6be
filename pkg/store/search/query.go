// Package search implements token matching over message text fields.
//
// A query is split on whitespace into lower-cased tokens. A message matches
// when every token is a substring of at least one of its lower-cased fields.
// There is no ranking and no index; callers scan candidates newest first.
package search

import (
	"strings"

	"chatevents/pkg/models"
)

// Query is a parsed search request.
type Query struct {
	Tokens  []string
	Senders map[models.UserID]struct{}
}

// ParseQuery tokenizes q. senders optionally restricts candidates.
func ParseQuery(q string, senders []models.UserID) Query {
	out := Query{Tokens: strings.Fields(strings.ToLower(q))}
	if len(senders) > 0 {
		out.Senders = make(map[models.UserID]struct{}, len(senders))
		for _, s := range senders {
			out.Senders[s] = struct{}{}
		}
	}
	return out
}

// Empty queries match nothing.
func (q Query) Empty() bool { return len(q.Tokens) == 0 }

// AllowsSender applies the sender filter.
func (q Query) AllowsSender(sender models.UserID) bool {
	if q.Senders == nil {
		return true
	}
	_, ok := q.Senders[sender]
	return ok
}

// Matches reports whether a message from sender with the given fields matches.
func (q Query) Matches(sender models.UserID, fields []string) bool {
	if q.Empty() || !q.AllowsSender(sender) || len(fields) == 0 {
		return false
	}
	lowered := make([]string, len(fields))
	for i, f := range fields {
		lowered[i] = strings.ToLower(f)
	}
	for _, tok := range q.Tokens {
		found := false
		for _, f := range lowered {
			if strings.Contains(f, tok) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Score counts token occurrences; it only orders matches that are otherwise
// equal and is never used to filter.
func (q Query) Score(fields []string) int {
	n := 0
	for _, f := range fields {
		lf := strings.ToLower(f)
		for _, tok := range q.Tokens {
			n += strings.Count(lf, tok)
		}
	}
	return n
}
