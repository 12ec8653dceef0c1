// Package queryparser rewrites user-level Boolean search queries into the
// lexical-search syntax of a specific storage backend.
package queryparser

import (
	"regexp"
	"strings"
)

var (
	wordAnd = regexp.MustCompile(`(?i)\band\b`)
	wordOr  = regexp.MustCompile(`(?i)\bor\b`)
	// A trailing * on a word, with the * at a word boundary. The character
	// after the wildcard is captured and re-emitted because RE2 has no
	// lookahead.
	prefixWildcard = regexp.MustCompile(`\b(\w+)\*([^\w]|$)`)
)

// tsqueryOperators are the tokens recognized as already-explicit operators
// when inserting implicit conjunctions. Matching is case-insensitive.
var tsqueryOperators = map[string]bool{
	"&":   true,
	"|":   true,
	"and": true,
	"or":  true,
}

// ToFTS5 rewrites a query for the SQLite FTS5 MATCH operator: every
// whole-word, case-insensitive "and"/"or" becomes uppercase AND/OR. All
// other tokens, including word* wildcards, are native FTS5 syntax and pass
// through unchanged.
func ToFTS5(query string) string {
	query = strings.TrimSpace(query)
	query = wordAnd.ReplaceAllString(query, "AND")
	query = wordOr.ReplaceAllString(query, "OR")
	return query
}

// ToTSQuery rewrites a query for the PostgreSQL to_tsquery function.
// Adjacent terms get an implicit & conjunction, word-form operators become
// their symbolic equivalents, and word* wildcards become word:* prefix
// matches.
func ToTSQuery(query string) string {
	query = strings.TrimSpace(query)

	words := strings.Fields(query)
	out := make([]string, 0, 2*len(words))
	for i, word := range words {
		out = append(out, word)
		if tsqueryOperators[strings.ToLower(word)] {
			continue
		}
		if i+1 < len(words) && !tsqueryOperators[strings.ToLower(words[i+1])] {
			out = append(out, "&")
		}
	}
	query = strings.Join(out, " ")

	query = wordAnd.ReplaceAllString(query, "&")
	query = wordOr.ReplaceAllString(query, "|")
	query = prefixWildcard.ReplaceAllString(query, "${1}:*${2}")
	return query
}
