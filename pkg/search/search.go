// Package search turns a free-text search term into SQL conditions.
//
// A term is a set of alternatives separated by an upper-case " OR ". Each
// alternative is a
// list of words that must all appear (case-insensitively) in at least one
// of the searched columns. A word made only of digits also matches the id.
//
//	better OR faster      -> matches "Better" or "Faster"
//	q1 sales              -> both words must appear
//	black or white        -> three words; lower-case "or" is a plain word
package search

import (
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// orSeparator splits alternatives; it is case-sensitive
const orSeparator = " OR "

// Term is a parsed search term
type Term struct {
	Alternatives [][]string
}

// Parse splits q into OR alternatives of lower-cased words
func Parse(q string) Term {
	var term Term
	for _, alt := range strings.Split(q, orSeparator) {
		words := strings.Fields(strings.ToLower(alt))
		if len(words) > 0 {
			term.Alternatives = append(term.Alternatives, words)
		}
	}
	return term
}

// Empty reports whether the term matches everything
func (t Term) Empty() bool {
	return len(t.Alternatives) == 0
}

// EscapeLike escapes LIKE wildcards so s matches literally with ESCAPE '\'
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Condition renders the term as a SQL boolean expression over the given
// text columns and id column. It returns an empty string for an empty term.
func (t Term) Condition(idColumn string, textColumns ...string) (string, []any) {
	if t.Empty() {
		return "", nil
	}

	var (
		alts []string
		args []any
	)
	for _, words := range t.Alternatives {
		var conj []string
		for _, word := range words {
			var disj []string
			pattern := "%" + EscapeLike(word) + "%"
			for _, col := range textColumns {
				disj = append(disj, "LOWER("+col+`) LIKE ? ESCAPE '\'`)
				args = append(args, pattern)
			}
			if id, err := strconv.ParseInt(word, 10, 64); err == nil && idColumn != "" {
				disj = append(disj, idColumn+" = ?")
				args = append(args, id)
			}
			conj = append(conj, "("+strings.Join(disj, " OR ")+")")
		}
		alts = append(alts, "("+strings.Join(conj, " AND ")+")")
	}
	return "(" + strings.Join(alts, " OR ") + ")", args
}

// Scope returns a gorm scope applying the term; empty terms are a no-op
func (t Term) Scope(idColumn string, textColumns ...string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		cond, args := t.Condition(idColumn, textColumns...)
		if cond == "" {
			return db
		}
		return db.Where(cond, args...)
	}
}
