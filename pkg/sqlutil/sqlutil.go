package sqlutil

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)

	positionalParams = regexp.MustCompile(`\$\d+`)
	mustacheParams   = regexp.MustCompile(`\{\{[^}]*\}\}`)
	quotedStrings    = regexp.MustCompile(`'(?:[^']|'')*'`)
	numbers          = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	whitespace       = regexp.MustCompile(`\s+`)
)

// GenQueryHash returns the hash used to match a query with its results.
// Block comments, whitespace and case do not change the hash.
func GenQueryHash(query string) string {
	stripped := blockComments.ReplaceAllString(query, "")
	compact := strings.ToLower(strings.Join(strings.Fields(stripped), ""))
	sum := md5.Sum([]byte(compact))
	return hex.EncodeToString(sum[:])
}

// NormalizeQuery replaces literals and parameters with ? and collapses
// whitespace, so a query can be logged without the values it carries
func NormalizeQuery(query string) string {
	normalized := positionalParams.ReplaceAllString(query, "?")
	normalized = mustacheParams.ReplaceAllString(normalized, "?")
	normalized = quotedStrings.ReplaceAllString(normalized, "?")
	normalized = numbers.ReplaceAllString(normalized, "?")
	normalized = whitespace.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
