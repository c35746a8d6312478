package sqlutil

import (
	"strings"
	"unicode/utf8"
)

// selectIndent aligns select-list columns under the first column.
const selectIndent = len("SELECT ")

type tokenKind int

const (
	tokSpace tokenKind = iota
	tokWord
	tokString
	tokQuoted
	tokNumber
	tokLineComment
	tokBlockComment
	tokPunct
	tokOperator
)

type token struct {
	kind tokenKind
	text string
}

var keywords = map[string]bool{}

func init() {
	for _, kw := range strings.Fields(`
		ALL ALTER AND AS ASC BETWEEN BY CASE CREATE CROSS DELETE DESC DISTINCT
		DROP ELSE END EXCEPT EXISTS FALSE FROM FULL GROUP HAVING ILIKE IN INNER
		INSERT INTERSECT INTO IS JOIN LEFT LIKE LIMIT NATURAL NOT NULL OFFSET ON
		OR ORDER OUTER OVER PARTITION RETURNING RIGHT SELECT SET TABLE THEN TRUE
		UNION UPDATE USING VALUES WHEN WHERE WITH`) {
		keywords[kw] = true
	}
}

var joinPrefixes = map[string]bool{
	"LEFT": true, "RIGHT": true, "INNER": true, "OUTER": true,
	"FULL": true, "CROSS": true, "NATURAL": true,
}

// Format upper-cases keywords and re-indents a SQL statement: each clause
// starts a line, select-list columns get a line each, and AND/OR conditions
// of WHERE and HAVING are indented below their clause. Nested parentheses
// are left on one line.
func Format(sql string) string {
	f := &formatter{lineEmpty: true}
	toks := tokenize(sql)

	for i, tok := range toks {
		if tok.kind != tokSpace && f.statementDone {
			f.buf = append(f.buf, '\n', '\n')
			f.lineStart = len(f.buf)
			f.lineEmpty = true
			f.pendingSpace = false
			f.statementDone = false
		}

		switch tok.kind {
		case tokSpace:
			f.pendingSpace = true
		case tokLineComment:
			f.emit(tok.text)
			f.newline(0)
		case tokPunct:
			f.punct(tok.text)
		case tokWord:
			f.word(tok.text, nextWord(toks, i+1))
		default:
			f.emit(tok.text)
		}
	}

	return strings.TrimSpace(string(f.buf))
}

type formatter struct {
	buf           []byte
	lineStart     int
	lineEmpty     bool
	pendingSpace  bool
	statementDone bool
	depth         int
	clause        string
	prevWord      string
	inBetween     bool
}

func (f *formatter) emit(text string) {
	if f.pendingSpace && !f.lineEmpty {
		f.buf = append(f.buf, ' ')
	}
	f.buf = append(f.buf, text...)
	f.lineEmpty = false
	f.pendingSpace = false
}

func (f *formatter) newline(indent int) {
	if f.lineEmpty {
		f.buf = f.buf[:f.lineStart]
	} else {
		f.buf = append(f.buf, '\n')
		f.lineStart = len(f.buf)
	}
	for i := 0; i < indent; i++ {
		f.buf = append(f.buf, ' ')
	}
	f.lineEmpty = true
	f.pendingSpace = false
}

func (f *formatter) punct(p string) {
	switch p {
	case "(":
		f.emit(p)
		f.depth++
	case ")":
		if f.depth > 0 {
			f.depth--
		}
		f.pendingSpace = false
		f.emit(p)
	case ",":
		f.pendingSpace = false
		f.emit(p)
		if f.depth == 0 && f.clause == "SELECT" {
			f.newline(selectIndent)
		}
	case ";":
		f.pendingSpace = false
		f.emit(p)
		f.depth = 0
		f.clause = ""
		f.prevWord = ""
		f.inBetween = false
		f.statementDone = true
	default:
		f.emit(p)
	}
}

func (f *formatter) word(text, next string) {
	upper := strings.ToUpper(text)
	if !keywords[upper] {
		f.emit(text)
		f.prevWord = upper
		return
	}

	if f.depth == 0 {
		switch upper {
		case "SELECT":
			if !f.lineEmpty {
				f.newline(0)
			}
			f.clause = upper
		case "FROM", "WHERE", "HAVING", "LIMIT", "OFFSET", "UNION", "EXCEPT",
			"INTERSECT", "VALUES", "SET", "RETURNING":
			f.newline(0)
			f.clause = upper
		case "GROUP", "ORDER":
			if next == "BY" {
				f.newline(0)
				f.clause = upper
			}
		case "LEFT", "RIGHT", "INNER", "OUTER", "FULL", "CROSS", "NATURAL":
			if !joinPrefixes[f.prevWord] && (next == "JOIN" || joinPrefixes[next]) {
				f.newline(0)
				f.clause = "FROM"
			}
		case "JOIN":
			if !joinPrefixes[f.prevWord] {
				f.newline(0)
			}
			f.clause = "FROM"
		case "BETWEEN":
			f.inBetween = true
		case "AND", "OR":
			switch {
			case upper == "AND" && f.inBetween:
				f.inBetween = false
			case f.clause == "WHERE" || f.clause == "HAVING":
				f.newline(2)
			}
		}
	}

	f.emit(upper)
	f.prevWord = upper
}

// nextWord returns the upper-cased text of the next word token, skipping
// whitespace and comments.
func nextWord(toks []token, from int) string {
	for _, tok := range toks[from:] {
		switch tok.kind {
		case tokSpace, tokLineComment, tokBlockComment:
			continue
		case tokWord:
			return strings.ToUpper(tok.text)
		default:
			return ""
		}
	}
	return ""
}

func tokenize(s string) []token {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		j := i + 1
		kind := tokOperator

		switch {
		case isSpace(c):
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			kind = tokSpace
		case c == '-' && strings.HasPrefix(s[i:], "--"):
			j = len(s)
			if n := strings.IndexByte(s[i:], '\n'); n >= 0 {
				j = i + n
			}
			kind = tokLineComment
		case c == '/' && strings.HasPrefix(s[i:], "/*"):
			j = len(s)
			if n := strings.Index(s[i+2:], "*/"); n >= 0 {
				j = i + 2 + n + 2
			}
			kind = tokBlockComment
		case c == '\'':
			j = scanQuoted(s, i, c)
			kind = tokString
		case c == '"' || c == '`':
			j = scanQuoted(s, i, c)
			kind = tokQuoted
		case isDigit(c):
			for j < len(s) && (isDigit(s[j]) || s[j] == '.') {
				j++
			}
			kind = tokNumber
		case isWordStart(c):
			for j < len(s) && isWordPart(s[j]) {
				j++
			}
			kind = tokWord
		case strings.IndexByte(",;().", c) >= 0:
			kind = tokPunct
		case c >= utf8.RuneSelf:
			_, size := utf8.DecodeRuneInString(s[i:])
			j = i + size
		default:
			for j < len(s) && strings.IndexByte("=<>!|", s[j]) >= 0 && strings.IndexByte("=<>!|", c) >= 0 {
				j++
			}
		}

		toks = append(toks, token{kind: kind, text: s[i:j]})
		i = j
	}
	return toks
}

func scanQuoted(s string, start int, quote byte) int {
	j := start + 1
	for j < len(s) {
		if s[j] == quote {
			if j+1 < len(s) && s[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(s)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || c == '$' || c == '@' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c >= utf8.RuneSelf
}
