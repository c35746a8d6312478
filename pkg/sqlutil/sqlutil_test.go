package sqlutil

import (
	"testing"
)

func TestGenQueryHash(t *testing.T) {
	base := GenQueryHash("SELECT 1")

	if len(base) != 32 {
		t.Fatalf("Expected 32 hex chars, got %d (%q)", len(base), base)
	}

	tests := []struct {
		name  string
		query string
		same  bool
	}{
		{name: "case insensitive", query: "select 1", same: true},
		{name: "whitespace insensitive", query: "  SELECT\n\t1 ", same: true},
		{name: "block comments stripped", query: "/* dashboard: sales */ SELECT 1", same: true},
		{name: "different query", query: "SELECT 2", same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenQueryHash(tt.query)
			if (got == base) != tt.same {
				t.Errorf("GenQueryHash(%q) = %s, base %s, expected same=%v", tt.query, got, base, tt.same)
			}
		})
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{
			name:     "positional parameters",
			query:    "SELECT * FROM users WHERE id = $1 AND name = $2",
			expected: "SELECT * FROM users WHERE id = ? AND name = ?",
		},
		{
			name:     "mustache parameters",
			query:    "SELECT * FROM events WHERE day = '{{ day }}' AND kind = {{kind}}",
			expected: "SELECT * FROM events WHERE day = ? AND kind = ?",
		},
		{
			name:     "quoted strings with escaped quotes",
			query:    "SELECT * FROM users WHERE name = 'O''Brien'",
			expected: "SELECT * FROM users WHERE name = ?",
		},
		{
			name:     "numbers",
			query:    "SELECT * FROM users WHERE age > 18 AND score < 2.5",
			expected: "SELECT * FROM users WHERE age > ? AND score < ?",
		},
		{
			name:     "whitespace",
			query:    "SELECT  *   FROM   users\n  WHERE   id = 1",
			expected: "SELECT * FROM users WHERE id = ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeQuery(tt.query); got != tt.expected {
				t.Errorf("NormalizeQuery() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{
			name:  "select list and where conditions",
			query: "select a,b,c FROM foobar Where x=1 and y=2;",
			expected: `SELECT a,
       b,
       c
FROM foobar
WHERE x=1
  AND y=2;`,
		},
		{
			name:  "joins grouping and between",
			query: "select a, count(*) from t left join u on t.id = u.tid where a between 1 and 2 and b = 'x' group by a order by a desc",
			expected: `SELECT a,
       count(*)
FROM t
LEFT JOIN u ON t.id = u.tid
WHERE a BETWEEN 1 AND 2
  AND b = 'x'
GROUP BY a
ORDER BY a DESC`,
		},
		{
			name:     "keywords inside strings untouched",
			query:    "select 'from where' as label from t",
			expected: "SELECT 'from where' AS label\nFROM t",
		},
		{
			name:     "subquery stays inline",
			query:    "select * from t where id in (select id from u where x = 1)",
			expected: "SELECT *\nFROM t\nWHERE id IN (SELECT id FROM u WHERE x = 1)",
		},
		{
			name:     "multiple statements",
			query:    "select 1; select 2",
			expected: "SELECT 1;\n\nSELECT 2",
		},
		{
			name:     "line comment",
			query:    "select a -- first column\nfrom t",
			expected: "SELECT a -- first column\nFROM t",
		},
		{
			name:     "empty",
			query:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.query)
			if got != tt.expected {
				t.Errorf("Format() mismatch\n got: %q\nwant: %q", got, tt.expected)
			}
		})
	}
}

func TestFormatIsStable(t *testing.T) {
	once := Format("select a,b from t where x=1 or y=2")
	twice := Format(once)
	if once != twice {
		t.Errorf("Format is not idempotent:\n%s\n---\n%s", once, twice)
	}
}
