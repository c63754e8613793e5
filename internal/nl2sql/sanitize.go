package nl2sql

import (
	"regexp"
	"strings"
)

const (
	schemaMetaQuery = "SELECT sql FROM sqlite_master WHERE type='table';"
	tablesMetaQuery = "SELECT name FROM sqlite_master WHERE type='table';"

	commentaryBoundary = "Let's run"
)

var (
	markerPattern       = regexp.MustCompile(`(?i)SQLQuery:[ \t]*`)
	sectionLabelPattern = regexp.MustCompile(`(?i)^\s*(?:SQLResult|Answer|Question|SQLQuery)\s*:`)
	// A fence is three backticks, optionally followed by a language tag.
	fencePattern        = regexp.MustCompile("(?i)```(?:[a-z0-9_+-]+[ \\t]*(?:\\r?\\n|$)|sql)?")
)

// continuationKeywords start lines that extend a statement begun on the
// marker line.
var continuationKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "group": {}, "order": {},
	"having": {}, "limit": {}, "offset": {}, "join": {}, "inner": {},
	"left": {}, "right": {}, "full": {}, "cross": {}, "outer": {},
	"natural": {}, "on": {}, "and": {}, "or": {}, "union": {},
	"intersect": {}, "except": {}, "with": {}, "values": {}, "using": {},
	"window": {}, "qualify": {}, "fetch": {},
}

var readOnlyKeywords = map[string]struct{}{
	"select":   {},
	"with":     {},
	"pragma":   {},
	"show":     {},
	"describe": {},
	"explain":  {},
	"values":   {},
	"table":    {},
}

// Query is the single statement extracted from model output.
type Query struct {
	// SQL is fence-free and ends in exactly one semicolon.
	SQL string
	// Candidate is the text the statement was extracted from.
	Candidate string
	// MarkerFound is false when no "SQLQuery:" marker was present and the
	// whole output was used as the candidate.
	MarkerFound bool
	// Rewritten is set when a shell meta-command was replaced.
	Rewritten bool
}

// Empty reports whether nothing but the terminator survived.
func (q Query) Empty() bool {
	return strings.TrimSpace(strings.TrimSuffix(q.SQL, ";")) == ""
}

// Executable reports whether the statement should be sent to the
// database. Output without a marker is only trusted when it already
// reads like a statement.
func (q Query) Executable() bool {
	if q.Empty() {
		return false
	}
	if q.MarkerFound || q.Rewritten {
		return true
	}
	_, ok := readOnlyKeywords[firstKeyword(q.SQL)]
	return ok
}

// Sanitize extracts one executable statement from raw model output. It
// never fails; the worst case is an empty statement.
func Sanitize(raw string) Query {
	candidate, found := extractCandidate(raw)
	query := Query{Candidate: candidate, MarkerFound: found}

	cleaned := fencePattern.ReplaceAllString(candidate, "")
	if idx := strings.Index(cleaned, commentaryBoundary); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	cleaned = stripComments(cleaned)
	cleaned = stripTrailingSemicolons(cleaned)

	switch {
	case strings.HasPrefix(cleaned, ".schema"):
		query.SQL = schemaMetaQuery
		query.Rewritten = true
	case strings.HasPrefix(cleaned, ".tables"):
		query.SQL = tablesMetaQuery
		query.Rewritten = true
	default:
		query.SQL = cleaned + ";"
	}
	return query
}

// extractCandidate returns the statement that follows the first marker.
// That is the rest of the marker line plus any following lines that
// continue it. A marker line that only opens a code fence takes the whole
// fenced block.
func extractCandidate(raw string) (string, bool) {
	loc := markerPattern.FindStringIndex(raw)
	if loc == nil {
		return raw, false
	}
	rest := strings.TrimLeft(raw[loc[1]:], " \t\r\n")
	lines := strings.Split(rest, "\n")

	first := strings.TrimSpace(lines[0])
	if strings.HasPrefix(first, "```") && strings.Count(first, "```") == 1 {
		body := rest[len(lines[0]):]
		if end := strings.Index(body, "```"); end >= 0 {
			return lines[0] + body[:end+3], true
		}
		return rest, true
	}

	kept := []string{strings.TrimRight(lines[0], "\r")}
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if !continuesStatement(kept[len(kept)-1], line) {
			break
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), true
}

// continuesStatement reports whether line reads as part of the SQL
// statement ending in prev rather than prose or a section label.
func continuesStatement(prev, line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || sectionLabelPattern.MatchString(line) {
		return false
	}
	prev = strings.TrimSpace(prev)
	if strings.HasSuffix(prev, ";") {
		return false
	}
	if strings.HasSuffix(prev, ",") || strings.HasSuffix(prev, "(") || line[0] == ' ' || line[0] == '\t' {
		return true
	}
	if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "/*") {
		return true
	}
	if word := firstKeyword(trimmed); word != "" {
		_, ok := continuationKeywords[word]
		return ok
	}
	// Lines opening with punctuation or a literal: ")", ",", "'x'", "10".
	return true
}

// stripComments removes "--" line comments and "/* */" block comments
// that sit outside quoted strings and identifiers, then drops lines left
// blank.
func stripComments(value string) string {
	var (
		b     strings.Builder
		quote byte
	)
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '-' && i+1 < len(value) && value[i+1] == '-':
			end := strings.IndexByte(value[i:], '\n')
			if end < 0 {
				i = len(value)
				continue
			}
			i += end - 1
		case c == '/' && i+1 < len(value) && value[i+1] == '*':
			end := strings.Index(value[i+2:], "*/")
			if end < 0 {
				i = len(value)
				continue
			}
			i += end + 3
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// IsReadOnly reports whether sqlText is a single statement that starts
// with a read-only keyword.
func IsReadOnly(sqlText string) bool {
	body := stripTrailingSemicolons(sqlText)
	if body == "" {
		return false
	}
	if _, ok := readOnlyKeywords[firstKeyword(body)]; !ok {
		return false
	}
	return !hasStatementSeparator(body)
}

func firstKeyword(sqlText string) string {
	trimmed := strings.TrimLeft(sqlText, " \t\r\n(")
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(trimmed)
	}
	return strings.ToLower(trimmed[:end])
}

func hasStatementSeparator(sqlText string) bool {
	var quote rune
	for _, r := range sqlText {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			return true
		}
	}
	return false
}
