package diff

import (
	"regexp"
	"strconv"
	"strings"

	"db_schema_reconciler/internal/schema"
)

var (
	typeArgs   = regexp.MustCompile(`\([^)]*\)`)
	spaces     = regexp.MustCompile(`\s+`)
	castSuffix = regexp.MustCompile(`::[a-zA-Z_][a-zA-Z_ ]*(\(\d+(,\s*\d+)?\))?(\[\])?$`)
)

// NormalizeType reduces a declared type to its family: lower case, length
// and precision arguments removed, whitespace collapsed. varchar(100) and
// varchar(255) are the same family.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = typeArgs.ReplaceAllString(t, "")
	return strings.TrimSpace(spaces.ReplaceAllString(t, " "))
}

// NormalizeDefault returns a canonical form of a default so that catalog
// spellings compare equal to master declarations: 0/1/true/false are one
// boolean family, numbers are canonicalised, and quoting and casts are
// dropped.
func NormalizeDefault(d schema.Default) string {
	switch d.Kind {
	case schema.DefaultNone:
		return "<none>"
	case schema.DefaultExpression:
		return normalizeExpression(d.Value)
	case schema.DefaultString:
		return normalizeLiteral(d.Value, false)
	default:
		return normalizeLiteral(d.Value, true)
	}
}

func normalizeLiteral(v string, bare bool) string {
	if bare {
		v = unwrap(strings.TrimSpace(v))
		if strings.EqualFold(v, "null") {
			return "<none>"
		}
		v = strings.Trim(v, "'")
	}
	switch strings.ToLower(v) {
	case "true", "b'1'":
		return "1"
	case "false", "b'0'":
		return "0"
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && strings.TrimSpace(v) == v {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return v
}

// unwrap strips catalog decoration from a literal default: surrounding
// parentheses, PostgreSQL casts and SQL quoting.
func unwrap(v string) string {
	for {
		prev := v
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") && balanced(v[1:len(v)-1]) {
			v = v[1 : len(v)-1]
		}
		v = castSuffix.ReplaceAllString(v, "")
		if v == prev {
			break
		}
	}
	if len(v) >= 2 && strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'") {
		return "'" + strings.ReplaceAll(v[1:len(v)-1], "''", "'") + "'"
	}
	return v
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

var currentTimestamp = map[string]bool{
	"current_timestamp":   true,
	"current_timestamp()": true,
	"now()":               true,
	"localtimestamp":      true,
}

// normalizeExpression folds the current-timestamp spellings into one family.
// Any other expression keeps its case; it may embed case-sensitive literals.
func normalizeExpression(v string) string {
	v = unwrap(v)
	lower := strings.ToLower(v)
	if currentTimestamp[lower] || strings.HasPrefix(lower, "current_timestamp(") {
		return "current_timestamp"
	}
	if lit := normalizeLiteral(v, true); lit != v {
		return lit
	}
	return v
}
