package db

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"db_schema_reconciler/internal/schema"
)

var (
	typeArgsRe = regexp.MustCompile(`^([a-z ]+?)\s*\(([^)]*)\)\s*([a-z ]*)$`)
	castRe     = regexp.MustCompile(`::[a-zA-Z_][a-zA-Z_ ]*(\(\d+(,\s*\d+)?\))?(\[\])?$`)
)

// ParseDeclaredType maps a catalog type string onto the logical type set.
// The declaration is always kept in Raw; unknown declarations get KindOther.
func ParseDeclaredType(raw string) schema.Type {
	decl := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	base, args, suffix := decl, "", ""
	if strings.HasPrefix(decl, "enum(") && strings.HasSuffix(decl, ")") {
		base, args = "enum", raw[strings.Index(raw, "(")+1:strings.LastIndex(raw, ")")]
	} else if m := typeArgsRe.FindStringSubmatch(decl); m != nil {
		base, args, suffix = strings.TrimSpace(m[1]), m[2], strings.TrimSpace(m[3])
	}
	if strings.HasSuffix(base, " unsigned") {
		base, suffix = strings.TrimSuffix(base, " unsigned"), "unsigned"
	}
	unsigned := suffix == "unsigned"

	t := typeFor(base, args, unsigned)
	t.Raw = raw
	return t
}

func typeFor(base, args string, unsigned bool) schema.Type {
	switch base {
	case "int", "integer", "int4", "mediumint", "serial":
		if unsigned {
			return schema.Simple(schema.KindUnsignedInteger)
		}
		return schema.Simple(schema.KindInteger)
	case "smallint", "int2":
		if unsigned {
			return schema.Simple(schema.KindSmallUnsignedInteger)
		}
		return schema.Simple(schema.KindInteger)
	case "tinyint":
		if args == "1" && !unsigned {
			return schema.Simple(schema.KindBoolean)
		}
		if unsigned {
			return schema.Simple(schema.KindTinyUnsignedInteger)
		}
		return schema.Simple(schema.KindInteger)
	case "varchar", "character varying", "nvarchar":
		n, _ := strconv.Atoi(args)
		return schema.String(n)
	case "text", "mediumtext", "clob":
		return schema.Simple(schema.KindText)
	case "longtext":
		return schema.Simple(schema.KindLongText)
	case "boolean", "bool":
		return schema.Simple(schema.KindBoolean)
	case "timestamp", "timestamp without time zone":
		return schema.Simple(schema.KindTimestamp)
	case "date":
		return schema.Simple(schema.KindDate)
	case "datetime":
		return schema.Simple(schema.KindDateTime)
	case "decimal", "numeric":
		parts := strings.Split(args, ",")
		p, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		s := 0
		if len(parts) > 1 {
			s, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
		return schema.Decimal(p, s)
	case "enum":
		return schema.Enum(parseEnumValues(args)...)
	}
	return schema.Type{Kind: schema.KindOther}
}

// parseEnumValues splits a quoted list such as 'a','b' into its values,
// undoubling escaped quotes.
func parseEnumValues(list string) []string {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
	)
	for i := 0; i < len(list); i++ {
		ch := list[i]
		switch {
		case ch == '\'' && inQuote && i+1 < len(list) && list[i+1] == '\'':
			cur.WriteByte('\'')
			i++
		case ch == '\'':
			inQuote = !inQuote
			if !inQuote {
				out = append(out, cur.String())
				cur.Reset()
			}
		case inQuote:
			cur.WriteByte(ch)
		}
	}
	return out
}

var expressionDefaults = map[string]bool{
	"current_timestamp":   true,
	"current_timestamp()": true,
	"now()":               true,
	"current_date":        true,
	"localtimestamp":      true,
}

// ClassifyDefault turns a catalog default into the Default union. Catalogs
// disagree on quoting (MariaDB and SQLite quote strings, MySQL 8 does not,
// PostgreSQL appends casts), so the declared type decides ambiguous cases.
func ClassifyDefault(raw sql.NullString, typ schema.Type, autoIncrement bool) schema.Default {
	if !raw.Valid || autoIncrement {
		return schema.NoDefault()
	}
	v := strings.TrimSpace(raw.String)
	for {
		prev := v
		if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
			v = strings.TrimSpace(v[1 : len(v)-1])
		}
		v = strings.TrimSpace(castRe.ReplaceAllString(v, ""))
		if v == prev {
			break
		}
	}
	lower := strings.ToLower(v)
	switch {
	case lower == "null":
		return schema.NoDefault()
	case strings.HasPrefix(lower, "nextval("):
		return schema.NoDefault()
	case expressionDefaults[lower] || strings.HasPrefix(lower, "current_timestamp("):
		return schema.ExpressionDefault(strings.ToUpper(v))
	case len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'':
		return literalDefault(strings.ReplaceAll(v[1:len(v)-1], "''", "'"), typ)
	}
	switch lower {
	case "true":
		return schema.BoolDefault(true)
	case "false":
		return schema.BoolDefault(false)
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		if typ.Kind == schema.KindBoolean && (v == "0" || v == "1") {
			return schema.BoolDefault(v == "1")
		}
		return schema.NumberDefault(v)
	}
	if strings.ContainsAny(v, "()") {
		return schema.ExpressionDefault(v)
	}
	return schema.StringDefault(v)
}

// classifyMySQLDefault reads a MySQL or MariaDB column default. MySQL 8
// reports string literals unquoted and flags expression defaults with
// DEFAULT_GENERATED in EXTRA; MariaDB quotes literals and reports NULL as a
// word. Unflagged values of textual columns are therefore literals, whatever
// characters they contain.
func classifyMySQLDefault(raw sql.NullString, typ schema.Type, autoIncrement, generated bool) schema.Default {
	if !raw.Valid || autoIncrement {
		return schema.NoDefault()
	}
	if generated {
		d := ClassifyDefault(raw, typ, false)
		switch d.Kind {
		case schema.DefaultNone, schema.DefaultExpression:
			return d
		}
		return schema.ExpressionDefault(strings.TrimSpace(raw.String))
	}
	if !isTextual(typ) {
		return ClassifyDefault(raw, typ, false)
	}
	v := raw.String
	switch {
	case strings.EqualFold(v, "null"):
		return schema.NoDefault()
	case len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'':
		return schema.StringDefault(strings.ReplaceAll(v[1:len(v)-1], "''", "'"))
	}
	return schema.StringDefault(v)
}

func isTextual(typ schema.Type) bool {
	switch typ.Kind {
	case schema.KindString, schema.KindText, schema.KindLongText, schema.KindEnum:
		return true
	}
	return false
}

func literalDefault(v string, typ schema.Type) schema.Default {
	switch typ.Kind {
	case schema.KindBoolean:
		switch strings.ToLower(v) {
		case "1", "true", "t":
			return schema.BoolDefault(true)
		case "0", "false", "f":
			return schema.BoolDefault(false)
		}
	case schema.KindInteger, schema.KindUnsignedInteger, schema.KindSmallUnsignedInteger,
		schema.KindTinyUnsignedInteger, schema.KindDecimal:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return schema.NumberDefault(v)
		}
	}
	return schema.StringDefault(v)
}

// FormatID renders an identifier value as the key used to match canonical
// and live rows: 3, int64(3), "3" and []byte("3") are all "3".
func FormatID(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// splitStatements is a small helper used by every provider to avoid driver
// differences around multi-statements. Line comments are dropped.
func splitStatements(sqlText string) []string {
	var (
		out      []string
		current  strings.Builder
		inSingle bool
		inDouble bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '-':
			if !inSingle && !inDouble && i+1 < len(runes) && runes[i+1] == '-' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				current.WriteRune('\n')
				continue
			}
		case ';':
			if !inSingle && !inDouble {
				flush()
				continue
			}
		}
		current.WriteRune(r)
	}
	flush()
	return out
}
