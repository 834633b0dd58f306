package schema

import (
	"fmt"
	"strings"
)

// Kind is the logical type family of a column.
type Kind string

const (
	KindUnsignedInteger      Kind = "unsigned_integer"
	KindInteger              Kind = "integer"
	KindSmallUnsignedInteger Kind = "small_unsigned_integer"
	KindTinyUnsignedInteger  Kind = "tiny_unsigned_integer"
	KindString               Kind = "string"
	KindText                 Kind = "text"
	KindLongText             Kind = "long_text"
	KindBoolean              Kind = "boolean"
	KindTimestamp            Kind = "timestamp"
	KindDate                 Kind = "date"
	KindDateTime             Kind = "datetime"
	KindDecimal              Kind = "decimal"
	KindEnum                 Kind = "enum"
	// KindOther marks a live column whose declared type is outside the
	// closed set; Raw carries the declaration.
	KindOther Kind = "other"
)

// DefaultStringLength is used by string columns declared without a length.
const DefaultStringLength = 255

// Type is a logical column type. Raw holds the declared type string reported
// by a live catalog and is empty for master columns.
type Type struct {
	Kind      Kind
	Length    int
	Precision int
	Scale     int
	Values    []string
	Raw       string
}

func Simple(kind Kind) Type { return Type{Kind: kind} }

func String(length int) Type {
	if length <= 0 {
		length = DefaultStringLength
	}
	return Type{Kind: KindString, Length: length}
}

func Decimal(precision, scale int) Type {
	return Type{Kind: KindDecimal, Precision: precision, Scale: scale}
}

func Enum(values ...string) Type {
	return Type{Kind: KindEnum, Values: append([]string(nil), values...)}
}

// Other wraps a declared type the engine has no logical kind for.
func Other(raw string) Type {
	return Type{Kind: KindOther, Raw: raw}
}

// String renders the logical type, e.g. string(100) or decimal(8,2).
func (t Type) String() string {
	switch t.Kind {
	case KindString:
		return fmt.Sprintf("string(%d)", t.Length)
	case KindDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case KindEnum:
		return "enum(" + QuoteValues(t.Values) + ")"
	case KindOther:
		return t.Raw
	default:
		return string(t.Kind)
	}
}

// Equal compares logical types, ignoring Raw.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Length != o.Length || t.Precision != o.Precision || t.Scale != o.Scale {
		return false
	}
	if t.Kind == KindOther && !strings.EqualFold(t.Raw, o.Raw) {
		return false
	}
	if len(t.Values) != len(o.Values) {
		return false
	}
	for i := range t.Values {
		if t.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// IsInteger reports whether the kind is one of the integer families.
func (t Type) IsInteger() bool {
	switch t.Kind {
	case KindUnsignedInteger, KindInteger, KindSmallUnsignedInteger, KindTinyUnsignedInteger:
		return true
	}
	return false
}

// QuoteValues renders enum values as a SQL list of single-quoted literals.
func QuoteValues(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ",")
}

// DefaultKind discriminates the Default union.
type DefaultKind int

const (
	DefaultNone DefaultKind = iota
	DefaultBool
	DefaultNumber
	DefaultString
	// DefaultExpression is a catalog expression such as CURRENT_TIMESTAMP.
	DefaultExpression
)

// Default is a column default: none, boolean, number, string or expression.
// Value keeps the textual form ("1", "0.50", "Unnamed Room").
type Default struct {
	Kind  DefaultKind
	Value string
}

func NoDefault() Default { return Default{} }

func BoolDefault(v bool) Default {
	if v {
		return Default{Kind: DefaultBool, Value: "1"}
	}
	return Default{Kind: DefaultBool, Value: "0"}
}

func NumberDefault(v string) Default { return Default{Kind: DefaultNumber, Value: v} }

func StringDefault(v string) Default { return Default{Kind: DefaultString, Value: v} }

func ExpressionDefault(v string) Default { return Default{Kind: DefaultExpression, Value: v} }

// IsSet reports whether a default is present.
func (d Default) IsSet() bool { return d.Kind != DefaultNone }

func (d Default) String() string {
	switch d.Kind {
	case DefaultNone:
		return "none"
	case DefaultString:
		return "'" + d.Value + "'"
	default:
		return d.Value
	}
}

// DeleteRule is a foreign-key ON DELETE policy.
type DeleteRule string

const (
	RuleRestrict DeleteRule = "RESTRICT"
	RuleCascade  DeleteRule = "CASCADE"
	RuleSetNull  DeleteRule = "SET NULL"
)

// ParseDeleteRule accepts the spellings used by schema documents and
// catalogs. NO ACTION is behaviourally identical to RESTRICT and maps to it.
func ParseDeleteRule(s string) (DeleteRule, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.Join(strings.FieldsFunc(norm, func(r rune) bool { return r == '_' || r == ' ' || r == '-' }), " ")
	switch norm {
	case "", "RESTRICT", "NO ACTION":
		return RuleRestrict, nil
	case "CASCADE":
		return RuleCascade, nil
	case "SET NULL", "NULL":
		return RuleSetNull, nil
	default:
		return "", fmt.Errorf("unsupported delete rule %q", s)
	}
}

// NormalizeDeleteRule maps catalog values onto the known rules; anything
// unrecognised is kept upper-cased so it surfaces as a mismatch.
func NormalizeDeleteRule(s string) DeleteRule {
	rule, err := ParseDeleteRule(s)
	if err != nil {
		return DeleteRule(strings.ToUpper(strings.TrimSpace(s)))
	}
	return rule
}
