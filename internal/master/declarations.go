package master

import (
	"fmt"
	"strconv"
	"strings"

	"db_schema_reconciler/internal/schema"
)

// simpleColumns maps declaration names that take only a column name.
var simpleColumns = map[string]schema.Kind{
	"unsignedInteger":      schema.KindUnsignedInteger,
	"integer":              schema.KindInteger,
	"unsignedSmallInteger": schema.KindSmallUnsignedInteger,
	"unsignedTinyInteger":  schema.KindTinyUnsignedInteger,
	"text":                 schema.KindText,
	"longText":             schema.KindLongText,
	"boolean":              schema.KindBoolean,
	"timestamp":            schema.KindTimestamp,
	"date":                 schema.KindDate,
	"dateTime":             schema.KindDateTime,
	"datetime":             schema.KindDateTime,
}

// foreignModifiers are the chain elements that configure a foreign key
// rather than a column when they follow foreignId().
var foreignModifiers = map[string]bool{
	"constrained":      true,
	"references":       true,
	"on":               true,
	"onDelete":         true,
	"onUpdate":         true,
	"nullOnDelete":     true,
	"cascadeOnDelete":  true,
	"restrictOnDelete": true,
	"noActionOnDelete": true,
	"name":             true,
}

type tableBuilder struct {
	t schema.Table
}

func newTableBuilder(name string) *tableBuilder {
	return &tableBuilder{t: schema.Table{Name: name}}
}

func (b *tableBuilder) apply(st statement) error {
	head, mods := st[0], st[1:]
	switch head.name {
	case "foreign":
		return b.foreign(head, mods)
	case "foreignId":
		return b.foreignID(head, mods)
	case "index":
		return b.index(head, mods, false)
	case "unique":
		return b.index(head, mods, true)
	case "primary":
		return b.primary(head, mods)
	case "timestamps":
		return b.nullableTimestamps(head, mods, "created_at", "updated_at")
	case "softDeletes":
		return b.nullableTimestamps(head, mods, "deleted_at")
	case "enum":
		col, err := enumColumn(head)
		if err != nil {
			return err
		}
		return b.addColumn(col, mods, false, head.line)
	default:
		col, primary, err := column(head)
		if err != nil {
			return err
		}
		return b.addColumn(col, mods, primary, head.line)
	}
}

// column builds a column from a general declaration. The boolean result is
// true when the declaration implies the primary key.
func column(c call) (schema.Column, bool, error) {
	name, err := stringArg(c, 0, "column name")
	if err != nil {
		return schema.Column{}, false, err
	}
	col := schema.Column{Name: name}
	switch c.name {
	case "increments":
		if err := maxArgs(c, 1); err != nil {
			return col, false, err
		}
		col.Type = schema.Simple(schema.KindUnsignedInteger)
		col.AutoIncrement = true
		return col, true, nil
	case "string":
		if err := maxArgs(c, 2); err != nil {
			return col, false, err
		}
		length, err := optionalInt(c, 1, schema.DefaultStringLength)
		if err != nil {
			return col, false, err
		}
		if length <= 0 {
			return col, false, syntaxErr(c.line, "string(%q) length must be positive", name)
		}
		col.Type = schema.String(length)
		return col, false, nil
	case "decimal":
		if err := maxArgs(c, 3); err != nil {
			return col, false, err
		}
		precision, err := optionalInt(c, 1, 8)
		if err != nil {
			return col, false, err
		}
		scale, err := optionalInt(c, 2, 2)
		if err != nil {
			return col, false, err
		}
		if scale > precision {
			return col, false, syntaxErr(c.line, "decimal(%q) scale %d exceeds precision %d", name, scale, precision)
		}
		col.Type = schema.Decimal(precision, scale)
		return col, false, nil
	}
	kind, ok := simpleColumns[c.name]
	if !ok {
		return col, false, syntaxErr(c.line, "unknown declaration %s()", c.name)
	}
	if err := maxArgs(c, 1); err != nil {
		return col, false, err
	}
	col.Type = schema.Simple(kind)
	return col, false, nil
}

// enumColumn parses enum("name", ["a", "b"]). The value list is mandatory
// and must be a literal list of strings.
func enumColumn(c call) (schema.Column, error) {
	name, err := stringArg(c, 0, "column name")
	if err != nil {
		return schema.Column{}, err
	}
	if len(c.args) != 2 || c.args[1].kind != valList {
		return schema.Column{}, syntaxErr(c.line, "enum(%q) requires a list of values", name)
	}
	values := make([]string, 0, len(c.args[1].list))
	seen := map[string]bool{}
	for _, v := range c.args[1].list {
		if v.kind != valString {
			return schema.Column{}, syntaxErr(c.line, "enum(%q) values must be strings, found %s", name, v.describe())
		}
		if seen[v.text] {
			return schema.Column{}, syntaxErr(c.line, "enum(%q) repeats value %q", name, v.text)
		}
		seen[v.text] = true
		values = append(values, v.text)
	}
	if len(values) == 0 {
		return schema.Column{}, syntaxErr(c.line, "enum(%q) requires at least one value", name)
	}
	return schema.Column{Name: name, Type: schema.Enum(values...)}, nil
}

func (b *tableBuilder) addColumn(col schema.Column, mods []call, primary bool, line int) error {
	if b.t.HasColumn(col.Name) {
		return syntaxErr(line, "column %s declared twice", col.Name)
	}
	var indexes []schema.Index
	for _, m := range mods {
		switch m.name {
		case "nullable":
			if err := maxArgs(m, 1); err != nil {
				return err
			}
			nullable := true
			if len(m.args) == 1 {
				if m.args[0].kind != valBool {
					return syntaxErr(m.line, "nullable() takes a boolean")
				}
				nullable = m.args[0].text == "true"
			}
			col.Nullable = nullable
		case "default":
			if len(m.args) != 1 {
				return syntaxErr(m.line, "default() takes exactly one value")
			}
			d, err := defaultFrom(m.args[0])
			if err != nil {
				return syntaxErr(m.line, "%s", err.Error())
			}
			col.Default = d
		case "useCurrent":
			col.Default = schema.ExpressionDefault("CURRENT_TIMESTAMP")
		case "autoIncrement":
			if !col.Type.IsInteger() {
				return syntaxErr(m.line, "autoIncrement() on non-integer column %s", col.Name)
			}
			col.AutoIncrement = true
			primary = true
		case "unsigned":
			if col.Type.Kind != schema.KindInteger {
				return syntaxErr(m.line, "unsigned() only applies to integer columns")
			}
			col.Type = schema.Simple(schema.KindUnsignedInteger)
		case "primary":
			primary = true
		case "unique":
			indexes = append(indexes, schema.Index{Name: indexName(b.t.Name, []string{col.Name}, "unique"), Columns: []string{col.Name}, Unique: true})
		case "index":
			indexes = append(indexes, schema.Index{Name: indexName(b.t.Name, []string{col.Name}, "index"), Columns: []string{col.Name}})
		default:
			return syntaxErr(m.line, "unknown modifier %s() on column %s", m.name, col.Name)
		}
	}
	b.t.Columns = append(b.t.Columns, col)
	if primary {
		if err := b.setPrimary([]string{col.Name}, line); err != nil {
			return err
		}
	}
	for _, idx := range indexes {
		if err := b.addIndex(idx, line); err != nil {
			return err
		}
	}
	return nil
}

func (b *tableBuilder) foreign(head call, mods []call) error {
	col, err := stringArg(head, 0, "foreign key column")
	if err != nil {
		return err
	}
	if err := maxArgs(head, 2); err != nil {
		return err
	}
	fk := schema.ForeignKey{Column: col, OnDelete: schema.RuleRestrict}
	if len(head.args) == 2 {
		if fk.Name, err = stringArg(head, 1, "constraint name"); err != nil {
			return err
		}
	}
	if err := applyForeignModifiers(&fk, mods, head.line); err != nil {
		return err
	}
	return b.addForeignKey(fk, head.line)
}

// foreignID declares an unsigned integer column and its foreign key in one
// statement: foreignId("event").constrained("event").nullable().
func (b *tableBuilder) foreignID(head call, mods []call) error {
	col, err := stringArg(head, 0, "column name")
	if err != nil {
		return err
	}
	if err := maxArgs(head, 1); err != nil {
		return err
	}
	var colMods, fkMods []call
	for _, m := range mods {
		if foreignModifiers[m.name] {
			fkMods = append(fkMods, m)
		} else {
			colMods = append(colMods, m)
		}
	}
	if err := b.addColumn(schema.Column{Name: col, Type: schema.Simple(schema.KindUnsignedInteger)}, colMods, false, head.line); err != nil {
		return err
	}
	if len(fkMods) == 0 {
		return nil
	}
	fk := schema.ForeignKey{Column: col, OnDelete: schema.RuleRestrict}
	if err := applyForeignModifiers(&fk, fkMods, head.line); err != nil {
		return err
	}
	return b.addForeignKey(fk, head.line)
}

func applyForeignModifiers(fk *schema.ForeignKey, mods []call, line int) error {
	for _, m := range mods {
		switch m.name {
		case "references":
			cols, err := columnsArg(m, 0)
			if err != nil {
				return err
			}
			if len(cols) != 1 {
				return syntaxErr(m.line, "references() takes exactly one column")
			}
			fk.RefColumn = cols[0]
		case "on":
			table, err := stringArg(m, 0, "referenced table")
			if err != nil {
				return err
			}
			fk.RefTable = table
		case "constrained":
			if err := maxArgs(m, 2); err != nil {
				return err
			}
			if len(m.args) > 0 {
				table, err := stringArg(m, 0, "referenced table")
				if err != nil {
					return err
				}
				fk.RefTable = table
			} else {
				fk.RefTable = strings.TrimSuffix(fk.Column, "_id")
			}
			fk.RefColumn = "id"
			if len(m.args) == 2 {
				col, err := stringArg(m, 1, "referenced column")
				if err != nil {
					return err
				}
				fk.RefColumn = col
			}
		case "onDelete":
			raw, err := stringArg(m, 0, "delete rule")
			if err != nil {
				return err
			}
			rule, err := schema.ParseDeleteRule(raw)
			if err != nil {
				return syntaxErr(m.line, "%s", err.Error())
			}
			fk.OnDelete = rule
		case "nullOnDelete":
			fk.OnDelete = schema.RuleSetNull
		case "cascadeOnDelete":
			fk.OnDelete = schema.RuleCascade
		case "restrictOnDelete", "noActionOnDelete":
			fk.OnDelete = schema.RuleRestrict
		case "onUpdate":
			// update rules are not tracked by the engine
		case "name":
			name, err := stringArg(m, 0, "constraint name")
			if err != nil {
				return err
			}
			fk.Name = name
		default:
			return syntaxErr(m.line, "unknown modifier %s() on foreign key %s", m.name, fk.Column)
		}
	}
	if fk.RefTable == "" || fk.RefColumn == "" {
		return syntaxErr(line, "foreign key %s needs references() and on()", fk.Column)
	}
	return nil
}

func (b *tableBuilder) addForeignKey(fk schema.ForeignKey, line int) error {
	if fk.Name == "" {
		fk.Name = indexName(b.t.Name, []string{fk.Column}, "foreign")
	}
	for _, existing := range b.t.ForeignKeys {
		if existing.Name == fk.Name {
			return syntaxErr(line, "foreign key %s declared twice", fk.Name)
		}
		if existing.Column == fk.Column && existing.RefTable == fk.RefTable {
			return syntaxErr(line, "foreign key on %s to %s declared twice", fk.Column, fk.RefTable)
		}
	}
	b.t.ForeignKeys = append(b.t.ForeignKeys, fk)
	return nil
}

// index handles both the explicit form index(["a", "b"], "name") and the
// positional form index("a") with a generated name.
func (b *tableBuilder) index(head call, mods []call, unique bool) error {
	if len(mods) > 0 {
		return syntaxErr(mods[0].line, "unknown modifier %s() on index", mods[0].name)
	}
	if err := maxArgs(head, 2); err != nil {
		return err
	}
	cols, err := columnsArg(head, 0)
	if err != nil {
		return err
	}
	suffix := "index"
	if unique {
		suffix = "unique"
	}
	name := indexName(b.t.Name, cols, suffix)
	if len(head.args) == 2 {
		if name, err = stringArg(head, 1, "index name"); err != nil {
			return err
		}
	}
	return b.addIndex(schema.Index{Name: name, Columns: cols, Unique: unique}, head.line)
}

func (b *tableBuilder) addIndex(idx schema.Index, line int) error {
	if _, exists := b.t.Index(idx.Name); exists {
		return syntaxErr(line, "index %s declared twice", idx.Name)
	}
	b.t.Indexes = append(b.t.Indexes, idx)
	return nil
}

func (b *tableBuilder) primary(head call, mods []call) error {
	if len(mods) > 0 {
		return syntaxErr(mods[0].line, "unknown modifier %s() on primary key", mods[0].name)
	}
	if err := maxArgs(head, 1); err != nil {
		return err
	}
	cols, err := columnsArg(head, 0)
	if err != nil {
		return err
	}
	return b.setPrimary(cols, head.line)
}

func (b *tableBuilder) setPrimary(cols []string, line int) error {
	if len(b.t.PrimaryKey) > 0 {
		if strings.Join(b.t.PrimaryKey, ",") == strings.Join(cols, ",") {
			return nil
		}
		return syntaxErr(line, "primary key already declared as (%s)", strings.Join(b.t.PrimaryKey, ", "))
	}
	b.t.PrimaryKey = append([]string(nil), cols...)
	return nil
}

func (b *tableBuilder) nullableTimestamps(head call, mods []call, names ...string) error {
	if len(head.args) > 0 || len(mods) > 0 {
		return syntaxErr(head.line, "%s() takes no arguments or modifiers", head.name)
	}
	for _, name := range names {
		col := schema.Column{Name: name, Type: schema.Simple(schema.KindTimestamp), Nullable: true}
		if err := b.addColumn(col, nil, false, head.line); err != nil {
			return err
		}
	}
	return nil
}

func defaultFrom(v value) (schema.Default, error) {
	switch v.kind {
	case valString:
		return schema.StringDefault(v.text), nil
	case valNumber:
		if _, err := strconv.ParseFloat(v.text, 64); err != nil {
			return schema.Default{}, fmt.Errorf("invalid numeric default %s", v.text)
		}
		return schema.NumberDefault(v.text), nil
	case valBool:
		return schema.BoolDefault(v.text == "true"), nil
	case valNull:
		return schema.NoDefault(), nil
	default:
		return schema.Default{}, fmt.Errorf("default() does not accept %s", v.describe())
	}
}

// indexName derives the conventional name {table}_{cols}_{suffix}.
func indexName(table string, cols []string, suffix string) string {
	name := strings.ToLower(table + "_" + strings.Join(cols, "_") + "_" + suffix)
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

func stringArg(c call, i int, what string) (string, error) {
	if i >= len(c.args) {
		return "", syntaxErr(c.line, "%s() is missing the %s", c.name, what)
	}
	v := c.args[i]
	if v.kind != valString || v.text == "" {
		return "", syntaxErr(c.line, "%s() expects the %s as a string, found %s", c.name, what, v.describe())
	}
	return v.text, nil
}

// columnsArg accepts a single column name or a list of names.
func columnsArg(c call, i int) ([]string, error) {
	if i >= len(c.args) {
		return nil, syntaxErr(c.line, "%s() is missing its columns", c.name)
	}
	v := c.args[i]
	switch v.kind {
	case valString:
		return []string{v.text}, nil
	case valList:
		if len(v.list) == 0 {
			return nil, syntaxErr(c.line, "%s() needs at least one column", c.name)
		}
		out := make([]string, len(v.list))
		for n, item := range v.list {
			if item.kind != valString {
				return nil, syntaxErr(c.line, "%s() column names must be strings", c.name)
			}
			out[n] = item.text
		}
		return out, nil
	default:
		return nil, syntaxErr(c.line, "%s() expects a column or list of columns, found %s", c.name, v.describe())
	}
}

func optionalInt(c call, i, def int) (int, error) {
	if i >= len(c.args) {
		return def, nil
	}
	v := c.args[i]
	if v.kind != valNumber {
		return 0, syntaxErr(c.line, "%s() argument %d must be a number", c.name, i+1)
	}
	n, err := strconv.Atoi(v.text)
	if err != nil {
		return 0, syntaxErr(c.line, "%s() argument %d must be an integer", c.name, i+1)
	}
	return n, nil
}

func maxArgs(c call, n int) error {
	if len(c.args) > n {
		return syntaxErr(c.line, "%s() takes at most %d arguments", c.name, n)
	}
	return nil
}
