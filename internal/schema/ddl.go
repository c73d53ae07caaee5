package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

var indexColumnPattern = regexp.MustCompile("(?i)^([`\"]?[A-Za-z0-9_]+[`\"]?)\\s*(?:\\(\\s*([0-9]+)\\s*\\))?\\s*(ASC|DESC)?$")

// ColumnClause is one column definition of a schema.
type ColumnClause struct {
	// Name is the column name.
	Name string

	// Clause is the full definition, starting with the name.
	Clause string
}

// DDL is a table schema split into the parts the upgrader applies
// separately: the create-table body and the secondary indexes.
type DDL struct {
	// Columns are the column definitions in declaration order.
	Columns []ColumnClause

	// Constraints are table-level clauses kept in the create-table body
	// (PRIMARY KEY, CONSTRAINT, FOREIGN KEY, CHECK).
	Constraints []string

	// Indexes are the secondary indexes (KEY, INDEX, UNIQUE KEY).
	Indexes []core.Index
}

// Body returns the create-table body without secondary indexes.
func (d *DDL) Body() string {
	parts := make([]string, 0, len(d.Columns)+len(d.Constraints))
	for _, c := range d.Columns {
		parts = append(parts, c.Clause)
	}
	parts = append(parts, d.Constraints...)
	return strings.Join(parts, ",\n\t")
}

// ColumnNames returns the declared column names.
func (d *DDL) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// ParseDDL splits a schema text into column, constraint and index clauses.
// Clauses are separated by top-level commas; commas inside parentheses or
// quotes are kept.
func ParseDDL(text string) (*DDL, error) {
	clauses, err := splitClauses(text)
	if err != nil {
		return nil, err
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("%w: empty schema", core.ErrConfiguration)
	}

	ddl := &DDL{}
	for _, clause := range clauses {
		words := strings.Fields(strings.ToUpper(clause))
		switch {
		case hasPrefix(words, "PRIMARY", "KEY"),
			hasPrefix(words, "CONSTRAINT"),
			hasPrefix(words, "FOREIGN", "KEY"),
			hasPrefix(words, "CHECK"):
			ddl.Constraints = append(ddl.Constraints, clause)
		case hasPrefix(words, "UNIQUE", "KEY"), hasPrefix(words, "UNIQUE", "INDEX"):
			idx, err := parseIndex(clause, 2, true)
			if err != nil {
				return nil, err
			}
			ddl.Indexes = append(ddl.Indexes, idx)
		case hasPrefix(words, "UNIQUE"):
			idx, err := parseIndex(clause, 1, true)
			if err != nil {
				return nil, err
			}
			ddl.Indexes = append(ddl.Indexes, idx)
		case hasPrefix(words, "KEY"), hasPrefix(words, "INDEX"):
			idx, err := parseIndex(clause, 1, false)
			if err != nil {
				return nil, err
			}
			ddl.Indexes = append(ddl.Indexes, idx)
		default:
			name := unquote(strings.Fields(clause)[0])
			if err := ValidateIdentifier(name); err != nil {
				return nil, fmt.Errorf("%w: column clause %q: %v", core.ErrConfiguration, clause, err)
			}
			ddl.Columns = append(ddl.Columns, ColumnClause{Name: name, Clause: clause})
		}
	}

	if len(ddl.Columns) == 0 {
		return nil, fmt.Errorf("%w: schema declares no columns", core.ErrConfiguration)
	}
	return ddl, nil
}

// parseIndex reads "KEY name (a, b(191))" after skipping the keyword words.
func parseIndex(clause string, keywords int, unique bool) (core.Index, error) {
	open := strings.Index(clause, "(")
	closing := strings.LastIndex(clause, ")")
	if open < 0 || closing < open {
		return core.Index{}, fmt.Errorf("%w: index clause %q has no column list", core.ErrConfiguration, clause)
	}

	head := strings.Fields(clause[:open])
	var name string
	if len(head) > keywords {
		name = unquote(head[keywords])
	}

	var (
		columns   []string
		modifiers []string
		modified  bool
	)
	for _, part := range splitTopLevel(clause[open+1 : closing]) {
		col, mod, err := parseIndexColumn(strings.TrimSpace(part))
		if err != nil {
			return core.Index{}, fmt.Errorf("%w: index clause %q: %v", core.ErrConfiguration, clause, err)
		}
		columns = append(columns, col)
		modifiers = append(modifiers, mod)
		modified = modified || mod != ""
	}
	if !modified {
		modifiers = nil
	}

	if name == "" {
		name = columns[0]
	}
	if err := ValidateIdentifier(name); err != nil {
		return core.Index{}, fmt.Errorf("%w: index clause %q: %v", core.ErrConfiguration, clause, err)
	}

	return core.Index{Name: name, Columns: columns, Modifiers: modifiers, Unique: unique}, nil
}

// parseIndexColumn splits "path(191) DESC" into the column name and the
// modifier text. Only a prefix length and a sort order are accepted.
func parseIndexColumn(part string) (col, mod string, err error) {
	m := indexColumnPattern.FindStringSubmatch(part)
	if m == nil {
		return "", "", fmt.Errorf("unsupported index column %q", part)
	}
	col = unquote(m[1])
	if err := ValidateIdentifier(col); err != nil {
		return "", "", err
	}
	var mods []string
	if m[2] != "" {
		mods = append(mods, "("+m[2]+")")
	}
	if m[3] != "" {
		mods = append(mods, strings.ToUpper(m[3]))
	}
	return col, strings.Join(mods, " "), nil
}

// splitTopLevel splits s on commas outside parentheses.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func splitClauses(text string) ([]string, error) {
	var (
		clauses []string
		current strings.Builder
		depth   int
		quote   rune
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			clauses = append(clauses, s)
		}
		current.Reset()
	}

	for _, r := range text {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced parentheses in schema", core.ErrConfiguration)
			}
		case r == ',' && depth == 0:
			flush()
			continue
		}
		current.WriteRune(r)
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("%w: unterminated quote or parenthesis in schema", core.ErrConfiguration)
	}
	flush()
	return clauses, nil
}

func hasPrefix(words []string, prefix ...string) bool {
	if len(words) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if words[i] != p {
			return false
		}
	}
	return true
}

func unquote(s string) string {
	return strings.Trim(s, "`\"[]")
}
