package coordinator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// Identifier is a validated SQL identifier. Schema object names resolved
// from configuration pass through NewIdentifier before they reach any DDL,
// so arbitrary document values cannot inject SQL.
type Identifier string

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedIdents are keywords rejected even though they would quote cleanly.
// Objects named like these are invariably configuration mistakes.
var reservedIdents = map[string]struct{}{
	"all": {}, "and": {}, "any": {}, "create": {}, "delete": {}, "drop": {},
	"from": {}, "grant": {}, "group": {}, "index": {}, "insert": {},
	"into": {}, "not": {}, "null": {}, "or": {}, "order": {}, "select": {},
	"table": {}, "to": {}, "union": {}, "update": {}, "user": {}, "where": {},
}

// NewIdentifier validates a configured name: lowercase snake_case, at most
// 63 bytes (the Postgres identifier limit), not a reserved keyword.
func NewIdentifier(s string) (Identifier, error) {
	if s == "" {
		return "", fmt.Errorf("identifier is empty")
	}
	if len(s) > 63 {
		return "", fmt.Errorf("identifier %q exceeds 63 bytes", s)
	}
	if !identPattern.MatchString(s) {
		return "", fmt.Errorf("identifier %q is not lowercase snake_case", s)
	}
	if _, reserved := reservedIdents[s]; reserved {
		return "", fmt.Errorf("identifier %q is a reserved word", s)
	}
	return Identifier(s), nil
}

// Quoted returns the identifier double-quoted for interpolation into DDL.
func (i Identifier) Quoted() string { return pq.QuoteIdentifier(string(i)) }

// ColumnType is a rendered SQL column type. Only the constructors below
// produce values, which keeps the type expression allow-listed.
type ColumnType string

const (
	TypeText        ColumnType = "text"
	TypeJSONB       ColumnType = "jsonb"
	TypeTimestampTZ ColumnType = "timestamptz"
	TypeDouble      ColumnType = "double precision"
)

// VarcharType returns varchar(limit) after bounds-checking the limit.
func VarcharType(limit int) (ColumnType, error) {
	if limit < 1 || limit > 10485760 {
		return "", fmt.Errorf("varchar limit %d out of range", limit)
	}
	return ColumnType(fmt.Sprintf("varchar(%d)", limit)), nil
}

// VectorType returns vector(dims) after bounds-checking the dimensionality.
// pgvector caps indexable vectors at 2000 dimensions; wider columns are
// legal but cannot carry an ANN index, so they are rejected here.
func VectorType(dims int) (ColumnType, error) {
	if dims < 1 || dims > 2000 {
		return "", fmt.Errorf("vector dimensions %d out of range", dims)
	}
	return ColumnType(fmt.Sprintf("vector(%d)", dims)), nil
}

// ColumnSpec is one column of a backing table.
type ColumnSpec struct {
	Name       Identifier
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
	Default    string
}

// TableSpec describes a capability's backing table, including how to probe
// its structural shape and recency.
type TableSpec struct {
	Name    Identifier
	Columns []ColumnSpec

	// ShapeColumn and ShapeTypmod identify the structural parameter probed
	// for mismatch detection: the pg_attribute typmod the named column must
	// carry when the table pre-exists.
	ShapeColumn Identifier
	ShapeTypmod int

	// RecencyColumn orders rows for the rollback safety check.
	RecencyColumn Identifier
}

// CreateSQL renders CREATE TABLE IF NOT EXISTS from validated parts.
func (t *TableSpec) CreateSQL() string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		parts := []string{c.Name.Quoted(), string(c.Type)}
		if c.PrimaryKey {
			parts = append(parts, "PRIMARY KEY")
		}
		if c.NotNull {
			parts = append(parts, "NOT NULL")
		}
		if c.Default != "" {
			parts = append(parts, "DEFAULT "+c.Default)
		}
		cols = append(cols, strings.Join(parts, " "))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name.Quoted(), strings.Join(cols, ", "))
}

// DropSQL renders DROP TABLE IF EXISTS. Indexes go down with the table.
func (t *TableSpec) DropSQL() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", t.Name.Quoted())
}

// IndexSpec describes one index. Method and the operator-class/storage
// tail come from capability code, never from configuration documents.
type IndexSpec struct {
	Name  Identifier
	Table Identifier

	// Using is the access method (btree, gin, ivfflat, hnsw).
	Using string

	// Expr is the parenthesized column expression, already rendered from
	// validated identifiers, e.g. ("embedding" vector_cosine_ops).
	Expr string

	// With is the optional storage-parameter clause, e.g. (lists = 100).
	With string
}

// CreateSQL renders CREATE INDEX IF NOT EXISTS.
func (x *IndexSpec) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s ON %s USING %s %s",
		x.Name.Quoted(), x.Table.Quoted(), x.Using, x.Expr)
	if x.With != "" {
		fmt.Fprintf(&b, " WITH %s", x.With)
	}
	return b.String()
}

// RoutineSpec describes one SQL routine. Existence is probed by name in
// pg_proc within the working schema; a routine that already exists is left
// untouched rather than replaced, matching the never-auto-alter rule for
// tables.
type RoutineSpec struct {
	Name Identifier

	// Args is the argument signature used for DROP FUNCTION.
	Args string

	// Definition is the full CREATE FUNCTION statement, rendered by the
	// capability from validated identifiers.
	Definition string
}

// DropSQL renders DROP FUNCTION IF EXISTS with the explicit signature.
func (r *RoutineSpec) DropSQL() string {
	return fmt.Sprintf("DROP FUNCTION IF EXISTS %s(%s)", r.Name.Quoted(), r.Args)
}

// Plan is the full set of schema objects a capability converges toward,
// built and validated without touching a live store.
type Plan struct {
	Extensions []string
	Table      TableSpec
	Indexes    []IndexSpec
	Routines   []RoutineSpec
}
