package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agathahq/configd/pkg/models"
)

// FuzzySearch provisions trigram-based fuzzy text search: a pg_trgm GIN
// index over a text table plus a similarity routine.
type FuzzySearch struct{}

// Name implements Capability.
func (FuzzySearch) Name() string { return "fuzzy_search" }

// Defaults implements Capability.
func (FuzzySearch) Defaults() models.Document {
	return models.Document{
		ParamTableName:           "memory_fragments",
		ParamTextColumn:          "content",
		ParamIDColumnLimit:       255,
		ParamSimilarityThreshold: 0.3,
	}
}

// Plan implements Capability.
func (c FuzzySearch) Plan(params models.Document) (*Plan, error) {
	table, err := NewIdentifier(params.String(ParamTableName, ""))
	if err != nil {
		return nil, fmt.Errorf("table_name: %w", err)
	}
	column, err := NewIdentifier(params.String(ParamTextColumn, ""))
	if err != nil {
		return nil, fmt.Errorf("text_column: %w", err)
	}
	idLimit := params.Int(ParamIDColumnLimit, 0)
	idType, err := VarcharType(idLimit)
	if err != nil {
		return nil, fmt.Errorf("id_column_limit: %w", err)
	}
	if threshold := params.Float(ParamSimilarityThreshold, 0.3); threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity_threshold %v out of range", threshold)
	}

	trgmIdx, err := NewIdentifier(fmt.Sprintf("idx_%s_%s_trgm", table, column))
	if err != nil {
		return nil, err
	}
	createdIdx, err := NewIdentifier(fmt.Sprintf("idx_%s_created_at", table))
	if err != nil {
		return nil, err
	}
	searchFn, err := NewIdentifier("search_" + string(table))
	if err != nil {
		return nil, err
	}

	return &Plan{
		Extensions: []string{"pg_trgm"},
		Table: TableSpec{
			Name: table,
			Columns: []ColumnSpec{
				{Name: "id", Type: idType, PrimaryKey: true},
				{Name: column, Type: TypeText, NotNull: true},
				{Name: "created_at", Type: TypeTimestampTZ, NotNull: true, Default: "now()"},
			},
			ShapeColumn: "id",
			// varchar typmod is the configured limit plus the 4-byte
			// header offset.
			ShapeTypmod:   idLimit + 4,
			RecencyColumn: "created_at",
		},
		Indexes: []IndexSpec{
			{
				Name:  trgmIdx,
				Table: table,
				Using: "gin",
				Expr:  fmt.Sprintf("(%s gin_trgm_ops)", column.Quoted()),
			},
			{Name: createdIdx, Table: table, Using: "btree", Expr: `("created_at")`},
		},
		Routines: []RoutineSpec{
			{
				Name: searchFn,
				Args: "text, real, integer",
				Definition: fmt.Sprintf(`CREATE FUNCTION %s(text, real, integer)
RETURNS TABLE(id varchar, content text, score real)
LANGUAGE sql STABLE AS $func$
  SELECT t.id, t.%s, similarity(t.%s, $1)
  FROM %s t
  WHERE similarity(t.%s, $1) >= $2
  ORDER BY similarity(t.%s, $1) DESC
  LIMIT $3
$func$`,
					searchFn.Quoted(),
					column.Quoted(), column.Quoted(),
					table.Quoted(),
					column.Quoted(),
					column.Quoted()),
			},
		},
	}, nil
}

// FuzzyMatch is one trigram search hit.
type FuzzyMatch struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search runs a similarity query against the provisioned table using the
// resolved threshold.
func (c FuzzySearch) Search(ctx context.Context, db *sql.DB, params models.Document, query string, limit int) ([]FuzzyMatch, error) {
	plan, err := c.Plan(params)
	if err != nil {
		return nil, err
	}
	column, err := NewIdentifier(params.String(ParamTextColumn, "content"))
	if err != nil {
		return nil, err
	}
	threshold := params.Float(ParamSimilarityThreshold, 0.3)
	if limit < 1 {
		limit = 10
	}

	q := fmt.Sprintf(
		"SELECT t.id, t.%s, similarity(t.%s, $1)::double precision FROM %s t WHERE similarity(t.%s, $1) >= $2 ORDER BY 3 DESC LIMIT $3",
		column.Quoted(), column.Quoted(), plan.Table.Name.Quoted(), column.Quoted())

	rows, err := db.QueryContext(ctx, q, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search: %w", err)
	}
	defer rows.Close()

	var matches []FuzzyMatch
	for rows.Next() {
		var m FuzzyMatch
		if err := rows.Scan(&m.ID, &m.Content, &m.Score); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
