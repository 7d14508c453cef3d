package coordinator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/agathahq/configd/pkg/models"
)

// VectorSearch provisions approximate-nearest-neighbor search: a pgvector
// table, secondary b-tree indexes, an ANN index with the resolved metric
// and fan-out, and search/upsert SQL routines.
type VectorSearch struct{}

// Name implements Capability.
func (VectorSearch) Name() string { return "vector_search" }

// Defaults implements Capability.
func (VectorSearch) Defaults() models.Document {
	return models.Document{
		ParamTableName:      "vector_memories",
		ParamVectorColumn:   "embedding",
		ParamDimensions:     1536,
		ParamMetric:         "cosine",
		ParamIndexType:      "ivfflat",
		ParamLists:          100,
		ParamM:              16,
		ParamEfConstruction: 64,
		ParamIDColumnLimit:  255,
	}
}

// metricOps maps a distance metric to its pgvector operator class and
// ordering operator.
var metricOps = map[string]struct {
	opclass  string
	operator string
}{
	"cosine": {"vector_cosine_ops", "<=>"},
	"l2":     {"vector_l2_ops", "<->"},
	"ip":     {"vector_ip_ops", "<#>"},
}

// Plan implements Capability.
func (c VectorSearch) Plan(params models.Document) (*Plan, error) {
	table, err := NewIdentifier(params.String(ParamTableName, ""))
	if err != nil {
		return nil, fmt.Errorf("table_name: %w", err)
	}
	column, err := NewIdentifier(params.String(ParamVectorColumn, ""))
	if err != nil {
		return nil, fmt.Errorf("vector_column: %w", err)
	}

	dims := params.Int(ParamDimensions, 0)
	vectorType, err := VectorType(dims)
	if err != nil {
		return nil, err
	}
	idLimit := params.Int(ParamIDColumnLimit, 0)
	idType, err := VarcharType(idLimit)
	if err != nil {
		return nil, fmt.Errorf("id_column_limit: %w", err)
	}

	metric := params.String(ParamMetric, "")
	ops, ok := metricOps[metric]
	if !ok {
		return nil, fmt.Errorf("metric %q is not one of cosine, l2, ip", metric)
	}

	var annWith string
	switch indexType := params.String(ParamIndexType, ""); indexType {
	case "ivfflat":
		lists := params.Int(ParamLists, 0)
		if lists < 1 || lists > 32768 {
			return nil, fmt.Errorf("lists %d out of range", lists)
		}
		annWith = fmt.Sprintf("(lists = %d)", lists)
	case "hnsw":
		m := params.Int(ParamM, 0)
		ef := params.Int(ParamEfConstruction, 0)
		if m < 2 || m > 100 {
			return nil, fmt.Errorf("m %d out of range", m)
		}
		if ef < 4 || ef > 1000 {
			return nil, fmt.Errorf("ef_construction %d out of range", ef)
		}
		annWith = fmt.Sprintf("(m = %d, ef_construction = %d)", m, ef)
	default:
		return nil, fmt.Errorf("index_type %q is not one of ivfflat, hnsw", indexType)
	}

	userIdx, err := NewIdentifier(fmt.Sprintf("idx_%s_user_id", table))
	if err != nil {
		return nil, err
	}
	createdIdx, err := NewIdentifier(fmt.Sprintf("idx_%s_created_at", table))
	if err != nil {
		return nil, err
	}
	annIdx, err := NewIdentifier(fmt.Sprintf("idx_%s_%s_ann", table, column))
	if err != nil {
		return nil, err
	}
	searchFn, err := NewIdentifier("search_" + string(table))
	if err != nil {
		return nil, err
	}
	upsertFn, err := NewIdentifier("upsert_" + string(table))
	if err != nil {
		return nil, err
	}

	annIndexType := params.String(ParamIndexType, "")

	return &Plan{
		Extensions: []string{"vector"},
		Table: TableSpec{
			Name: table,
			Columns: []ColumnSpec{
				{Name: "id", Type: idType, PrimaryKey: true},
				{Name: "user_id", Type: idType, NotNull: true},
				{Name: "content", Type: TypeText, NotNull: true},
				{Name: column, Type: vectorType},
				{Name: "metadata", Type: TypeJSONB, NotNull: true, Default: "'{}'::jsonb"},
				{Name: "created_at", Type: TypeTimestampTZ, NotNull: true, Default: "now()"},
			},
			ShapeColumn: column,
			// pgvector stores the dimensionality as the column typmod.
			ShapeTypmod:   dims,
			RecencyColumn: "created_at",
		},
		Indexes: []IndexSpec{
			{Name: userIdx, Table: table, Using: "btree", Expr: `("user_id")`},
			{Name: createdIdx, Table: table, Using: "btree", Expr: `("created_at")`},
			{
				Name:  annIdx,
				Table: table,
				Using: annIndexType,
				Expr:  fmt.Sprintf("(%s %s)", column.Quoted(), ops.opclass),
				With:  annWith,
			},
		},
		Routines: []RoutineSpec{
			{
				Name: searchFn,
				Args: "vector, integer",
				Definition: fmt.Sprintf(`CREATE FUNCTION %s(vector(%d), integer)
RETURNS TABLE(id varchar, content text, distance double precision)
LANGUAGE sql STABLE AS $func$
  SELECT t.id, t.content, (t.%s %s $1)::double precision
  FROM %s t
  ORDER BY t.%s %s $1
  LIMIT $2
$func$`,
					searchFn.Quoted(), dims,
					column.Quoted(), ops.operator,
					table.Quoted(),
					column.Quoted(), ops.operator),
			},
			{
				Name: upsertFn,
				Args: "varchar, varchar, text, vector, jsonb",
				Definition: fmt.Sprintf(`CREATE FUNCTION %s(varchar, varchar, text, vector(%d), jsonb)
RETURNS void LANGUAGE sql AS $func$
  INSERT INTO %s (id, user_id, content, %s, metadata)
  VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb))
  ON CONFLICT (id) DO UPDATE SET
    content = EXCLUDED.content,
    %s = EXCLUDED.%s,
    metadata = EXCLUDED.metadata
$func$`,
					upsertFn.Quoted(), dims,
					table.Quoted(),
					column.Quoted(),
					column.Quoted(), column.Quoted()),
			},
		},
	}, nil
}

// VectorMatch is one ANN search hit.
type VectorMatch struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// Search runs an ANN query against the provisioned table using the resolved
// metric's operator. The embedding is bound as a pgvector value.
func (c VectorSearch) Search(ctx context.Context, db *sql.DB, params models.Document, embedding []float32, limit int) ([]VectorMatch, error) {
	plan, err := c.Plan(params)
	if err != nil {
		return nil, err
	}
	ops := metricOps[params.String(ParamMetric, "cosine")]
	column, err := NewIdentifier(params.String(ParamVectorColumn, "embedding"))
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 10
	}

	query := fmt.Sprintf(
		"SELECT t.id, t.content, (t.%s %s $1)::double precision FROM %s t ORDER BY t.%s %s $1 LIMIT $2",
		column.Quoted(), ops.operator, plan.Table.Name.Quoted(), column.Quoted(), ops.operator)

	rows, err := db.QueryContext(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.ID, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
