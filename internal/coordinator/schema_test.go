package coordinator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agathahq/configd/pkg/models"
)

func TestNewIdentifier(t *testing.T) {
	valid := []string{"vector_memories", "_private", "a", "idx_t_created_at"}
	for _, s := range valid {
		id, err := NewIdentifier(s)
		require.NoError(t, err, s)
		assert.Equal(t, Identifier(s), id)
	}

	invalid := []string{
		"",
		"Memories",
		"1table",
		"my-table",
		`users"; DROP TABLE users; --`,
		"drop",
		"select",
		strings.Repeat("a", 64),
	}
	for _, s := range invalid {
		_, err := NewIdentifier(s)
		assert.Error(t, err, s)
	}
}

func TestTableSpec_CreateSQL(t *testing.T) {
	idType, err := VarcharType(255)
	require.NoError(t, err)
	vecType, err := VectorType(3)
	require.NoError(t, err)

	spec := TableSpec{
		Name: "vectors",
		Columns: []ColumnSpec{
			{Name: "id", Type: idType, PrimaryKey: true},
			{Name: "embedding", Type: vecType},
			{Name: "created_at", Type: TypeTimestampTZ, NotNull: true, Default: "now()"},
		},
	}

	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "vectors" ("id" varchar(255) PRIMARY KEY, "embedding" vector(3), "created_at" timestamptz NOT NULL DEFAULT now())`,
		spec.CreateSQL())
	assert.Equal(t, `DROP TABLE IF EXISTS "vectors"`, spec.DropSQL())
}

func TestColumnTypes_Bounds(t *testing.T) {
	_, err := VarcharType(0)
	assert.Error(t, err)
	_, err = VectorType(0)
	assert.Error(t, err)
	_, err = VectorType(2001)
	assert.Error(t, err)
}

func TestVectorSearch_PlanDefaults(t *testing.T) {
	cap := VectorSearch{}
	plan, err := cap.Plan(cap.Defaults())
	require.NoError(t, err)

	assert.Equal(t, []string{"vector"}, plan.Extensions)
	assert.Equal(t, Identifier("vector_memories"), plan.Table.Name)
	assert.Equal(t, Identifier("embedding"), plan.Table.ShapeColumn)
	assert.Equal(t, 1536, plan.Table.ShapeTypmod)

	create := plan.Table.CreateSQL()
	assert.Contains(t, create, "vector(1536)")
	assert.Contains(t, create, `"metadata" jsonb NOT NULL DEFAULT '{}'::jsonb`)

	require.Len(t, plan.Indexes, 3)
	ann := plan.Indexes[2]
	assert.Equal(t, "ivfflat", ann.Using)
	assert.Contains(t, ann.CreateSQL(), "vector_cosine_ops")
	assert.Contains(t, ann.CreateSQL(), "WITH (lists = 100)")

	require.Len(t, plan.Routines, 2)
	assert.Contains(t, plan.Routines[0].Definition, "<=>")
	assert.Equal(t, `DROP FUNCTION IF EXISTS "search_vector_memories"(vector, integer)`,
		plan.Routines[0].DropSQL())
}

func TestVectorSearch_PlanHNSWAndMetrics(t *testing.T) {
	cap := VectorSearch{}
	params := cap.Defaults().Merge(models.Document{
		ParamMetric:    "l2",
		ParamIndexType: "hnsw",
	})

	plan, err := cap.Plan(params)
	require.NoError(t, err)
	ann := plan.Indexes[2]
	assert.Equal(t, "hnsw", ann.Using)
	assert.Contains(t, ann.CreateSQL(), "vector_l2_ops")
	assert.Contains(t, ann.CreateSQL(), "WITH (m = 16, ef_construction = 64)")
	assert.Contains(t, plan.Routines[0].Definition, "<->")
}

func TestVectorSearch_PlanRejectsBadParams(t *testing.T) {
	cap := VectorSearch{}

	cases := []models.Document{
		{ParamTableName: `x"; DROP TABLE config_versions; --`},
		{ParamVectorColumn: "Embedding"},
		{ParamDimensions: 0},
		{ParamMetric: "hamming"},
		{ParamIndexType: "btree"},
		{ParamIndexType: "ivfflat", ParamLists: 0},
		{ParamIDColumnLimit: -1},
	}
	for _, override := range cases {
		_, err := cap.Plan(cap.Defaults().Merge(override))
		assert.Error(t, err, "%v", override)
	}
}

func TestVectorSearch_PlanDeterministic(t *testing.T) {
	cap := VectorSearch{}
	a, err := cap.Plan(cap.Defaults())
	require.NoError(t, err)
	b, err := cap.Plan(cap.Defaults())
	require.NoError(t, err)

	assert.Equal(t, a.Table.CreateSQL(), b.Table.CreateSQL())
	for i := range a.Indexes {
		assert.Equal(t, a.Indexes[i].CreateSQL(), b.Indexes[i].CreateSQL())
	}
	for i := range a.Routines {
		assert.Equal(t, a.Routines[i].Definition, b.Routines[i].Definition)
	}
}

func TestFuzzySearch_PlanDefaults(t *testing.T) {
	cap := FuzzySearch{}
	plan, err := cap.Plan(cap.Defaults())
	require.NoError(t, err)

	assert.Equal(t, []string{"pg_trgm"}, plan.Extensions)
	assert.Equal(t, Identifier("memory_fragments"), plan.Table.Name)
	// varchar typmod carries a 4-byte header offset.
	assert.Equal(t, 259, plan.Table.ShapeTypmod)

	require.Len(t, plan.Indexes, 2)
	assert.Equal(t, "gin", plan.Indexes[0].Using)
	assert.Contains(t, plan.Indexes[0].CreateSQL(), "gin_trgm_ops")

	require.Len(t, plan.Routines, 1)
	assert.Contains(t, plan.Routines[0].Definition, "similarity(")
}

func TestFuzzySearch_PlanRejectsBadThreshold(t *testing.T) {
	cap := FuzzySearch{}
	_, err := cap.Plan(cap.Defaults().Merge(models.Document{ParamSimilarityThreshold: 1.5}))
	assert.Error(t, err)
}
