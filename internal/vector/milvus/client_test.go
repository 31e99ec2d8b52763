package milvus

import (
	"errors"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotegate/backend/internal/retrieval"
)

func TestHitsFromResults(t *testing.T) {
	results := []client.SearchResult{{
		ResultCount: 2,
		Fields: client.ResultSet{
			entity.NewColumnVarChar(fieldID, []string{"c1", "c2"}),
			entity.NewColumnVarChar(fieldText, []string{"probation text", "leave text"}),
			entity.NewColumnVarChar(fieldSource, []string{"hr.pdf", "leave.pdf"}),
		},
		Scores: []float32{0.75, 0.5},
	}}

	hits, err := hitsFromResults(results)
	require.NoError(t, err)
	assert.Equal(t, []retrieval.Hit{
		{ID: "c1", Text: "probation text", Source: "hr.pdf", Score: 0.75},
		{ID: "c2", Text: "leave text", Source: "leave.pdf", Score: 0.5},
	}, hits)
}

func TestHitsFromResultsErrors(t *testing.T) {
	_, err := hitsFromResults([]client.SearchResult{{Err: errors.New("shard down")}})
	assert.ErrorContains(t, err, "shard down")

	_, err = hitsFromResults([]client.SearchResult{{
		ResultCount: 1,
		Fields:      client.ResultSet{entity.NewColumnVarChar(fieldID, []string{"c1"})},
		Scores:      []float32{1},
	}})
	assert.ErrorContains(t, err, "missing output fields")
}

func TestIDInExpr(t *testing.T) {
	assert.Equal(t, `chunk_id in ["hr_000", "hr_001"]`, idInExpr([]string{"hr_000", "hr_001"}))
	assert.Equal(t, `chunk_id in ["a\"b"]`, idInExpr([]string{`a"b`}))
}
