package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		query string
		want  QueryType
	}{
		{"What is probation?", Definition},
		{"  DEFINE notice period ", Definition},
		{"meaning of gross misconduct", Definition},
		{"probation rules", Policy},
		{"How many days of annual leave?", Policy},
		{"salary review cycle", Policy},
		{"who runs the canteen", General},
		{"", General},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.query))
		})
	}
}

func TestRouteFor(t *testing.T) {
	assert.Equal(t, DefinitionDense, RouteFor(Definition, true))
	assert.Equal(t, DefinitionDense, RouteFor(Definition, false))
	assert.Equal(t, GeneralRerank, RouteFor(Policy, true))
	assert.Equal(t, GeneralHybrid, RouteFor(General, false))

	assert.True(t, GeneralRerank.IsRerank())
	assert.False(t, GeneralHybrid.IsRerank())
	assert.Equal(t, "general:hybrid_then_rerank", GeneralRerank.String())
}
