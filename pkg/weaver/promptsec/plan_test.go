package promptsec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/t-kawata/myweave/pkg/weaver/types"
)

func validPlan() types.QueryPlan {
	return types.QueryPlan{
		Intent:    types.INTENT_SEMANTIC_SEARCH,
		Mode:      types.QUERY_MODE_VECTOR,
		Entities:  []string{"Acme Corp"},
		Rewritten: "What does Acme Corp produce?",
	}
}

func TestValidatePlanAccepts(t *testing.T) {
	plan, ok := ValidatePlan(validPlan(), "what does acme make")
	assert.True(t, ok)
	assert.Equal(t, types.INTENT_SEMANTIC_SEARCH, plan.Intent)
	assert.Equal(t, []string{"Acme Corp"}, plan.Entities)
}

func TestValidatePlanRejectsUnknownIntent(t *testing.T) {
	p := validPlan()
	p.Intent = "execute_cypher"
	plan, ok := ValidatePlan(p, "q")
	assert.False(t, ok)
	assert.Equal(t, types.INTENT_SEMANTIC_SEARCH, plan.Intent)
	assert.Equal(t, types.QUERY_MODE_HYBRID, plan.Mode)
	assert.Empty(t, plan.Entities)
}

func TestValidatePlanRejectsAutoMode(t *testing.T) {
	p := validPlan()
	p.Mode = types.QUERY_MODE_AUTO
	_, ok := ValidatePlan(p, "q")
	assert.False(t, ok)
}

func TestValidatePlanRejectsDangerousPatterns(t *testing.T) {
	dangerous := []string{
		"x; DETACH DELETE n",
		"Robert'); DROP TABLE students;--",
		"DROP INDEX entity_idx",
		"CALL dbms.security.listUsers()",
		"DELETE FROM documents",
		"<script>alert(1)</script>",
	}
	for _, needle := range dangerous {
		p := validPlan()
		p.Entities = []string{needle}
		_, ok := ValidatePlan(p, "q")
		assert.False(t, ok, "entity=%q", needle)

		p = validPlan()
		p.Rewritten = needle
		_, ok = ValidatePlan(p, "q")
		assert.False(t, ok, "rewritten=%q", needle)
	}
}

func TestValidatePlanNormalizesEntities(t *testing.T) {
	p := validPlan()
	p.Entities = []string{"  Acme Corp ​ ", "", "  "}
	plan, ok := ValidatePlan(p, "q")
	assert.True(t, ok)
	assert.Equal(t, []string{"Acme Corp"}, plan.Entities)
}

func TestValidatePlanEmptyPlanFallsBack(t *testing.T) {
	plan, ok := ValidatePlan(types.QueryPlan{}, "q")
	assert.False(t, ok)
	assert.Equal(t, types.INTENT_SEMANTIC_SEARCH, plan.Intent)
	assert.Equal(t, types.QUERY_MODE_HYBRID, plan.Mode)
}
