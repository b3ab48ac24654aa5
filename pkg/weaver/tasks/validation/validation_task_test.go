package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"go.uber.org/zap"
)

func runValidation(t *testing.T, ontology *types.OntologySchema, ex types.ExtractionResult) types.ExtractionResult {
	t.Helper()
	task := NewValidationTask(zap.NewNop())
	payload := &types.IngestPayload{
		DocumentID:  "1",
		Ontology:    ontology,
		Extractions: []types.ExtractionResult{ex},
	}
	out, _, err := task.Run(context.Background(), payload)
	require.NoError(t, err)
	return out.(*types.IngestPayload).Extractions[0]
}

func TestValidationFiltersEntityTypes(t *testing.T) {
	ontology := &types.OntologySchema{
		EntityTypes:   []string{"Person", "Organization"},
		RelationTypes: []string{"WORKS_AT"},
	}
	ex := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: "e1", Name: "Alice", NodeType: "Person"},
			{TempID: "e2", Name: "Acme", NodeType: "Organization"},
			{TempID: "e3", Name: "Tokyo", NodeType: "Location"}, // 許可リスト外
		},
		Relations: []types.ExtractedRelation{
			{SourceTempID: "e1", TargetTempID: "e2", Type: "WORKS_AT"},
			{SourceTempID: "e1", TargetTempID: "e3", Type: "WORKS_AT"}, // e3は除外済み
		},
	}

	got := runValidation(t, ontology, ex)
	require.Len(t, got.Entities, 2)
	assert.Equal(t, "Alice", got.Entities[0].Name)
	assert.Equal(t, "Acme", got.Entities[1].Name)
	require.Len(t, got.Relations, 1)
	assert.Equal(t, "e2", got.Relations[0].TargetTempID)
}

func TestValidationNormalizesRelationTypes(t *testing.T) {
	ontology := &types.OntologySchema{
		EntityTypes:   []string{"Person", "Organization"},
		RelationTypes: []string{"works at"}, // 人間が書いた形式
	}
	ex := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: "e1", Name: "Alice", NodeType: "Person"},
			{TempID: "e2", Name: "Acme", NodeType: "Organization"},
		},
		Relations: []types.ExtractedRelation{
			{SourceTempID: "e1", TargetTempID: "e2", Type: "works at"},
		},
	}

	got := runValidation(t, ontology, ex)
	require.Len(t, got.Relations, 1)
	assert.Equal(t, "WORKS_AT", got.Relations[0].Type)
}

func TestValidationDropsUnsafeRelationTypes(t *testing.T) {
	ex := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: "e1", Name: "A", NodeType: "Thing"},
			{TempID: "e2", Name: "B", NodeType: "Thing"},
		},
		Relations: []types.ExtractedRelation{
			{SourceTempID: "e1", TargetTempID: "e2", Type: "-->"},
			{SourceTempID: "e1", TargetTempID: "e2", Type: "123_STARTS_WITH_DIGIT"},
			{SourceTempID: "e1", TargetTempID: "e2", Type: "VALID_TYPE"},
		},
	}

	// オントロジーなし: サニタイズと安全識別子ゲートのみが適用される
	got := runValidation(t, nil, ex)
	require.Len(t, got.Relations, 1)
	assert.Equal(t, "VALID_TYPE", got.Relations[0].Type)
}

func TestValidationNilOntologyKeepsAllTypes(t *testing.T) {
	ex := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: "e1", Name: "A", NodeType: "AnythingGoes"},
		},
	}
	got := runValidation(t, nil, ex)
	assert.Len(t, got.Entities, 1)
}

func TestValidationSanitizesEntityTypeCharacters(t *testing.T) {
	ex := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: "e1", Name: "A", NodeType: "Per<script>son"},
			{TempID: "e2", Name: "B", NodeType: ";;;"},
		},
	}
	got := runValidation(t, nil, ex)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "Perscriptson", got.Entities[0].NodeType)
}
