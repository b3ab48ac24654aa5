package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/t-kawata/myweave/pkg/weaver/types"
)

func TestBuildExtractionSystemPromptWithoutOntology(t *testing.T) {
	got := BuildExtractionSystemPrompt(nil)
	assert.Equal(t, extractionSystemBase, got)
	assert.NotContains(t, got, "Ontology Constraint")
}

func TestBuildExtractionSystemPromptWithOntology(t *testing.T) {
	ontology := &types.OntologySchema{
		EntityTypes:   []string{"Person", "Organization"},
		RelationTypes: []string{"WORKS_AT"},
	}
	got := BuildExtractionSystemPrompt(ontology)
	assert.Contains(t, got, "Ontology Constraint")
	assert.Contains(t, got, "Person, Organization")
	assert.Contains(t, got, "WORKS_AT")
}

// 型名はサニタイズ後に埋め込まれるため、注入を含む型は無害化または除去される。
func TestBuildExtractionSystemPromptSanitizesTypes(t *testing.T) {
	ontology := &types.OntologySchema{
		EntityTypes:   []string{"Person;DROP TABLE--"},
		RelationTypes: []string{";;;"},
	}
	got := BuildExtractionSystemPrompt(ontology)
	assert.NotContains(t, got, "Person;")
	assert.NotContains(t, got, "DROP TABLE--")
	assert.Contains(t, got, "(no restriction)")
}

func TestBuildExtractionSystemPromptAllTypesSanitizedAway(t *testing.T) {
	ontology := &types.OntologySchema{EntityTypes: []string{";;;"}}
	got := BuildExtractionSystemPrompt(ontology)
	assert.Equal(t, extractionSystemBase, got)
}

func TestBuildGeneratorUserPrompt(t *testing.T) {
	got := BuildGeneratorUserPrompt(
		"who founded acme?",
		[]string{"Alice founded Acme in 1999."},
		[]types.GraphPathSegment{{SourceName: "Alice", Type: "FOUNDED", TargetName: "Acme"}},
	)
	assert.Contains(t, got, "who founded acme?")
	assert.Contains(t, got, "Alice founded Acme in 1999.")
	assert.Contains(t, got, "FOUNDED")
}
