package extraction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"go.uber.org/zap"
)

// fakeChatModel は、ユーザープロンプトに failMarker を含む呼び出しだけ
// 失敗させるテスト用 ChatModel です。
type fakeChatModel struct {
	mu         sync.Mutex
	calls      int
	failMarker string
	response   string
}

func (f *fakeChatModel) Generate(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, m := range msgs {
		if f.failMarker != "" && strings.Contains(m.Content, f.failMarker) {
			return nil, errors.New("provider unavailable")
		}
	}
	return schema.AssistantMessage(f.response, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const extractionJSON = `{
	"entities": [{"temp_id": "ALICE", "name": "Alice", "node_type": "Person"},
	             {"temp_id": "ACME", "name": "Acme", "node_type": "Organization"}],
	"relations": [{"source_temp_id": "ALICE", "target_temp_id": "ACME", "type": "WORKS_AT"}]
}`

func testOntology() *types.OntologySchema {
	return &types.OntologySchema{
		EntityTypes:   []string{"Person", "Organization"},
		RelationTypes: []string{"WORKS_AT"},
	}
}

// 1チャンクのLLM失敗はそのチャンクを空の抽出結果とし、バッチ全体は成功する。
func TestRunContinuesWhenChunkFails(t *testing.T) {
	llm := &fakeChatModel{failMarker: "BROKEN_CHUNK", response: extractionJSON}
	task := NewExtractionTask(llm, "test-model", zap.NewNop())

	payload := &types.IngestPayload{
		DocumentID: "1",
		Ontology:   testOntology(),
		Chunks: []*types.ChunkData{
			{ID: "c1", Text: "Alice works at Acme."},
			{ID: "c2", Text: "BROKEN_CHUNK"},
		},
	}

	out, _, err := task.Run(context.Background(), payload)
	require.NoError(t, err, "1チャンクの失敗でバッチを落とさない")
	result := out.(*types.IngestPayload)
	require.Len(t, result.Extractions, 2)
	assert.NotEmpty(t, result.Extractions[0].Entities)
	assert.Empty(t, result.Extractions[1].Entities)
	assert.Empty(t, result.Extractions[1].Relations)
}

// 抽出された関係には抽出元チャンクのIDが付与される。
func TestRunAnnotatesRelationProvenance(t *testing.T) {
	llm := &fakeChatModel{response: extractionJSON}
	task := NewExtractionTask(llm, "test-model", zap.NewNop())

	payload := &types.IngestPayload{
		DocumentID: "1",
		Ontology:   testOntology(),
		Chunks:     []*types.ChunkData{{ID: "chunk-42", Text: "Alice works at Acme."}},
	}

	out, _, err := task.Run(context.Background(), payload)
	require.NoError(t, err)
	result := out.(*types.IngestPayload)
	require.Len(t, result.Extractions[0].Relations, 1)
	assert.Equal(t, "chunk-42", result.Extractions[0].Relations[0].ChunkID)
}

// オントロジーが空の場合、LLMを呼ばずに空の抽出結果を返す。
func TestRunSkipsLLMWhenOntologyEmpty(t *testing.T) {
	tests := []struct {
		name     string
		ontology *types.OntologySchema
	}{
		{"オントロジーなし", nil},
		{"エンティティタイプが空", &types.OntologySchema{RelationTypes: []string{"WORKS_AT"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeChatModel{response: extractionJSON}
			task := NewExtractionTask(llm, "test-model", zap.NewNop())

			payload := &types.IngestPayload{
				DocumentID: "1",
				Ontology:   tt.ontology,
				Chunks:     []*types.ChunkData{{ID: "c1", Text: "some text"}},
			}

			out, _, err := task.Run(context.Background(), payload)
			require.NoError(t, err)
			result := out.(*types.IngestPayload)
			require.Len(t, result.Extractions, 1)
			assert.Empty(t, result.Extractions[0].Entities)
			assert.Zero(t, llm.callCount())
		})
	}
}

func TestNormalizeResultTrimsAndFilters(t *testing.T) {
	result := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: " e1 ", Name: " Alice ", NodeType: " Person "},
			{TempID: "e2", Name: "", NodeType: "Person"},   // 名前なし
			{TempID: "", Name: "Ghost", NodeType: "Person"}, // temp_idなし
			{TempID: "e3", Name: "Acme", NodeType: ""},      // タイプなし
		},
	}
	cleaned := normalizeResult(result)
	require.Len(t, cleaned.Entities, 1)
	assert.Equal(t, "e1", cleaned.Entities[0].TempID)
	assert.Equal(t, "Alice", cleaned.Entities[0].Name)
	assert.Equal(t, "Person", cleaned.Entities[0].NodeType)
}

func TestNormalizeResultDeduplicatesTempIDs(t *testing.T) {
	result := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: "e1", Name: "First", NodeType: "Person"},
			{TempID: "e1", Name: "Second", NodeType: "Person"},
		},
	}
	cleaned := normalizeResult(result)
	require.Len(t, cleaned.Entities, 1)
	// 先勝ち
	assert.Equal(t, "First", cleaned.Entities[0].Name)
}

func TestNormalizeResultDropsDanglingRelations(t *testing.T) {
	result := types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{TempID: "e1", Name: "Alice", NodeType: "Person"},
			{TempID: "e2", Name: "Acme", NodeType: "Organization"},
		},
		Relations: []types.ExtractedRelation{
			{SourceTempID: "e1", TargetTempID: "e2", Type: "WORKS_AT"},
			{SourceTempID: "e1", TargetTempID: "e99", Type: "KNOWS"}, // 存在しない参照
			{SourceTempID: "e1", TargetTempID: "e2", Type: ""},       // タイプなし
		},
	}
	cleaned := normalizeResult(result)
	require.Len(t, cleaned.Relations, 1)
	assert.Equal(t, "WORKS_AT", cleaned.Relations[0].Type)
}

func TestNormalizeResultEmptyInput(t *testing.T) {
	cleaned := normalizeResult(types.ExtractionResult{})
	assert.Empty(t, cleaned.Entities)
	assert.Empty(t, cleaned.Relations)
}
