package enrichment

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t-kawata/myweave/pkg/weaver/db/pgdb"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"go.uber.org/zap"
)

// fakeChatModel は、固定応答を返すテスト用 ChatModel です。
type fakeChatModel struct {
	response string
	err      error
}

func (f *fakeChatModel) Generate(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.response, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

type aliasRecord struct {
	alias      string
	nodeID     string
	confidence float64
}

// fakeStore は enrichmentStore のテスト実装です。
type fakeStore struct {
	items     []pgdb.EnrichmentItem
	existing  map[string]*pgdb.CanonicalNode // 正式名称で引けるノード
	created   []string
	aliases   []aliasRecord
	completed []uint
	failed    []uint
}

func (f *fakeStore) ClaimEnrichmentBatch(ctx context.Context, limit int) ([]pgdb.EnrichmentItem, error) {
	items := f.items
	f.items = nil
	return items, nil
}

func (f *fakeStore) CompleteEnrichment(ctx context.Context, itemID uint) error {
	f.completed = append(f.completed, itemID)
	return nil
}

func (f *fakeStore) FailEnrichment(ctx context.Context, itemID uint, cause string) error {
	f.failed = append(f.failed, itemID)
	return nil
}

func (f *fakeStore) GetOrCreateCanonicalNode(ctx context.Context, name, nodeType, description string, embedding []float32) (*pgdb.CanonicalNode, bool, error) {
	if node, ok := f.existing[name]; ok {
		return node, false, nil
	}
	node := &pgdb.CanonicalNode{ID: "new-" + name, Name: name, NodeType: nodeType}
	f.created = append(f.created, name)
	return node, true, nil
}

func (f *fakeStore) AddAlias(ctx context.Context, alias, canonicalNodeID string, confidence float64) error {
	f.aliases = append(f.aliases, aliasRecord{alias, canonicalNodeID, confidence})
	return nil
}

// fakeEmbedder は embedClient のテスト実装です。
type fakeEmbedder struct{}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, types.TokenUsage, error) {
	return []float32{0.1, 0.2}, types.TokenUsage{}, nil
}

func newTestWorker(store *fakeStore, llm *fakeChatModel) *Worker {
	return NewWorker(store, &fakeEmbedder{}, llm, "test-model", zap.NewNop())
}

// 正式名称のノードが既に存在する場合は新規作成せず、
// 表層形をその既存ノードへのエイリアスとして登録する。
func TestTickAliasesToExistingOwner(t *testing.T) {
	store := &fakeStore{
		items: []pgdb.EnrichmentItem{
			{ID: 1, SurfaceForm: "IBM Corp", NodeType: "Organization"},
		},
		existing: map[string]*pgdb.CanonicalNode{
			"International Business Machines": {
				ID:       "id-ibm",
				Name:     "International Business Machines",
				NodeType: "Organization",
			},
		},
	}
	llm := &fakeChatModel{response: `{"canonical_name": "International Business Machines"}`}
	worker := newTestWorker(store, llm)

	n, err := worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, store.created, "既存ノードがある場合は作成しない")
	require.Len(t, store.aliases, 1)
	assert.Equal(t, "IBM Corp", store.aliases[0].alias)
	assert.Equal(t, "id-ibm", store.aliases[0].nodeID, "重複ノードではなく既存ノードへ紐付ける")
	assert.Equal(t, []uint{1}, store.completed)
}

// 正式名称が表層形と同一でも、エイリアス登録は必ず行われる。
func TestTickAliasesEvenWhenNameUnchanged(t *testing.T) {
	store := &fakeStore{
		items: []pgdb.EnrichmentItem{
			{ID: 2, SurfaceForm: "Kubernetes", NodeType: "Technology"},
		},
	}
	llm := &fakeChatModel{response: `{"canonical_name": "Kubernetes"}`}
	worker := newTestWorker(store, llm)

	n, err := worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"Kubernetes"}, store.created)
	require.Len(t, store.aliases, 1)
	assert.Equal(t, "Kubernetes", store.aliases[0].alias)
	assert.Equal(t, "new-Kubernetes", store.aliases[0].nodeID)
}

// LLMが空の名称を返した場合は表層形をそのまま正式名称として使う。
func TestTickFallsBackToSurfaceForm(t *testing.T) {
	store := &fakeStore{
		items: []pgdb.EnrichmentItem{
			{ID: 3, SurfaceForm: "Acme Ltd", NodeType: "Organization"},
		},
	}
	llm := &fakeChatModel{response: `{"canonical_name": ""}`}
	worker := newTestWorker(store, llm)

	n, err := worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Acme Ltd"}, store.created)
}

// LLM呼び出しの失敗はアイテムをFAILEDにし、Tick自体は成功する。
func TestTickMarksItemFailedOnLLMError(t *testing.T) {
	store := &fakeStore{
		items: []pgdb.EnrichmentItem{
			{ID: 4, SurfaceForm: "Broken", NodeType: "Concept"},
		},
	}
	llm := &fakeChatModel{err: errors.New("provider unavailable")}
	worker := newTestWorker(store, llm)

	n, err := worker.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []uint{4}, store.failed)
	assert.Empty(t, store.completed)
	assert.Empty(t, store.aliases)
}
