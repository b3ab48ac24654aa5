// Package embedding は、チャンク群の埋め込みを生成するタスクを提供します。
package embedding

import (
	"context"
	"fmt"

	"github.com/t-kawata/myweave/pkg/weaver/embedder"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"go.uber.org/zap"
)

// EmbeddingTask は、各チャンクの埋め込みを生成するタスクです。
// バッチ内の結果順序は入力順序と一致するため、埋め込みは必ず
// 対応するチャンクIDへ割り当てられます。
type EmbeddingTask struct {
	embedder *embedder.Service
	logger   *zap.Logger
}

// NewEmbeddingTask は、新しいEmbeddingTaskを作成します。
func NewEmbeddingTask(embedder *embedder.Service, logger *zap.Logger) *EmbeddingTask {
	return &EmbeddingTask{embedder: embedder, logger: logger}
}

var _ pipeline.Task = (*EmbeddingTask)(nil)

func (t *EmbeddingTask) Name() string { return "embedding" }

// Run は、payload.Chunks の全チャンクに埋め込みを設定します。
func (t *EmbeddingTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	var usage types.TokenUsage
	payload, ok := input.(*types.IngestPayload)
	if !ok {
		return nil, usage, fmt.Errorf("Embedding: Expected *types.IngestPayload input, got %T", input)
	}

	texts := make([]string, len(payload.Chunks))
	for i, chunk := range payload.Chunks {
		texts[i] = chunk.Text
	}

	vectors, usage, err := t.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, usage, fmt.Errorf("Embedding: Failed to embed chunks: %w", err)
	}
	for i, vec := range vectors {
		payload.Chunks[i].Embedding = vec
	}

	t.logger.Debug("Embedded chunks",
		zap.String("document_id", payload.DocumentID),
		zap.Int("chunks", len(payload.Chunks)),
		zap.Int64("tokens", usage.Total()))
	return payload, usage, nil
}
