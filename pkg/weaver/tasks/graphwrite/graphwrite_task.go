// Package graphwrite は、解決済みのチャンク・エンティティ・関係を
// グラフストアへ書き込むタスクを提供します。
package graphwrite

import (
	"context"
	"fmt"

	"github.com/t-kawata/myweave/pkg/weaver/db/kuzudb"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"go.uber.org/zap"
)

// GraphWriteTask は、パイプラインの最終書き込みステップです。
// 全操作は MERGE によるUPSERTのため、リトライで再実行されても
// 重複ノード・重複エッジは発生しません。
type GraphWriteTask struct {
	graph  *kuzudb.GraphStorage
	logger *zap.Logger
}

// NewGraphWriteTask は、新しいGraphWriteTaskを作成します。
func NewGraphWriteTask(graph *kuzudb.GraphStorage, logger *zap.Logger) *GraphWriteTask {
	return &GraphWriteTask{graph: graph, logger: logger}
}

var _ pipeline.Task = (*GraphWriteTask)(nil)

func (t *GraphWriteTask) Name() string { return "graph_write" }

// Run は、ドキュメント・チャンク・エンティティ・関係の順でグラフへ書き込みます。
// 書き込み順序:
//  1. Document ノード
//  2. Chunk ノード + HAS_CHUNK + NEXT_CHUNK（チャンク順序の保存）
//  3. Entity ノード
//  4. MENTIONS（チャンク → エンティティ）
//  5. RELATES（エンティティ間）
func (t *GraphWriteTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	var usage types.TokenUsage
	payload, ok := input.(*types.IngestPayload)
	if !ok {
		return nil, usage, fmt.Errorf("GraphWrite: Expected *types.IngestPayload input, got %T", input)
	}

	if err := t.graph.UpsertDocument(ctx, payload.DocumentID, payload.Filename, payload.ContentHash); err != nil {
		return nil, usage, fmt.Errorf("GraphWrite: Failed to upsert document: %w", err)
	}

	for i, chunk := range payload.Chunks {
		if err := t.graph.UpsertChunk(ctx, chunk); err != nil {
			return nil, usage, fmt.Errorf("GraphWrite: Failed to upsert chunk %s: %w", chunk.ID, err)
		}
		if i > 0 {
			if err := t.graph.LinkChunkSequence(ctx, payload.Chunks[i-1].ID, chunk.ID); err != nil {
				return nil, usage, fmt.Errorf("GraphWrite: Failed to link chunk sequence: %w", err)
			}
		}
	}

	for i := range payload.Entities {
		if err := t.graph.UpsertEntity(ctx, &payload.Entities[i]); err != nil {
			return nil, usage, fmt.Errorf("GraphWrite: Failed to upsert entity %s: %w", payload.Entities[i].ID, err)
		}
	}

	for _, chunk := range payload.Chunks {
		if len(chunk.EntityIDs) == 0 {
			continue
		}
		if err := t.graph.LinkChunkToEntities(ctx, chunk.ID, chunk.EntityIDs); err != nil {
			return nil, usage, fmt.Errorf("GraphWrite: Failed to link chunk %s to entities: %w", chunk.ID, err)
		}
	}

	for i := range payload.Relations {
		if err := t.graph.UpsertRelation(ctx, &payload.Relations[i]); err != nil {
			return nil, usage, fmt.Errorf("GraphWrite: Failed to upsert relation: %w", err)
		}
	}

	t.logger.Info("Graph write completed",
		zap.String("document_id", payload.DocumentID),
		zap.Int("chunks", len(payload.Chunks)),
		zap.Int("entities", len(payload.Entities)),
		zap.Int("relations", len(payload.Relations)))
	return payload, usage, nil
}
