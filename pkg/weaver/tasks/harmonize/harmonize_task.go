// Package harmonize は、抽出されたエンティティのカノニカル解決を
// パイプラインステップとして実行するタスクを提供します。
package harmonize

import (
	"context"
	"fmt"

	"github.com/t-kawata/myweave/pkg/weaver/harmonizer"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// HarmonizeTask は、抽出結果の全エンティティをカノニカルIDへ解決し、
// 関係を temp_id ベースからカノニカルIDベースへ変換するタスクです。
type HarmonizeTask struct {
	harmonizer *harmonizer.Harmonizer
	logger     *zap.Logger
}

// NewHarmonizeTask は、新しいHarmonizeTaskを作成します。
func NewHarmonizeTask(h *harmonizer.Harmonizer, logger *zap.Logger) *HarmonizeTask {
	return &HarmonizeTask{harmonizer: h, logger: logger}
}

var _ pipeline.Task = (*HarmonizeTask)(nil)

func (t *HarmonizeTask) Name() string { return "harmonize" }

// Run は、payload.Entities と payload.Relations を設定し、
// 各チャンクの EntityIDs（MENTIONS の対象）を埋めます。
func (t *HarmonizeTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	var usage types.TokenUsage
	payload, ok := input.(*types.IngestPayload)
	if !ok {
		return nil, usage, fmt.Errorf("Harmonize: Expected *types.IngestPayload input, got %T", input)
	}
	if len(payload.Extractions) != len(payload.Chunks) {
		return nil, usage, fmt.Errorf("%w: extractions (%d) and chunks (%d) are misaligned",
			werrs.ErrConsistency, len(payload.Extractions), len(payload.Chunks))
	}

	resolved, mappings, unresolved, usage, err := t.harmonizer.ResolveAll(ctx, payload)
	if err != nil {
		return nil, usage, fmt.Errorf("Harmonize: %w", err)
	}

	payload.Entities = resolved
	payload.Relations = harmonizer.RemapRelations(payload.Extractions, mappings)

	// チャンクごとの言及エンティティを確定する（重複除去、順序は出現順）
	for i, chunk := range payload.Chunks {
		seen := make(map[string]bool)
		var ids []string
		for _, e := range payload.Extractions[i].Entities {
			id, ok := mappings[i][e.TempID]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		chunk.EntityIDs = ids
	}

	t.logger.Debug("Harmonized entities",
		zap.String("document_id", payload.DocumentID),
		zap.Int("resolved", len(resolved)),
		zap.Int("enqueued_for_enrichment", len(unresolved)),
		zap.Int("relations", len(payload.Relations)))
	return payload, usage, nil
}
