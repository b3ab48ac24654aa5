// Package extraction は、LLMを使用してチャンクからエンティティと関係を
// 抽出するタスクを提供します。
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/prompts"
	"github.com/t-kawata/myweave/pkg/weaver/promptsec"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ExtractionTask は、各チャンクに対して並行してLLMを呼び出し、
// エンティティと関係を抽出するタスクです。
type ExtractionTask struct {
	LLM       model.ToolCallingChatModel
	ModelName string
	// Concurrency はLLM呼び出しの最大並行数です。レート制限対策です。
	Concurrency int
	logger      *zap.Logger
}

// NewExtractionTask は、新しいExtractionTaskを作成します。
func NewExtractionTask(llm model.ToolCallingChatModel, modelName string, logger *zap.Logger) *ExtractionTask {
	if modelName == "" {
		modelName = "gpt-4o-mini" // Default fallback
	}
	return &ExtractionTask{LLM: llm, ModelName: modelName, Concurrency: 5, logger: logger}
}

var _ pipeline.Task = (*ExtractionTask)(nil)

func (t *ExtractionTask) Name() string { return "extraction" }

// Run は、抽出タスクを実行します。
// チャンクごとの結果は payload.Extractions にチャンクと同じインデックスで格納されます。
func (t *ExtractionTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	var totalUsage types.TokenUsage
	payload, ok := input.(*types.IngestPayload)
	if !ok {
		return nil, totalUsage, fmt.Errorf("Extraction: Expected *types.IngestPayload input, got %T", input)
	}

	payload.Extractions = make([]types.ExtractionResult, len(payload.Chunks))

	// オントロジーまたはエンティティタイプが空の文書は抽出対象なし。
	// LLMは一度も呼ばない
	if payload.Ontology.IsEmpty() || len(payload.Ontology.EntityTypes) == 0 {
		t.logger.Debug("Empty ontology, skipping extraction",
			zap.String("document_id", payload.DocumentID))
		return payload, totalUsage, nil
	}

	systemPrompt := prompts.BuildExtractionSystemPrompt(payload.Ontology)

	var mu sync.Mutex // Extractions とトークン集計への並行アクセスを保護
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.Concurrency)

	for i, chunk := range payload.Chunks {
		g.Go(func() error {
			// チャンクテキストはプロンプトへ渡る前に必ずサニタイズする
			sanitized, hits := promptsec.SanitizeForPrompt(chunk.Text)
			if len(hits) > 0 {
				t.logger.Warn("Injection signature detected in chunk",
					zap.String("chunk_id", chunk.ID),
					zap.Strings("patterns", hits))
			}

			content, chunkUsage, err := utils.GenerateWithUsage(
				gctx, t.LLM, t.ModelName, systemPrompt, prompts.BuildExtractionUserPrompt(sanitized))
			mu.Lock()
			totalUsage.Add(chunkUsage)
			mu.Unlock()

			// 1チャンクの失敗はバッチを落とさず、空の抽出結果として進める
			if err != nil {
				t.logger.Warn("LLM call failed for chunk, continuing with empty extraction",
					zap.String("chunk_id", chunk.ID), zap.Error(err))
				return nil
			}
			if content == "" {
				t.logger.Warn("Empty LLM response for chunk, continuing with empty extraction",
					zap.String("chunk_id", chunk.ID))
				return nil
			}

			var result types.ExtractionResult
			if err := json.Unmarshal([]byte(utils.CleanJSON(content)), &result); err != nil {
				t.logger.Warn("Failed to parse extraction JSON for chunk, continuing with empty extraction",
					zap.String("chunk_id", chunk.ID), zap.Error(err))
				return nil
			}

			cleaned := normalizeResult(result)
			// 関係にチャンク出所を付与する
			for j := range cleaned.Relations {
				cleaned.Relations[j].ChunkID = chunk.ID
			}

			mu.Lock()
			payload.Extractions[i] = cleaned
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, totalUsage, err
	}

	entityCount, relationCount := 0, 0
	for _, ex := range payload.Extractions {
		entityCount += len(ex.Entities)
		relationCount += len(ex.Relations)
	}
	t.logger.Debug("Extraction completed",
		zap.String("document_id", payload.DocumentID),
		zap.Int("entities", entityCount),
		zap.Int("relations", relationCount))
	return payload, totalUsage, nil
}

// normalizeResult は、LLM出力の抽出結果を整形します。
//   - 名前・タイプが空のエンティティを除去
//   - 同一 temp_id の重複は先勝ちで除去
//   - 存在しない temp_id を参照する関係を除去
func normalizeResult(result types.ExtractionResult) types.ExtractionResult {
	var cleaned types.ExtractionResult
	seen := make(map[string]bool)

	for _, e := range result.Entities {
		e.TempID = strings.TrimSpace(e.TempID)
		e.Name = strings.TrimSpace(e.Name)
		e.NodeType = strings.TrimSpace(e.NodeType)
		if e.TempID == "" || e.Name == "" || e.NodeType == "" {
			continue
		}
		if seen[e.TempID] {
			continue
		}
		seen[e.TempID] = true
		cleaned.Entities = append(cleaned.Entities, e)
	}

	for _, r := range result.Relations {
		r.SourceTempID = strings.TrimSpace(r.SourceTempID)
		r.TargetTempID = strings.TrimSpace(r.TargetTempID)
		r.Type = strings.TrimSpace(r.Type)
		if r.Type == "" || !seen[r.SourceTempID] || !seen[r.TargetTempID] {
			continue
		}
		cleaned.Relations = append(cleaned.Relations, r)
	}
	return cleaned
}
