// Package enrichment は、未解決メンションを非同期で正規化する
// バックグラウンドワーカーを実装します。
//
// ワーカーは一定間隔でキューからアイテムをCAS方式で取得し（他のワーカーと
// 競合しない）、LLMに正式名称を問い合わせます。正式名称に対するカノニカル
// ノードを get-or-create し、元の表層形をそのノードへのエイリアスとして
// 登録します。カノニカルレコードの作成点はこの get-or-create だけです。
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/t-kawata/myweave/config"
	"github.com/t-kawata/myweave/pkg/weaver/db/pgdb"
	"github.com/t-kawata/myweave/pkg/weaver/prompts"
	"github.com/t-kawata/myweave/pkg/weaver/promptsec"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/utils"
	"go.uber.org/zap"
)

// enrichmentResponse は、LLMが返すJSONの形です。
type enrichmentResponse struct {
	CanonicalName string `json:"canonical_name"`
}

// enrichmentStore は、ワーカーが必要とするストア操作面です。
// *pgdb.Storage が本実装です。
type enrichmentStore interface {
	ClaimEnrichmentBatch(ctx context.Context, limit int) ([]pgdb.EnrichmentItem, error)
	CompleteEnrichment(ctx context.Context, itemID uint) error
	FailEnrichment(ctx context.Context, itemID uint, cause string) error
	GetOrCreateCanonicalNode(ctx context.Context, name, nodeType, description string, embedding []float32) (*pgdb.CanonicalNode, bool, error)
	AddAlias(ctx context.Context, alias, canonicalNodeID string, confidence float64) error
}

// embedClient は、正式名称の埋め込みに使用する操作面です。
// *embedder.Service が本実装です。
type embedClient interface {
	EmbedOne(ctx context.Context, text string) ([]float32, types.TokenUsage, error)
}

// Worker は、Enrichmentキューを処理するワーカーです。
type Worker struct {
	store     enrichmentStore
	embedder  embedClient
	llm       model.ToolCallingChatModel
	modelName string
	batchSize int
	logger    *zap.Logger
}

// NewWorker は、新しいEnrichmentワーカーを作成します。
func NewWorker(store enrichmentStore, emb embedClient, llm model.ToolCallingChatModel, modelName string, logger *zap.Logger) *Worker {
	return &Worker{
		store:     store,
		embedder:  emb,
		llm:       llm,
		modelName: modelName,
		batchSize: config.ENRICHMENT_BATCH_SIZE,
		logger:    logger,
	}
}

// Start は、ワーカーループを開始します。ctx のキャンセルで停止します。
// goroutineとして起動される想定です。
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(config.ENRICHMENT_INTERVAL_SECONDS * time.Second)
	defer ticker.Stop()

	w.logger.Info("Enrichment worker started",
		zap.Int("batch_size", w.batchSize),
		zap.Int("interval_seconds", config.ENRICHMENT_INTERVAL_SECONDS))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Enrichment worker stopped")
			return
		case <-ticker.C:
			if n, err := w.Tick(ctx); err != nil {
				w.logger.Warn("Enrichment tick failed", zap.Error(err))
			} else if n > 0 {
				w.logger.Debug("Enrichment tick completed", zap.Int("processed", n))
			}
		}
	}
}

// Tick は、キューから最大 batchSize 件を取得して処理します。
// 処理件数を返します。
func (w *Worker) Tick(ctx context.Context) (int, error) {
	items, err := w.store.ClaimEnrichmentBatch(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("Failed to claim enrichment batch: %w", err)
	}

	processed := 0
	for _, item := range items {
		if err := w.processItem(ctx, &item); err != nil {
			w.logger.Warn("Enrichment item failed",
				zap.Uint("item_id", item.ID),
				zap.String("surface", item.SurfaceForm),
				zap.Error(err))
			if ferr := w.store.FailEnrichment(ctx, item.ID, err.Error()); ferr != nil {
				w.logger.Warn("Could not mark enrichment item as failed",
					zap.Uint("item_id", item.ID), zap.Error(ferr))
			}
			continue
		}
		if cerr := w.store.CompleteEnrichment(ctx, item.ID); cerr != nil {
			w.logger.Warn("Could not mark enrichment item as completed",
				zap.Uint("item_id", item.ID), zap.Error(cerr))
			continue
		}
		processed++
	}
	return processed, nil
}

// processItem は、1アイテムを正規化します。
// 正式名称のノードが既に存在する場合は作成せずそのノードを採用し、
// どちらの場合も表層形をそのノードへのエイリアスとして登録します。
// LLMが空の名称を返した場合は表層形をそのまま正式名称として扱います。
func (w *Worker) processItem(ctx context.Context, item *pgdb.EnrichmentItem) error {
	canonicalName, err := w.askCanonicalName(ctx, item)
	if err != nil {
		return err
	}
	if canonicalName == "" {
		canonicalName = item.SurfaceForm
	}

	embedding, _, err := w.embedder.EmbedOne(ctx, canonicalName)
	if err != nil {
		return fmt.Errorf("Failed to embed canonical name: %w", err)
	}

	node, created, err := w.store.GetOrCreateCanonicalNode(ctx, canonicalName, item.NodeType, "", embedding)
	if err != nil {
		return fmt.Errorf("Failed to get-or-create canonical node: %w", err)
	}

	// 表層形は以後このノードへ直接解決できるようエイリアスとして学習する。
	// 表層形と正式名称が同一の場合も登録する（解決の初段を安価にするため）
	if err := w.store.AddAlias(ctx, item.SurfaceForm, node.ID, config.ALIAS_CONFIDENCE); err != nil {
		return fmt.Errorf("Failed to add alias: %w", err)
	}

	w.logger.Info("Entity enriched",
		zap.String("canonical_id", node.ID),
		zap.String("surface", item.SurfaceForm),
		zap.String("canonical_name", node.Name),
		zap.Bool("created", created))
	return nil
}

// askCanonicalName は、LLMに正式名称を問い合わせます。
func (w *Worker) askCanonicalName(ctx context.Context, item *pgdb.EnrichmentItem) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, config.LLM_CALL_TIMEOUT_SECONDS*time.Second)
	defer cancel()

	name, hits := promptsec.SanitizeForPrompt(item.SurfaceForm)
	contextText, contextHits := promptsec.SanitizeForPrompt(item.Context)
	if len(hits)+len(contextHits) > 0 {
		w.logger.Warn("Injection signature detected in enrichment input",
			zap.Uint("item_id", item.ID))
	}

	content, _, err := utils.GenerateWithUsage(callCtx, w.llm, w.modelName,
		prompts.ENRICHMENT_SYSTEM_PROMPT,
		prompts.BuildEnrichmentUserPrompt(name, item.NodeType, contextText))
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}

	var resp enrichmentResponse
	if err := json.Unmarshal([]byte(utils.CleanJSON(content)), &resp); err != nil {
		return "", fmt.Errorf("Failed to parse enrichment response: %w", err)
	}
	return strings.TrimSpace(promptsec.NormalizeUnicode(resp.CanonicalName)), nil
}
