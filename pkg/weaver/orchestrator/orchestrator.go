// Package orchestrator は、ドキュメントのライフサイクル（取り込み・更新・削除）を
// ステータス状態機械に沿って駆動します。
//
// 状態遷移はすべてリレーショナルストアの条件付きUPDATE（CAS）で行われるため、
// 並行する操作（処理中の削除要求など）があっても状態の二重遷移は発生しません。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/t-kawata/myweave/config"
	"github.com/t-kawata/myweave/pkg/s3client"
	"github.com/t-kawata/myweave/pkg/weaver/db/kuzudb"
	"github.com/t-kawata/myweave/pkg/weaver/db/pgdb"
	"github.com/t-kawata/myweave/pkg/weaver/embedder"
	"github.com/t-kawata/myweave/pkg/weaver/harmonizer"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/chunking"
	embeddingtask "github.com/t-kawata/myweave/pkg/weaver/tasks/embedding"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/extraction"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/graphwrite"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/harmonize"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/parsing"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/validation"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// Orchestrator は、取り込みパイプラインの実行と状態遷移を管理します。
type Orchestrator struct {
	settings *config.Settings
	pg       *pgdb.Storage
	graph    *kuzudb.GraphStorage
	blob     *s3client.S3Client
	embedder *embedder.Service
	// extractionLLM は抽出ステップで使用するチャットモデルです。
	extractionLLM model.ToolCallingChatModel
	harmonizer    *harmonizer.Harmonizer
	encoder       chunking.Encoder
	logger        *zap.Logger

	// cancels は、実行中ドキュメントのキャンセル関数を保持します。
	// 削除要求は実行中のパイプラインを即時に中断できます。
	mu      sync.Mutex
	cancels map[uint]context.CancelFunc
}

// NewOrchestrator は、新しいOrchestratorを作成します。
func NewOrchestrator(
	settings *config.Settings,
	pg *pgdb.Storage,
	graph *kuzudb.GraphStorage,
	blob *s3client.S3Client,
	emb *embedder.Service,
	extractionLLM model.ToolCallingChatModel,
	h *harmonizer.Harmonizer,
	encoder chunking.Encoder,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		settings:      settings,
		pg:            pg,
		graph:         graph,
		blob:          blob,
		embedder:      emb,
		extractionLLM: extractionLLM,
		harmonizer:    h,
		encoder:       encoder,
		logger:        logger,
		cancels:       make(map[uint]context.CancelFunc),
	}
}

// ============================================================
// 取り込み
// ============================================================

// Ingest は、PENDING状態のドキュメントを処理します。
// PENDING → PROCESSING → COMPLETED / FAILED の遷移を駆動します。
// バックグラウンドgoroutineから呼ばれる想定で、エラーは状態とDLQに記録されます。
func (o *Orchestrator) Ingest(ctx context.Context, docID uint) {
	if err := o.pg.TransitionStatus(ctx, docID, types.DOC_STATUS_PENDING, types.DOC_STATUS_PROCESSING); err != nil {
		o.logger.Warn("Could not start processing",
			zap.Uint("document_id", docID), zap.Error(err))
		return
	}
	o.process(ctx, docID)
}

// Resume は、UPDATING状態のドキュメントを再処理します（更新フロー）。
// 再処理も必ず PROCESSING を経由します。UPDATING から直接
// COMPLETED / FAILED へ抜けることはありません。
func (o *Orchestrator) Resume(ctx context.Context, docID uint) {
	if err := o.pg.TransitionStatus(ctx, docID, types.DOC_STATUS_UPDATING, types.DOC_STATUS_PROCESSING); err != nil {
		o.logger.Warn("Could not resume processing",
			zap.Uint("document_id", docID), zap.Error(err))
		return
	}
	o.process(ctx, docID)
}

// process は、PROCESSING状態のドキュメントに対してパイプラインを実行し、
// 結果に応じて COMPLETED / FAILED へ遷移させます。
func (o *Orchestrator) process(ctx context.Context, docID uint) {
	doc, err := o.pg.GetDocument(ctx, docID)
	if err != nil {
		o.logger.Error("Failed to load document for processing",
			zap.Uint("document_id", docID), zap.Error(err))
		return
	}

	var ontology *types.OntologySchema
	if doc.OntologyID != nil {
		ontology, err = o.pg.GetOntologySchema(ctx, *doc.OntologyID)
		if err != nil {
			o.fail(ctx, docID, "ontology", fmt.Errorf("Failed to load ontology: %w", err))
			return
		}
	}

	// ハード予算。超過したパイプラインはキャンセルされFAILED+DLQ行きとなる
	runCtx, cancel := context.WithTimeout(ctx, config.DOCUMENT_HARD_BUDGET_SECONDS*time.Second)
	o.registerCancel(docID, cancel)
	defer o.unregisterCancel(docID, cancel)

	softTimer := time.AfterFunc(config.DOCUMENT_SOFT_BUDGET_SECONDS*time.Second, func() {
		o.logger.Warn("Document exceeded soft processing budget",
			zap.Uint("document_id", docID))
	})
	defer softTimer.Stop()

	payload := &types.IngestPayload{
		DocumentID:  strconv.FormatUint(uint64(docID), 10),
		Filename:    doc.Filename,
		ContentHash: doc.ContentHash,
		StorageKey:  doc.StorageKey,
		Ontology:    ontology,
	}

	pipe, err := o.buildPipeline()
	if err != nil {
		o.fail(ctx, docID, "setup", err)
		return
	}

	started := time.Now()
	_, usage, err := pipe.Run(runCtx, payload)
	if err != nil {
		// 削除要求によるキャンセルは失敗として扱わない
		if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.Canceled) {
			o.logger.Info("Pipeline cancelled",
				zap.Uint("document_id", docID))
			return
		}
		o.fail(ctx, docID, stepFromError(err), err)
		return
	}

	if err := o.pg.TransitionStatus(ctx, docID, types.DOC_STATUS_PROCESSING, types.DOC_STATUS_COMPLETED); err != nil {
		// 並行する削除がステータスを奪った場合に到達する
		o.logger.Warn("Could not complete document",
			zap.Uint("document_id", docID), zap.Error(err))
		return
	}

	o.logger.Info("Document ingested",
		zap.Uint("document_id", docID),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens))
}

// buildPipeline は、取り込みパイプラインを構築します。
// ステップ順: parsing → chunking → embedding → extraction → validation →
// harmonize → graph_write
func (o *Orchestrator) buildPipeline() (*pipeline.Pipeline, error) {
	chunkTask, err := chunking.NewChunkingTask(
		o.settings.ChunkSize, o.settings.ChunkOverlap, o.encoder, o.logger)
	if err != nil {
		return nil, err
	}
	return pipeline.NewPipeline(o.logger,
		parsing.NewParsingTask(o.blob, o.logger),
		chunkTask,
		embeddingtask.NewEmbeddingTask(o.embedder, o.logger),
		extraction.NewExtractionTask(o.extractionLLM, o.settings.ExtractionModel, o.logger),
		validation.NewValidationTask(o.logger),
		harmonize.NewHarmonizeTask(o.harmonizer, o.logger),
		graphwrite.NewGraphWriteTask(o.graph, o.logger),
	), nil
}

// fail は、ドキュメントを PROCESSING→FAILED へ遷移させ、エラーログとDLQへ記録します。
func (o *Orchestrator) fail(ctx context.Context, docID uint, step string, cause error) {
	o.logger.Error("Document processing failed",
		zap.Uint("document_id", docID),
		zap.String("step", step),
		zap.Error(cause))

	if err := o.pg.MarkFailed(ctx, docID, types.DOC_STATUS_PROCESSING, cause.Error()); err != nil {
		o.logger.Warn("Could not mark document as failed",
			zap.Uint("document_id", docID), zap.Error(err))
		return
	}
	if err := o.pg.AddDeadLetter(ctx, docID, step, cause.Error(), map[string]any{
		"document_id": docID,
		"step":        step,
	}); err != nil {
		o.logger.Warn("Could not write dead letter",
			zap.Uint("document_id", docID), zap.Error(err))
	}
}

// ============================================================
// 更新
// ============================================================

// Update は、既存ドキュメントの内容を差し替えて再取り込みします。
// COMPLETED → UPDATING へ遷移させた後、旧グラフデータと旧Blobを破棄し、
// UPDATING → PROCESSING 経由で全パイプラインを再実行します。
// FAILED のドキュメントは更新できません（削除して再投入してください）。
func (o *Orchestrator) Update(ctx context.Context, docID uint, safeFilename, contentHash string, data []byte) error {
	doc, err := o.pg.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := o.pg.TransitionStatus(ctx, docID, types.DocumentStatus(doc.Status), types.DOC_STATUS_UPDATING); err != nil {
		return err
	}

	graphDocID := strconv.FormatUint(uint64(docID), 10)
	if err := o.graph.DeleteDocument(ctx, graphDocID); err != nil {
		return fmt.Errorf("Failed to purge previous graph data: %w", err)
	}
	if doc.StorageKey != "" {
		if err := o.blob.Del(ctx, doc.StorageKey); err != nil {
			o.logger.Warn("Could not delete previous blob",
				zap.String("storage_key", doc.StorageKey), zap.Error(err))
		}
	}

	newKey := s3client.MakeKey(contentHash, safeFilename)
	if err := o.blob.Up(ctx, newKey, data); err != nil {
		return fmt.Errorf("Failed to store updated content: %w", err)
	}
	if err := o.pg.ReplaceContent(ctx, docID, safeFilename, contentHash, newKey); err != nil {
		return err
	}

	go o.Resume(context.WithoutCancel(ctx), docID)
	return nil
}

// ============================================================
// 削除
// ============================================================

// Delete は、ドキュメントと関連データを全層から削除します。
// 現在のステータスから DELETING へCAS遷移できた場合のみ削除が進行します。
// 実行中のパイプラインはキャンセルされます。
func (o *Orchestrator) Delete(ctx context.Context, docID uint) error {
	doc, err := o.pg.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := o.pg.TransitionStatus(ctx, docID, types.DocumentStatus(doc.Status), types.DOC_STATUS_DELETING); err != nil {
		return err
	}

	// 実行中のパイプラインを中断する
	o.mu.Lock()
	if cancel, ok := o.cancels[docID]; ok {
		cancel()
	}
	o.mu.Unlock()

	graphDocID := strconv.FormatUint(uint64(docID), 10)
	if err := o.graph.DeleteDocument(ctx, graphDocID); err != nil {
		return fmt.Errorf("Failed to delete graph data: %w", err)
	}
	if doc.StorageKey != "" {
		if err := o.blob.Del(ctx, doc.StorageKey); err != nil {
			o.logger.Warn("Could not delete blob",
				zap.String("storage_key", doc.StorageKey), zap.Error(err))
		}
	}
	if err := o.pg.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	o.logger.Info("Document deleted", zap.Uint("document_id", docID))
	return nil
}

// ============================================================
// 孤立ノードGC
// ============================================================

// GarbageCollectOrphans は、どのチャンクからも言及されなくなったエンティティを
// グラフ層とカノニカル層の両方から削除します。
// 非終端状態のドキュメントが存在する間は何もしません（メンテナンスウィンドウ制約）。
func (o *Orchestrator) GarbageCollectOrphans(ctx context.Context) (int, error) {
	active, err := o.pg.CountActiveDocuments(ctx)
	if err != nil {
		return 0, err
	}
	if active > 0 {
		o.logger.Debug("Skipping orphan GC, documents in flight",
			zap.Int64("active", active))
		return 0, nil
	}

	orphanIDs, err := o.graph.CollectOrphanEntities(ctx)
	if err != nil {
		return 0, err
	}
	if len(orphanIDs) == 0 {
		return 0, nil
	}

	if err := o.graph.DeleteEntities(ctx, orphanIDs); err != nil {
		return 0, err
	}
	if err := o.pg.DeleteCanonicalNodes(ctx, orphanIDs); err != nil {
		return 0, fmt.Errorf("%w: graph entities removed but canonical cleanup failed: %w",
			werrs.ErrConsistency, err)
	}

	o.logger.Info("Collected orphan entities", zap.Int("count", len(orphanIDs)))
	return len(orphanIDs), nil
}

// ============================================================
// 内部ヘルパー
// ============================================================

func (o *Orchestrator) registerCancel(docID uint, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[docID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterCancel(docID uint, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	delete(o.cancels, docID)
	o.mu.Unlock()
}

var stepErrRe = regexp.MustCompile(`^Step (\S+) failed`)

// stepFromError は、パイプラインエラーから失敗ステップ名を取り出します。
func stepFromError(err error) string {
	if m := stepErrRe.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return "pipeline"
}
