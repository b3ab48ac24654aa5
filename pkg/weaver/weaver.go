// Package weaver は、Weaverエンジンのコアとなるパッケージです。
// このパッケージは、ドキュメントの取り込み(Submit)、更新(Update)、削除(Delete)、
// ハイブリッド検索(Query)の主要機能を提供します。
//
// 内部構成:
//   - リレーショナル層 (pgdb): ドキュメントメタデータ、カノニカルエンティティ、
//     エイリアス、Enrichmentキュー、DLQ
//   - グラフ層 (kuzudb): ドキュメント/チャンク/エンティティのノードと関係エッジ、
//     埋め込みベクトル検索
//   - Blob層 (s3client): 原文ファイル（ローカル/S3両対応）
package weaver

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/t-kawata/myweave/config"
	"github.com/t-kawata/myweave/lib/common"
	"github.com/t-kawata/myweave/pkg/s3client"
	"github.com/t-kawata/myweave/pkg/weaver/db/kuzudb"
	"github.com/t-kawata/myweave/pkg/weaver/db/pgdb"
	"github.com/t-kawata/myweave/pkg/weaver/embedder"
	"github.com/t-kawata/myweave/pkg/weaver/harmonizer"
	"github.com/t-kawata/myweave/pkg/weaver/orchestrator"
	"github.com/t-kawata/myweave/pkg/weaver/providers"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/chunking"
	"github.com/t-kawata/myweave/pkg/weaver/tasks/enrichment"
	"github.com/t-kawata/myweave/pkg/weaver/tools/search"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/utils"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// WeaverService は、Weaverの主要な機能を提供するサービス構造体です。
// データベース接続とLLMクライアントを内部で保持し、ライフサイクルを管理します。
type WeaverService struct {
	Settings *config.Settings
	Logger   *zap.Logger

	PG    *pgdb.Storage
	Graph *kuzudb.GraphStorage
	Blob  *s3client.S3Client

	Embedder      *embedder.Service
	ExtractionLLM model.ToolCallingChatModel
	GeneratorLLM  model.ToolCallingChatModel

	Orchestrator *orchestrator.Orchestrator
	Retriever    *search.Retriever
	Generator    *search.Generator
	Enrichment   *enrichment.Worker

	// bgCancel はバックグラウンドgoroutine群を停止します。
	bgCancel context.CancelFunc
}

// New は、WeaverServiceの新しいインスタンスを作成します。
// この関数は以下の処理を順番に実行します：
//  1. トークン使用量コールバックの初期化
//  2. LLMクライアント（抽出用・生成用）とEmbedderの初期化
//  3. リレーショナルストア（Postgres + pgvector）の初期化
//  4. グラフストア（KuzuDB）の初期化
//  5. Blobストア（S3/ローカル）の初期化
//  6. Orchestrator / Retriever / Enrichmentワーカーの構築
//
// エラーが発生した場合は、それまでに開いたリソースをクリーンアップしてからエラーを返します。
func New(settings *config.Settings, logger *zap.Logger) (*WeaverService, error) {
	ctx := context.Background()

	// ========================================
	// 1. LLM / Embedder の初期化
	// ========================================
	providerType := providers.ProviderType(settings.LLMProvider)
	// 抽出は決定性を優先して温度0・JSONレスポンスモードを強制する
	extractionTemp := float32(0)
	extractionLLM, err := providers.NewChatModel(ctx, providers.ProviderConfig{
		Type:        providerType,
		APIKey:      settings.LLMAPIKey,
		BaseURL:     settings.LLMBaseURL,
		ModelName:   settings.ExtractionModel,
		Temperature: &extractionTemp,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to initialize extraction ChatModel: %w", err)
	}
	generatorLLM, err := providers.NewChatModel(ctx, providers.ProviderConfig{
		Type:      providerType,
		APIKey:    settings.LLMAPIKey,
		BaseURL:   settings.LLMBaseURL,
		ModelName: settings.GeneratorModel,
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to initialize generator ChatModel: %w", err)
	}

	rawEmb, err := providers.NewEmbedder(ctx, providers.ProviderConfig{
		Type:      providerType,
		APIKey:    settings.EmbeddingAPIKey,
		BaseURL:   settings.EmbeddingBaseURL,
		ModelName: settings.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to initialize Embedder: %w", err)
	}
	emb, err := embedder.NewService(rawEmb, settings.EmbeddingModel, settings.EmbeddingDimensions, settings.EmbeddingBatchSize)
	if err != nil {
		return nil, err
	}

	// ========================================
	// 2. ストレージ層の初期化
	// ========================================
	pg, err := pgdb.NewStorage(settings.PostgresDSN, settings.EmbeddingDimensions, logger)
	if err != nil {
		return nil, fmt.Errorf("Failed to initialize relational store: %w", err)
	}
	graph, err := kuzudb.NewGraphStorage(settings.GraphDBPath, settings.EmbeddingDimensions, logger)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("Failed to initialize graph store: %w", err)
	}
	blob, err := s3client.NewS3Client(
		settings.S3AccessKey,
		settings.S3SecretKey,
		settings.S3Region,
		settings.S3Bucket,
		settings.S3LocalDir,
		settings.S3DownDir,
		settings.S3UseLocal,
		logger,
	)
	if err != nil {
		graph.Close()
		pg.Close()
		return nil, fmt.Errorf("Failed to initialize blob store: %w", err)
	}

	// ========================================
	// 3. エンジンコンポーネントの構築
	// ========================================
	encoder, err := chunking.NewTiktokenEncoder()
	if err != nil {
		graph.Close()
		pg.Close()
		return nil, err
	}
	h := harmonizer.NewHarmonizer(pg, emb, settings.ResolutionThreshold, settings.ResolutionTypeScoped, logger)
	orch := orchestrator.NewOrchestrator(settings, pg, graph, blob, emb, extractionLLM, h, encoder, logger)
	planner := search.NewPlanner(extractionLLM, settings.ExtractionModel, logger)
	retriever := search.NewRetriever(graph, emb, planner, settings.RRFK, logger)
	generator := search.NewGenerator(generatorLLM, settings.GeneratorModel, logger)
	enrich := enrichment.NewWorker(pg, emb, extractionLLM, settings.ExtractionModel, logger)

	return &WeaverService{
		Settings:      settings,
		Logger:        logger,
		PG:            pg,
		Graph:         graph,
		Blob:          blob,
		Embedder:      emb,
		ExtractionLLM: extractionLLM,
		GeneratorLLM:  generatorLLM,
		Orchestrator:  orch,
		Retriever:     retriever,
		Generator:     generator,
		Enrichment:    enrich,
	}, nil
}

// StartBackground は、バックグラウンド処理（Enrichmentワーカー、孤立ノードGC、
// ダウンロードキャッシュのクリーンアップ）を開始します。
// Close で停止されます。二重起動は呼び出し側の責任で避けてください。
func (s *WeaverService) StartBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	go s.Enrichment.Start(ctx)

	go func() {
		ticker := time.NewTicker(config.GC_INTERVAL_MINUTES * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Orchestrator.GarbageCollectOrphans(ctx); err != nil {
					s.Logger.Warn("Orphan GC failed", zap.Error(err))
				}
				if err := s.Blob.CleanupDownDir(config.GC_INTERVAL_MINUTES); err != nil {
					s.Logger.Warn("Download cache cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// Close は、WeaverServiceが保持するリソースを解放します。
// defer service.Close() のように使用することで、リソースリークを防ぎます。
func (s *WeaverService) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	var errs []error
	if err := s.Graph.Close(); err != nil {
		errs = append(errs, fmt.Errorf("Failed to close graph store: %w", err))
	}
	if err := s.PG.Close(); err != nil {
		errs = append(errs, fmt.Errorf("Failed to close relational store: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing service: %v", errs)
	}
	return nil
}

// ============================================================
// ドキュメントライフサイクル
// ============================================================

// Submit は、新しいドキュメントを取り込みキューへ投入します。
// 検証（サイズ上限、ファイル名サニタイズ、内容ハッシュの一意性）を通過すると
// Blobを保存し、PENDING状態のドキュメントを作成して、
// バックグラウンドで取り込みパイプラインを開始します。
//
// 返り値のドキュメントIDはジョブハンドルであり、GetStatus で進捗を確認できます。
func (s *WeaverService) Submit(ctx context.Context, filename string, data []byte, ontologyID *uint) (uint, error) {
	if int64(len(data)) > s.Settings.MaxUploadBytes {
		return 0, fmt.Errorf("%w: upload size %d exceeds limit %d", werrs.ErrTooLarge, len(data), s.Settings.MaxUploadBytes)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty upload", werrs.ErrValidation)
	}

	safeName, err := utils.SanitizeFilename(filename)
	if err != nil {
		return 0, err
	}
	contentHash := common.CalculateSHA256(data)

	// 取り込み済みの内容は受理しない
	if existing, err := s.PG.GetDocumentByHash(ctx, contentHash); err == nil && existing != nil {
		return 0, fmt.Errorf("%w: content already ingested as document %d", werrs.ErrDuplicateHash, existing.ID)
	}

	key := s3client.MakeKey(contentHash, safeName)
	if err := s.Blob.Up(ctx, key, data); err != nil {
		return 0, fmt.Errorf("Failed to store upload: %w", err)
	}

	doc, err := s.PG.CreateDocument(ctx, safeName, contentHash, key, ontologyID)
	if err != nil {
		return 0, err
	}

	go s.Orchestrator.Ingest(context.WithoutCancel(ctx), doc.ID)

	s.Logger.Info("Document submitted",
		zap.Uint("document_id", doc.ID),
		zap.String("filename", safeName))
	return doc.ID, nil
}

// GetStatus は、ドキュメントの現在の状態を返します。
func (s *WeaverService) GetStatus(ctx context.Context, docID uint) (*pgdb.Document, error) {
	return s.PG.GetDocument(ctx, docID)
}

// Update は、既存ドキュメントの内容を新しいファイルで差し替えます。
// 旧グラフデータと旧Blobは破棄され、取り込みパイプラインが再実行されます。
func (s *WeaverService) Update(ctx context.Context, docID uint, filename string, data []byte) error {
	if int64(len(data)) > s.Settings.MaxUploadBytes {
		return fmt.Errorf("%w: upload size %d exceeds limit %d", werrs.ErrTooLarge, len(data), s.Settings.MaxUploadBytes)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty upload", werrs.ErrValidation)
	}

	safeName, err := utils.SanitizeFilename(filename)
	if err != nil {
		return err
	}
	contentHash := common.CalculateSHA256(data)

	if existing, err := s.PG.GetDocumentByHash(ctx, contentHash); err == nil && existing != nil && existing.ID != docID {
		return fmt.Errorf("%w: content already ingested as document %d", werrs.ErrDuplicateHash, existing.ID)
	}

	return s.Orchestrator.Update(ctx, docID, safeName, contentHash, data)
}

// Delete は、ドキュメントと関連データを全層から削除します。
func (s *WeaverService) Delete(ctx context.Context, docID uint) error {
	return s.Orchestrator.Delete(ctx, docID)
}

// CreateOntology は、抽出を制約するオントロジーを登録します。
func (s *WeaverService) CreateOntology(ctx context.Context, name string, schema *types.OntologySchema) (uint, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: ontology name must not be empty", werrs.ErrValidation)
	}
	ontology, err := s.PG.CreateOntology(ctx, name, schema)
	if err != nil {
		return 0, err
	}
	return ontology.ID, nil
}

// ============================================================
// 検索
// ============================================================

// Query は、クエリ（質問）に基づいてハイブリッド検索を実行します。
// cfg.WithAnswer が true の場合、検索結果を根拠とする回答文も生成されます。
// 検索結果が空の場合、回答生成はスキップされます。
func (s *WeaverService) Query(ctx context.Context, text string, cfg types.QueryConfig) (*types.QueryResult, error) {
	result, err := s.Retriever.Retrieve(ctx, text, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.WithAnswer && (len(result.Chunks) > 0 || len(result.Paths) > 0) {
		answer, usage, err := s.Generator.Answer(ctx, text, result.Chunks, result.Paths)
		result.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		result.Answer = answer
	}
	return result, nil
}
