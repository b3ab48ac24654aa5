// Package pgdb は、Weaverのリレーショナル層（Canonical Store）を実装します。
// ドキュメントレジストリ、カノニカルエンティティ、エイリアス、Enrichmentキュー、
// DLQ を PostgreSQL + pgvector 上で管理します。
//
// プロセス内の長期ロックは持ちません。リクエストをまたぐ調整は全て
// データベース上のCAS（条件付きUPDATE）と一意制約で行われます。
package pgdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgreSQL の一意制約違反コード。
const pgUniqueViolation = "23505"

// Storage は、Canonical Store への接続を保持します。
type Storage struct {
	db     *gorm.DB
	logger *zap.Logger
	// dimensions はベクトル列の次元数Dです。スキーマ作成時に固定されます。
	dimensions int
}

// NewStorage は、PostgreSQL へ接続してスキーマを初期化します。
// pgvector 拡張の有効化、テーブルのマイグレーション、HNSWインデックスの
// 作成までを行います。
func NewStorage(dsn string, dimensions int, logger *zap.Logger) (*Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to postgres: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("Failed to enable pgvector extension: %w", err)
	}

	if err := db.AutoMigrate(
		&Document{}, &Ontology{}, &CanonicalNode{}, &NodeAlias{}, &EnrichmentItem{}, &DeadLetter{},
	); err != nil {
		return nil, fmt.Errorf("Failed to migrate schema: %w", err)
	}

	// カノニカルエンティティのコサイン近傍検索用インデックス
	if err := db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_canonical_embedding_hnsw ON canonical_nodes
		 USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
	).Error; err != nil {
		return nil, fmt.Errorf("Failed to create hnsw index: %w", err)
	}

	return &Storage{db: db, logger: logger, dimensions: dimensions}, nil
}

// Close は、基盤のコネクションプールを閉じます。
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// =================================================================================
// 1. Document Registry
// =================================================================================

// CreateDocument は、新しいドキュメントレコードを PENDING 状態で作成します。
// 同一ハッシュのレコードが既に存在する場合は werrs.ErrDuplicateHash を返します。
func (s *Storage) CreateDocument(ctx context.Context, filename, contentHash, storageKey string, ontologyID *uint) (*Document, error) {
	doc := &Document{
		Filename:    filename,
		ContentHash: contentHash,
		StorageKey:  storageKey,
		Status:      string(types.DOC_STATUS_PENDING),
		OntologyID:  ontologyID,
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: hash %s", werrs.ErrDuplicateHash, contentHash)
		}
		return nil, werrs.Transient(err)
	}
	return doc, nil
}

// GetDocument は、IDでドキュメントを取得します。
func (s *Storage) GetDocument(ctx context.Context, id uint) (*Document, error) {
	var doc Document
	if err := s.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: document %d", werrs.ErrNotFound, id)
		}
		return nil, werrs.Transient(err)
	}
	return &doc, nil
}

// GetDocumentByHash は、コンテンツハッシュでドキュメントを取得します。
func (s *Storage) GetDocumentByHash(ctx context.Context, contentHash string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: hash %s", werrs.ErrNotFound, contentHash)
		}
		return nil, werrs.Transient(err)
	}
	return &doc, nil
}

// TransitionStatus は、ドキュメント状態を from から to へCASで遷移させます。
// 状態機械上許可されない遷移、または現在状態が from と一致しない場合は
// werrs.ErrInvalidStatusTransition を返します。
func (s *Storage) TransitionStatus(ctx context.Context, id uint, from, to types.DocumentStatus) error {
	if !types.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", werrs.ErrInvalidStatusTransition, from, to)
	}
	res := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return werrs.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %d is no longer in %s", werrs.ErrInvalidStatusTransition, id, from)
	}
	return nil
}

// MarkFailed は、ドキュメントを FAILED へ遷移させ、エラーログを記録します。
// FAILED への書き込みは error_log の同時設定が必須です。
func (s *Storage) MarkFailed(ctx context.Context, id uint, from types.DocumentStatus, errorLog string) error {
	if errorLog == "" {
		return fmt.Errorf("%w: FAILED requires a non-empty error log", werrs.ErrConsistency)
	}
	if !types.CanTransition(from, types.DOC_STATUS_FAILED) {
		return fmt.Errorf("%w: %s -> FAILED", werrs.ErrInvalidStatusTransition, from)
	}
	res := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{"status": string(types.DOC_STATUS_FAILED), "error_log": errorLog})
	if res.Error != nil {
		return werrs.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %d is no longer in %s", werrs.ErrInvalidStatusTransition, id, from)
	}
	return nil
}

// ReplaceContent は、Update フローでドキュメントの内容参照を差し替えます。
// 呼び出し時点で UPDATING 状態であることが前提です。
func (s *Storage) ReplaceContent(ctx context.Context, id uint, filename, contentHash, storageKey string) error {
	res := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ?", id, string(types.DOC_STATUS_UPDATING)).
		Updates(map[string]any{
			"filename":     filename,
			"content_hash": contentHash,
			"storage_key":  storageKey,
			"error_log":    nil,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("%w: hash %s", werrs.ErrDuplicateHash, contentHash)
		}
		return werrs.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %d is not in UPDATING", werrs.ErrInvalidStatusTransition, id)
	}
	return nil
}

// DeleteDocument は、DELETING 状態のドキュメントを物理削除します。
func (s *Storage) DeleteDocument(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, string(types.DOC_STATUS_DELETING)).
		Delete(&Document{})
	if res.Error != nil {
		return werrs.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %d is not in DELETING", werrs.ErrInvalidStatusTransition, id)
	}
	return nil
}

// CountActiveDocuments は、処理中（PENDING / PROCESSING / UPDATING / DELETING）の
// ドキュメント数を返します。GCのメンテナンスウィンドウ判定に使用されます。
func (s *Storage) CountActiveDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("status IN ?", []string{
			string(types.DOC_STATUS_PENDING),
			string(types.DOC_STATUS_PROCESSING),
			string(types.DOC_STATUS_UPDATING),
			string(types.DOC_STATUS_DELETING),
		}).Count(&count).Error
	if err != nil {
		return 0, werrs.Transient(err)
	}
	return count, nil
}

// =================================================================================
// 2. Ontology (DomainConfig)
// =================================================================================

// CreateOntology は、新しいオントロジーを登録します。名前は一意です。
func (s *Storage) CreateOntology(ctx context.Context, name string, schema *types.OntologySchema) (*Ontology, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal ontology schema: %w", werrs.ErrValidation, err)
	}
	ont := &Ontology{Name: name, Schema: raw}
	if err := s.db.WithContext(ctx).Create(ont).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: ontology name %q already exists", werrs.ErrValidation, name)
		}
		return nil, werrs.Transient(err)
	}
	return ont, nil
}

// GetOntologySchema は、IDでオントロジースキーマを取得します。
func (s *Storage) GetOntologySchema(ctx context.Context, id uint) (*types.OntologySchema, error) {
	var ont Ontology
	if err := s.db.WithContext(ctx).First(&ont, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: ontology %d", werrs.ErrNotFound, id)
		}
		return nil, werrs.Transient(err)
	}
	var schema types.OntologySchema
	if err := json.Unmarshal(ont.Schema, &schema); err != nil {
		return nil, fmt.Errorf("%w: ontology %d has malformed schema: %w", werrs.ErrConsistency, id, err)
	}
	return &schema, nil
}

// =================================================================================
// 3. Canonical Entities
// =================================================================================

// GetOrCreateCanonicalNode は、name のカノニカルエンティティを取得または作成します。
// 並行呼び出しでは name の一意制約により正確に1件だけが created=true を受け取り、
// 敗者は既存レコードを再読込して返します。これが唯一の競合書き込み点です。
func (s *Storage) GetOrCreateCanonicalNode(ctx context.Context, name, nodeType, description string, embedding []float32) (*CanonicalNode, bool, error) {
	node := &CanonicalNode{
		ID:          uuid.New().String(),
		Name:        name,
		NodeType:    nodeType,
		Description: description,
		Embedding:   pgvector.NewVector(embedding),
	}
	err := s.db.WithContext(ctx).Create(node).Error
	if err == nil {
		return node, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, werrs.Transient(err)
	}

	// 一意制約違反 = 他の呼び出しが先に作成済み。既存レコードを返す
	var existing CanonicalNode
	readErr := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&existing).Error
	if readErr != nil {
		return nil, false, werrs.Transient(readErr)
	}
	return &existing, false, nil
}

// GetCanonicalNode は、IDでカノニカルエンティティを取得します。
func (s *Storage) GetCanonicalNode(ctx context.Context, id string) (*CanonicalNode, error) {
	var node CanonicalNode
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: canonical node %s", werrs.ErrNotFound, id)
		}
		return nil, werrs.Transient(err)
	}
	return &node, nil
}

// FindCanonicalByAlias は、エイリアス（大文字小文字を区別しない）でカノニカル
// エンティティを検索します。見つからない場合は (nil, nil) を返します。
func (s *Storage) FindCanonicalByAlias(ctx context.Context, alias string) (*CanonicalNode, error) {
	var node CanonicalNode
	err := s.db.WithContext(ctx).
		Joins("JOIN node_aliases ON node_aliases.canonical_node_id = canonical_nodes.id").
		Where("LOWER(node_aliases.alias) = LOWER(?)", alias).
		First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, werrs.Transient(err)
	}
	return &node, nil
}

// FindCanonicalByName は、名前の完全一致（大文字小文字を区別しない）で検索します。
// typeScoped が true の場合は nodeType の一致も要求します。
// 見つからない場合は (nil, nil) を返します。
func (s *Storage) FindCanonicalByName(ctx context.Context, name, nodeType string, typeScoped bool) (*CanonicalNode, error) {
	q := s.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name)
	if typeScoped {
		q = q.Where("node_type = ?", nodeType)
	}
	var node CanonicalNode
	if err := q.First(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, werrs.Transient(err)
	}
	return &node, nil
}

// NearestCanonical は、コサイン類似度が最大のカノニカルエンティティを返します。
// typeScoped が true の場合、候補は nodeType が一致するものに限定されます。
// 候補が存在しない場合は (nil, 0, nil) を返します。
func (s *Storage) NearestCanonical(ctx context.Context, embedding []float32, nodeType string, typeScoped bool) (*CanonicalNode, float64, error) {
	vec := pgvector.NewVector(embedding)

	type row struct {
		CanonicalNode
		Distance float64
	}
	var r row
	q := s.db.WithContext(ctx).Model(&CanonicalNode{}).
		Select("*, (embedding <=> ?) AS distance", vec)
	if typeScoped {
		q = q.Where("node_type = ?", nodeType)
	}
	err := q.Order("distance ASC").Limit(1).Scan(&r).Error
	if err != nil {
		return nil, 0, werrs.Transient(err)
	}
	if r.ID == "" {
		return nil, 0, nil
	}
	// コサイン距離から類似度へ変換
	return &r.CanonicalNode, 1.0 - r.Distance, nil
}

// DeleteCanonicalNodes は、GCが特定した孤立エンティティのカノニカルレコードを削除します。
// 付随するエイリアスも削除されます。
func (s *Storage) DeleteCanonicalNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("canonical_node_id IN ?", ids).Delete(&NodeAlias{}).Error; err != nil {
			return werrs.Transient(err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&CanonicalNode{}).Error; err != nil {
			return werrs.Transient(err)
		}
		return nil
	})
}

// AddAlias は、カノニカルエンティティへエイリアスを追加します。
// 同一 (alias, node) の重複は黙って無視されます。
func (s *Storage) AddAlias(ctx context.Context, alias, canonicalNodeID string, confidence float64) error {
	rec := &NodeAlias{
		Alias:           alias,
		CanonicalNodeID: canonicalNodeID,
		Confidence:      confidence,
	}
	err := s.db.WithContext(ctx).Create(rec).Error
	if err != nil && !isUniqueViolation(err) {
		return werrs.Transient(err)
	}
	return nil
}

// =================================================================================
// 4. Enrichment Queue
// =================================================================================

// EnqueueEnrichment は、解決できなかったメンションを正規化キューへ投入します。
// カノニカルレコードの作成はワーカー側の get-or-create まで遅延されます。
func (s *Storage) EnqueueEnrichment(ctx context.Context, surfaceForm, nodeType, contextText string) error {
	item := &EnrichmentItem{
		SurfaceForm: surfaceForm,
		NodeType:    nodeType,
		Context:     contextText,
		Status:      ENRICH_STATUS_PENDING,
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return werrs.Transient(err)
	}
	return nil
}

// ClaimEnrichmentBatch は、PENDING のアイテムを最大 limit 件 PROCESSING へCAS遷移させて返します。
// SKIP LOCKED により、複数ワーカーが同一アイテムを同時に観測することはありません。
func (s *Storage) ClaimEnrichmentBatch(ctx context.Context, limit int) ([]EnrichmentItem, error) {
	var items []EnrichmentItem
	err := s.db.WithContext(ctx).Raw(`
		UPDATE enrichment_items SET status = ?, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM enrichment_items
			WHERE status = ?
			ORDER BY id
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		ENRICH_STATUS_PROCESSING, ENRICH_STATUS_PENDING, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, werrs.Transient(err)
	}
	return items, nil
}

// CompleteEnrichment は、アイテムを PROCESSING→COMPLETED へCAS遷移させます。
func (s *Storage) CompleteEnrichment(ctx context.Context, id uint) error {
	return s.finishEnrichment(ctx, id, ENRICH_STATUS_COMPLETED, nil)
}

// FailEnrichment は、アイテムを PROCESSING→FAILED へCAS遷移させ、エラーを記録します。
func (s *Storage) FailEnrichment(ctx context.Context, id uint, errMsg string) error {
	return s.finishEnrichment(ctx, id, ENRICH_STATUS_FAILED, &errMsg)
}

func (s *Storage) finishEnrichment(ctx context.Context, id uint, to string, errMsg *string) error {
	updates := map[string]any{
		"status":   to,
		"attempts": gorm.Expr("attempts + 1"),
	}
	if errMsg != nil {
		updates["last_error"] = *errMsg
	}
	res := s.db.WithContext(ctx).Model(&EnrichmentItem{}).
		Where("id = ? AND status = ?", id, ENRICH_STATUS_PROCESSING).
		Updates(updates)
	if res.Error != nil {
		return werrs.Transient(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: enrichment item %d is not in PROCESSING", werrs.ErrInvalidStatusTransition, id)
	}
	return nil
}

// =================================================================================
// 5. Dead Letter Queue
// =================================================================================

// AddDeadLetter は、リトライを使い果たしたステップの記録をDLQへ追加します。
func (s *Storage) AddDeadLetter(ctx context.Context, documentID uint, step, errorLog string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	rec := &DeadLetter{
		DocumentID: documentID,
		Step:       step,
		ErrorLog:   errorLog,
		Payload:    []byte(raw),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return werrs.Transient(err)
	}
	return nil
}
