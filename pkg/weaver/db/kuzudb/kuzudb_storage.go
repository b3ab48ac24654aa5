// Package kuzudb は、KuzuDBを使用したWeaverのグラフ層を実装します。
// Document / Chunk / Entity のノードテーブルと、HAS_CHUNK / NEXT_CHUNK /
// MENTIONS / RELATES のリレーションテーブルを管理します。
//
// 文字列は全て escapeString を通してからクエリへ代入されます。リレーション
// タイプのようにクエリ構造へ影響しうる識別子は、さらに安全識別子検証を
// 通過したもののみ受け付けます。
package kuzudb

import (
	"context"
	"fmt"
	"math"
	"strings"

	kuzu "github.com/kuzudb/go-kuzu"
	"github.com/t-kawata/myweave/pkg/weaver/promptsec"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// GraphStorage は、KuzuDBを使用した統合グラフ・ベクトルストレージ実装です。
type GraphStorage struct {
	db     *kuzu.Database
	conn   *kuzu.Connection
	logger *zap.Logger
	// dimensions は埋め込み列の次元数Dです。スキーマ作成時に固定されます。
	dimensions int
}

// NewGraphStorage は新しいGraphStorageインスタンスを作成します。
func NewGraphStorage(dbPath string, dimensions int, logger *zap.Logger) (*GraphStorage, error) {
	var db *kuzu.Database
	var err error

	if dbPath == ":memory:" {
		db, err = kuzu.OpenInMemoryDatabase(kuzu.DefaultSystemConfig())
	} else {
		db, err = kuzu.OpenDatabase(dbPath, kuzu.DefaultSystemConfig())
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to open KuzuDB database: %w", err)
	}

	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to open KuzuDB connection: %w", err)
	}

	s := &GraphStorage{db: db, conn: conn, logger: logger, dimensions: dimensions}
	if err := s.EnsureSchema(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close はリソースを解放します。
func (s *GraphStorage) Close() error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

// EnsureSchema は必要なテーブルスキーマを作成します。
// DDLはAutoCommitモードで実行し、既存テーブルのエラーは無視します。
func (s *GraphStorage) EnsureSchema(ctx context.Context) error {
	nodeTables := []string{
		`CREATE NODE TABLE Document (
			id STRING,
			filename STRING,
			content_hash STRING,
			PRIMARY KEY (id)
		)`,
		fmt.Sprintf(`CREATE NODE TABLE Chunk (
			id STRING,
			document_id STRING,
			chunk_index INT64,
			token_count INT64,
			text STRING,
			embedding FLOAT[%d],
			PRIMARY KEY (id)
		)`, s.dimensions),
		fmt.Sprintf(`CREATE NODE TABLE Entity (
			id STRING,
			name STRING,
			node_type STRING,
			description STRING,
			embedding FLOAT[%d],
			PRIMARY KEY (id)
		)`, s.dimensions),
	}
	relTables := []string{
		// Document -> Chunk
		`CREATE REL TABLE HAS_CHUNK (
			FROM Document TO Chunk
		)`,
		// Chunk -> Chunk (文書内の順序)
		`CREATE REL TABLE NEXT_CHUNK (
			FROM Chunk TO Chunk
		)`,
		// Chunk -> Entity
		`CREATE REL TABLE MENTIONS (
			FROM Chunk TO Entity
		)`,
		// Entity -> Entity。意味は type プロパティ（UPPER_SNAKE_CASE）で保持し、
		// chunk_id は関係が主張されたチャンクの出所情報
		`CREATE REL TABLE RELATES (
			FROM Entity TO Entity,
			type STRING,
			description STRING,
			chunk_id STRING
		)`,
	}

	for _, query := range append(nodeTables, relTables...) {
		if err := s.createTable(query); err != nil {
			return err
		}
	}
	return nil
}

// createTable はテーブル作成を実行し、"already exists" エラーを無視するヘルパー関数です。
func (s *GraphStorage) createTable(query string) error {
	_, err := s.conn.Query(query)
	if err != nil {
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "exists") {
			return nil
		}
		return fmt.Errorf("Failed to create table with query: %s, error: %w", query, err)
	}
	return nil
}

// exec はクエリを実行して結果を即座に閉じます。
func (s *GraphStorage) exec(query string) error {
	result, err := s.conn.Query(query)
	if err != nil {
		return werrs.Transient(err)
	}
	result.Close()
	return nil
}

// =================================================================================
// 1. Document / Chunk の書き込み
// =================================================================================

// UpsertDocument は、Documentノードを作成または更新します。
func (s *GraphStorage) UpsertDocument(ctx context.Context, docID, filename, contentHash string) error {
	query := fmt.Sprintf(`
		MERGE (d:Document {id: '%s'})
		ON CREATE SET
			d.filename = '%s',
			d.content_hash = '%s'
		ON MATCH SET
			d.filename = '%s',
			d.content_hash = '%s'
	`,
		escapeString(docID),
		escapeString(filename), escapeString(contentHash),
		escapeString(filename), escapeString(contentHash),
	)
	if err := s.exec(query); err != nil {
		return fmt.Errorf("Failed to upsert document: %w", err)
	}
	return nil
}

// UpsertChunk は、Chunkノードを作成し、親Documentへ HAS_CHUNK で接続します。
// 埋め込みは有限値のみ受理されます。
func (s *GraphStorage) UpsertChunk(ctx context.Context, chunk *types.ChunkData) error {
	vecStr, err := formatVector(chunk.Embedding, s.dimensions)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		MERGE (c:Chunk {id: '%s'})
		ON CREATE SET
			c.document_id = '%s',
			c.chunk_index = %d,
			c.token_count = %d,
			c.text = '%s',
			c.embedding = %s
		ON MATCH SET
			c.document_id = '%s',
			c.chunk_index = %d,
			c.token_count = %d,
			c.text = '%s',
			c.embedding = %s
	`,
		escapeString(chunk.ID),
		escapeString(chunk.DocumentID), chunk.Index, chunk.TokenCount, escapeString(chunk.Text), vecStr,
		escapeString(chunk.DocumentID), chunk.Index, chunk.TokenCount, escapeString(chunk.Text), vecStr,
	)
	if err := s.exec(query); err != nil {
		return fmt.Errorf("Failed to upsert chunk: %w", err)
	}

	linkQuery := fmt.Sprintf(`
		MATCH (d:Document {id: '%s'}), (c:Chunk {id: '%s'})
		MERGE (d)-[:HAS_CHUNK]->(c)
	`, escapeString(chunk.DocumentID), escapeString(chunk.ID))
	if err := s.exec(linkQuery); err != nil {
		return fmt.Errorf("Failed to link chunk to document: %w", err)
	}
	return nil
}

// LinkChunkSequence は、連続するチャンクを NEXT_CHUNK で接続します。
func (s *GraphStorage) LinkChunkSequence(ctx context.Context, prevChunkID, nextChunkID string) error {
	query := fmt.Sprintf(`
		MATCH (a:Chunk {id: '%s'}), (b:Chunk {id: '%s'})
		MERGE (a)-[:NEXT_CHUNK]->(b)
	`, escapeString(prevChunkID), escapeString(nextChunkID))
	if err := s.exec(query); err != nil {
		return fmt.Errorf("Failed to link chunk sequence: %w", err)
	}
	return nil
}

// =================================================================================
// 2. Entity / Relation の書き込み
// =================================================================================

// UpsertEntity は、カノニカルEntityノードを作成または更新します。
func (s *GraphStorage) UpsertEntity(ctx context.Context, entity *types.ResolvedEntity) error {
	vecStr, err := formatVector(entity.Embedding, s.dimensions)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		MERGE (e:Entity {id: '%s'})
		ON CREATE SET
			e.name = '%s',
			e.node_type = '%s',
			e.description = '%s',
			e.embedding = %s
		ON MATCH SET
			e.name = '%s',
			e.node_type = '%s',
			e.description = '%s',
			e.embedding = %s
	`,
		escapeString(entity.ID),
		escapeString(entity.CanonicalName), escapeString(entity.NodeType), escapeString(entity.Description), vecStr,
		escapeString(entity.CanonicalName), escapeString(entity.NodeType), escapeString(entity.Description), vecStr,
	)
	if err := s.exec(query); err != nil {
		return fmt.Errorf("Failed to upsert entity: %w", err)
	}
	return nil
}

// UpsertRelation は、Entity間の RELATES エッジを作成または更新します。
// リレーションタイプは安全識別子検証を通過したもののみ受理されます。
func (s *GraphStorage) UpsertRelation(ctx context.Context, rel *types.GraphRelation) error {
	if !promptsec.IsSafeIdentifier(rel.Type) {
		return fmt.Errorf("%w: relation type %q", werrs.ErrInvalidLabel, rel.Type)
	}
	query := fmt.Sprintf(`
		MATCH (a:Entity {id: '%s'}), (b:Entity {id: '%s'})
		MERGE (a)-[r:RELATES {type: '%s', chunk_id: '%s'}]->(b)
		ON CREATE SET r.description = '%s'
		ON MATCH SET r.description = '%s'
	`,
		escapeString(rel.SourceID), escapeString(rel.TargetID),
		rel.Type, escapeString(rel.ChunkID),
		escapeString(rel.Description), escapeString(rel.Description),
	)
	if err := s.exec(query); err != nil {
		return fmt.Errorf("Failed to upsert relation: %w", err)
	}
	return nil
}

// LinkChunkToEntities は、チャンクが言及するEntityへ MENTIONS エッジを張ります。
func (s *GraphStorage) LinkChunkToEntities(ctx context.Context, chunkID string, entityIDs []string) error {
	for _, entityID := range entityIDs {
		query := fmt.Sprintf(`
			MATCH (c:Chunk {id: '%s'}), (e:Entity {id: '%s'})
			MERGE (c)-[:MENTIONS]->(e)
		`, escapeString(chunkID), escapeString(entityID))
		if err := s.exec(query); err != nil {
			return fmt.Errorf("Failed to link chunk %s to entity %s: %w", chunkID, entityID, err)
		}
	}
	return nil
}

// =================================================================================
// 3. 削除とGC
// =================================================================================

// DeleteDocument は、Documentノードと配下の全Chunkを削除します。
// 部分書き込み（FAILED からの削除）でも配下のChunkを必ず除去します。
// Chunkの消滅により言及されなくなったEntityは、次のGCで回収されます。
func (s *GraphStorage) DeleteDocument(ctx context.Context, docID string) error {
	chunkQuery := fmt.Sprintf(`
		MATCH (c:Chunk {document_id: '%s'})
		DETACH DELETE c
	`, escapeString(docID))
	if err := s.exec(chunkQuery); err != nil {
		return fmt.Errorf("Failed to delete chunks of document %s: %w", docID, err)
	}

	docQuery := fmt.Sprintf(`
		MATCH (d:Document {id: '%s'})
		DETACH DELETE d
	`, escapeString(docID))
	if err := s.exec(docQuery); err != nil {
		return fmt.Errorf("Failed to delete document %s: %w", docID, err)
	}
	return nil
}

// CollectOrphanEntities は、どのChunkからも言及されていないEntityのIDを返します。
func (s *GraphStorage) CollectOrphanEntities(ctx context.Context) ([]string, error) {
	query := `
		MATCH (e:Entity)
		WHERE NOT EXISTS { MATCH (:Chunk)-[:MENTIONS]->(e) }
		RETURN e.id
	`
	result, err := s.conn.Query(query)
	if err != nil {
		return nil, werrs.Transient(err)
	}
	defer result.Close()

	var ids []string
	for result.HasNext() {
		row, err := result.Next()
		if err != nil {
			return nil, werrs.Transient(err)
		}
		if v, _ := row.GetValue(0); v != nil {
			ids = append(ids, s.getString(v))
		}
	}
	return ids, nil
}

// DeleteEntities は、指定したEntityノードを付随エッジごと削除します。
func (s *GraphStorage) DeleteEntities(ctx context.Context, ids []string) error {
	for _, id := range ids {
		query := fmt.Sprintf(`
			MATCH (e:Entity {id: '%s'})
			DETACH DELETE e
		`, escapeString(id))
		if err := s.exec(query); err != nil {
			return fmt.Errorf("Failed to delete entity %s: %w", id, err)
		}
	}
	return nil
}

// CountDocumentChunks は、ドキュメント配下のチャンク数を返します。
func (s *GraphStorage) CountDocumentChunks(ctx context.Context, docID string) (int64, error) {
	query := fmt.Sprintf(`
		MATCH (c:Chunk {document_id: '%s'})
		RETURN count(c)
	`, escapeString(docID))
	result, err := s.conn.Query(query)
	if err != nil {
		return 0, werrs.Transient(err)
	}
	defer result.Close()
	if result.HasNext() {
		row, _ := result.Next()
		if v, _ := row.GetValue(0); v != nil {
			return s.getInt64(v), nil
		}
	}
	return 0, nil
}

// =================================================================================
// Helper Functions
// =================================================================================

// escapeString は文字列をCypherクエリ用にエスケープします。
// NULバイトを除去し、バックスラッシュとシングルクォートをエスケープします。
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	return s
}

// formatVector は埋め込みをKuzuDBのリテラル形式へ変換します。
// 次元不一致と非有限値は拒否されます。
func formatVector(vec []float32, dimensions int) (string, error) {
	if len(vec) != dimensions {
		return "", fmt.Errorf("%w: vector dimension mismatch: expected %d, got %d",
			werrs.ErrConsistency, dimensions, len(vec))
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return "", fmt.Errorf("%w: vector contains non-finite value at index %d", werrs.ErrConsistency, i)
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("%f", v))
	}
	sb.WriteString("]")
	return sb.String(), nil
}

func (s *GraphStorage) getString(v any) string {
	if v == nil {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		s.logger.Warn("Expected string from graph query", zap.Any("value", v))
		return ""
	}
	return str
}

func (s *GraphStorage) getInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case nil:
		return 0
	default:
		s.logger.Warn("Expected int64 from graph query", zap.Any("value", v))
		return 0
	}
}

func (s *GraphStorage) getFloat64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int64:
		return float64(val)
	case nil:
		return 0.0
	default:
		s.logger.Warn("Expected float64 from graph query", zap.Any("value", v))
		return 0.0
	}
}
