package pgdb

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// Document は、取り込まれたソースドキュメントのレコードです。
// ID はそのままジョブハンドルとして外部へ返されます。
type Document struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Filename    string `gorm:"size:255;not null"`
	// ContentHash はSHA-256の16進表現（64文字）で、全体で一意です。
	ContentHash string  `gorm:"size:64;uniqueIndex;not null"`
	StorageKey  string  `gorm:"size:512"`
	Status      string  `gorm:"size:16;not null;index"`
	ErrorLog    *string `gorm:"type:text"`
	OntologyID  *uint   `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ontology は、ユーザー定義のオントロジー（DomainConfig）です。
// Schema には {"entity_types": [...], "relation_types": [...]} 形式のJSONが入ります。
type Ontology struct {
	ID        uint           `gorm:"primaryKey;autoIncrement"`
	Name      string         `gorm:"size:255;uniqueIndex;not null"`
	Schema    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalNode は、Harmonizerが管理するカノニカルエンティティです。
// Name はグローバルに一意です。同名の並行作成は一意制約違反となり、
// get-or-create が正確に1件へ収束します。タイプによる絞り込みは
// クエリ時のオプション（ResolutionTypeScoped）であり、制約ではありません。
type CanonicalNode struct {
	ID          string          `gorm:"primaryKey;size:36"`
	Name        string          `gorm:"size:512;not null;uniqueIndex"`
	NodeType    string          `gorm:"size:64;not null;index"`
	Description string          `gorm:"type:text"`
	Embedding   pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NodeAlias は、カノニカルエンティティの表記揺れ（エイリアス）です。
// Alias は小文字化して格納され、lookup は大文字小文字を区別しません。
type NodeAlias struct {
	ID              uint    `gorm:"primaryKey;autoIncrement"`
	Alias           string  `gorm:"size:512;not null;uniqueIndex:idx_alias_node"`
	CanonicalNodeID string  `gorm:"size:36;not null;index;uniqueIndex:idx_alias_node"`
	Confidence      float64 `gorm:"not null"`
	CreatedAt       time.Time
}

// Enrichment キューのアイテム状態。
const (
	ENRICH_STATUS_PENDING    = "PENDING"
	ENRICH_STATUS_PROCESSING = "PROCESSING"
	ENRICH_STATUS_COMPLETED  = "COMPLETED"
	ENRICH_STATUS_FAILED     = "FAILED"
)

// EnrichmentItem は、未解決メンションの正規化キューアイテムです。
// カノニカルレコードは未作成の状態で積まれ、ワーカー側の get-or-create が
// 作成点になります。Status の遷移は PENDING→PROCESSING→{COMPLETED|FAILED} の
// CASプロトコルに従います。
type EnrichmentItem struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	SurfaceForm string  `gorm:"size:512;not null"`
	NodeType    string  `gorm:"size:64"`
	Context     string  `gorm:"type:text"`
	Status      string  `gorm:"size:16;not null;index;default:PENDING"`
	Attempts    int     `gorm:"not null;default:0"`
	LastError   *string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeadLetter は、リトライを使い果たしたIngestionステップの記録（DLQ）です。
type DeadLetter struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	DocumentID uint           `gorm:"not null;index"`
	Step       string         `gorm:"size:64;not null"`
	ErrorLog   string         `gorm:"type:text;not null"`
	Payload    datatypes.JSON `gorm:""`
	CreatedAt  time.Time
}
