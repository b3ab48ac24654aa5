// QueryMode は、Weaverシステムで利用可能な検索方法を定義します。
package types

import "slices"

// QueryMode は、検索操作のモードを定義します。
// 各モードは異なる検索戦略とデータソースを使用します。
type QueryMode string

const (
	QUERY_MODE_AUTO   QueryMode = "auto"   // Plannerが意図分類でモードを選択
	QUERY_MODE_VECTOR QueryMode = "vector" // チャンクのベクトル類似検索のみ
	QUERY_MODE_GRAPH  QueryMode = "graph"  // エンティティ起点のグラフ走査のみ
	QUERY_MODE_HYBRID QueryMode = "hybrid" // ベクトル検索とグラフ走査をRRFで融合
)

var VALID_QUERY_MODES = []QueryMode{
	QUERY_MODE_AUTO,
	QUERY_MODE_VECTOR,
	QUERY_MODE_GRAPH,
	QUERY_MODE_HYBRID,
}

// IsValidQueryMode は、文字列が有効なクエリモードかどうかを判定します。
func IsValidQueryMode(mode string) bool {
	return slices.Contains(VALID_QUERY_MODES, QueryMode(mode))
}

// QueryIntent は、Plannerが分類するクエリの意図です。
// グラフ検索は意図ごとに異なる走査戦略へディスパッチされます。
type QueryIntent string

const (
	INTENT_SEMANTIC_SEARCH          QueryIntent = "semantic_search"          // エンティティ埋め込みの意味検索 + 近傍展開
	INTENT_FIND_CONNECTIONS         QueryIntent = "find_connections"         // 2エンティティ間の最短経路探索（3ホップ以内）
	INTENT_FIND_MITIGATING_CONTROLS QueryIntent = "find_mitigating_controls" // (Control)-[MITIGATES]->(Risk) パターン検索
	INTENT_GET_ATTRIBUTES           QueryIntent = "get_attributes"           // エンティティの名前検索と言及チャンク取得
)

var VALID_QUERY_INTENTS = []QueryIntent{
	INTENT_SEMANTIC_SEARCH,
	INTENT_FIND_CONNECTIONS,
	INTENT_FIND_MITIGATING_CONTROLS,
	INTENT_GET_ATTRIBUTES,
}

// QueryPlan は、PlannerのLLM出力を検証した後の実行計画です。
// 検証に失敗した場合はフォールバック計画（hybrid・エンティティなし）が使用されます。
type QueryPlan struct {
	Intent   QueryIntent `json:"intent"`
	Mode     QueryMode   `json:"mode"`
	Entities []string    `json:"entities"` // クエリ中で言及されたエンティティ名
	// Rewritten はベクトル検索用に正規化されたクエリ文です。空なら原文を使用します。
	Rewritten string `json:"rewritten_query,omitempty"`
}

// QueryConfig は、Query 1回ごとのオプションです。
type QueryConfig struct {
	Mode       QueryMode // auto なら Planner に委譲
	TopK       int       // 返却するチャンク数の上限
	WithAnswer bool      // true なら検索結果を用いてLLMが回答文を生成
}

// RetrievedChunk は、検索で得られた1チャンクと出所情報です。
type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	// Source は "vector" / "graph" / "fused" のいずれかです。
	Source string `json:"source"`
}

// GraphPathSegment は、グラフ走査で得られた1ホップ分の関係です。
type GraphPathSegment struct {
	SourceName string `json:"source"`
	Type       string `json:"type"`
	TargetName string `json:"target"`
}

// QueryResult は、Query 1回の結果です。
type QueryResult struct {
	Plan   QueryPlan          `json:"plan"`
	Chunks []RetrievedChunk   `json:"chunks"`
	Paths  []GraphPathSegment `json:"paths,omitempty"`
	// Answer は WithAnswer が true の場合のみ設定されます。
	Answer string     `json:"answer,omitempty"`
	Usage  TokenUsage `json:"usage"`
}
