package types

// IngestPayload は、Ingestionパイプラインをステップ間で流れる作業単位です。
// 各ステップは自分の担当フィールドを埋めて次のステップへ渡します。
type IngestPayload struct {
	// DocumentID は、グラフ層で使用するドキュメントIDです
	//（リレーショナル層のIDを文字列化したもの）。
	DocumentID  string
	Filename    string
	ContentHash string
	StorageKey  string
	Ontology    *OntologySchema // nil または空なら抽出スキップ

	// ParsingTask が設定
	CleanText string

	// ChunkingTask が設定し、EmbeddingTask が Embedding を埋める
	Chunks []*ChunkData

	// ExtractionTask が設定（インデックスは Chunks と対応）
	Extractions []ExtractionResult

	// HarmonizeTask が設定
	Entities  []ResolvedEntity
	Relations []GraphRelation
}
