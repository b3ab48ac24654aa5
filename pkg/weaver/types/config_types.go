package types

// OntologySchema は、抽出時にLLMへ指示するユーザー定義のオントロジー制約です。
// 空のスキーマは「制約なし」を意味し、LLMは自由にタイプを推論します。
// EntityTypes / RelationTypes の各要素は安全識別子の検証を通過したもののみ使用されます。
type OntologySchema struct {
	EntityTypes   []string `json:"entity_types"`
	RelationTypes []string `json:"relation_types"`
}

// IsEmpty は、どちらのタイプリストも空かどうかを返します。
func (o *OntologySchema) IsEmpty() bool {
	return o == nil || (len(o.EntityTypes) == 0 && len(o.RelationTypes) == 0)
}

// IngestConfig は、Submit 1回ごとのIngestionオプションです。
// ゼロ値の項目にはデプロイメント設定のデフォルトが適用されます。
type IngestConfig struct {
	Ontology     *OntologySchema // nil なら制約なし抽出
	ChunkSize    int             // チャンクの最大トークン数
	ChunkOverlap int             // チャンク間のオーバーラップトークン数
}

// EmbeddingModelConfig は埋め込みモデルの設定を保持します。
type EmbeddingModelConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension uint   `json:"dimension"`
	BaseURL   string `json:"base_url,omitempty"`
	ApiKey    string `json:"-"` // JSON出力(Export)には含めない
}
