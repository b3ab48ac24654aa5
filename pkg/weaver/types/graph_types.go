package types

// ExtractedEntity は、LLMがチャンクから抽出した未解決のエンティティです。
// TempID はチャンク内でのみ一意であり、Harmonizer による解決後に
// カノニカルIDへ置き換えられます。
type ExtractedEntity struct {
	TempID      string `json:"temp_id"`
	Name        string `json:"name"`
	NodeType    string `json:"node_type"`
	Description string `json:"description,omitempty"`
}

// ExtractedRelation は、LLMが抽出したエンティティ間の関係です。
// Source/Target は同一チャンク内の TempID を参照します。
// ChunkID は抽出元チャンクの出所情報で、LLM出力ではなく抽出タスクが付与します。
type ExtractedRelation struct {
	SourceTempID string `json:"source_temp_id"`
	TargetTempID string `json:"target_temp_id"`
	Type         string `json:"type"`
	Description  string `json:"description,omitempty"`
	ChunkID      string `json:"-"`
}

// ExtractionResult は、1チャンク分の抽出結果です。
type ExtractionResult struct {
	Entities  []ExtractedEntity  `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
}

// ResolvedEntity は、Harmonizer によってカノニカルIDへ解決されたエンティティです。
// 解決はエイリアス一致・名前完全一致・閾値以上のベクトル近傍のいずれかであり、
// 解決の過程で新規カノニカルレコードが作成されることはありません。
type ResolvedEntity struct {
	ID            string // カノニカルUUID
	CanonicalName string
	NodeType      string
	Description   string
	Embedding     []float32
}

// GraphRelation は、両端がカノニカルIDへ解決済みの関係です。
// ChunkID は関係が主張されたチャンクの出所情報です。
type GraphRelation struct {
	SourceID    string
	TargetID    string
	Type        string // UPPER_SNAKE_CASE・安全識別子検証済み
	Description string
	ChunkID     string
}

// ChunkData は、チャンク化からグラフ書き込みまでパイプラインを流れる1チャンク分のデータです。
type ChunkData struct {
	ID         string // UUID
	DocumentID string
	Index      int // 文書内での0始まりの順序
	Text       string
	TokenCount int
	Hash       string // テキストのSHA-256
	Embedding  []float32
	// 解決済みエンティティのカノニカルID（MENTIONS エッジの作成に使用）
	EntityIDs []string
}
