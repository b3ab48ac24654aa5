package types

type TableName string

const (
	// ノードテーブル
	TABLE_NAME_DOCUMENT TableName = "Document"
	TABLE_NAME_CHUNK    TableName = "Chunk"
	TABLE_NAME_ENTITY   TableName = "Entity"
	// リレーションテーブル
	TABLE_NAME_HAS_CHUNK  TableName = "HAS_CHUNK"  // Document -> Chunk
	TABLE_NAME_NEXT_CHUNK TableName = "NEXT_CHUNK" // Chunk -> Chunk（文書内の順序）
	TABLE_NAME_MENTIONS   TableName = "MENTIONS"   // Chunk -> Entity
	TABLE_NAME_RELATES    TableName = "RELATES"    // Entity -> Entity（type プロパティで意味を保持）
)
