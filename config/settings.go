// Package config は、Weaverエンジン全体で共有される定数と環境設定を定義します。
// 設定は .env（存在する場合）と環境変数から読み込まれ、validator で検証されます。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const VERSION = "v0.1.0"

// EMBEDDING_DIMENSIONS は、デプロイメント全体で固定されるベクトル次元数Dです。
// リレーショナル層（pgvector）とグラフ層（KuzuDB）の両方でこの次元が使用されます。
const EMBEDDING_DIMENSIONS = 1536

// DEFAULT_CHUNK_SIZE は、チャンクの最大トークン数のデフォルト値です。
const DEFAULT_CHUNK_SIZE = 1024

// DEFAULT_CHUNK_OVERLAP は、チャンク間のオーバーラップトークン数のデフォルト値です。
const DEFAULT_CHUNK_OVERLAP = 128

// DEFAULT_EMBEDDING_BATCH_SIZE は、Embedding APIへの1回の送信テキスト数です。
const DEFAULT_EMBEDDING_BATCH_SIZE = 64

// DEFAULT_RESOLUTION_THRESHOLD は、Harmonizerのベクトル類似度による解決閾値です。
const DEFAULT_RESOLUTION_THRESHOLD = 0.95

// DEFAULT_RRF_K は、Reciprocal Rank Fusion の定数 k です。
const DEFAULT_RRF_K = 60

// DEFAULT_MAX_UPLOAD_BYTES は、アップロード可能なファイルサイズ上限（50MiB）です。
const DEFAULT_MAX_UPLOAD_BYTES = 50 * 1024 * 1024

// DEFAULT_MAX_CONTEXT_BYTES は、生成プロンプトに含めるコンテキストの合計上限（50KiB）です。
const DEFAULT_MAX_CONTEXT_BYTES = 50 * 1024

// MAX_STEP_RETRIES は、Orchestrator の各ステップの最大リトライ回数です。
const MAX_STEP_RETRIES = 3

// LLM_CALL_TIMEOUT_SECONDS は、LLM1回の呼び出しのタイムアウト（秒）です。
const LLM_CALL_TIMEOUT_SECONDS = 60

// STATEMENT_TIMEOUT_SECONDS は、リレーショナルストアのステートメントタイムアウト（秒）です。
const STATEMENT_TIMEOUT_SECONDS = 30

// DOCUMENT_SOFT_BUDGET_SECONDS / DOCUMENT_HARD_BUDGET_SECONDS は、
// 1ドキュメントあたりのOrchestrator処理時間の予算です。ハード予算超過はDLQ行きとなります。
const DOCUMENT_SOFT_BUDGET_SECONDS = 9 * 60
const DOCUMENT_HARD_BUDGET_SECONDS = 10 * 60

// ALIAS_CONFIDENCE は、Enrichment経由で学習されたエイリアスに付与される信頼度です。
const ALIAS_CONFIDENCE = 0.98

// ENRICHMENT_BATCH_SIZE は、Enrichmentワーカーが1回のtickで処理するアイテム数の上限です。
const ENRICHMENT_BATCH_SIZE = 16

// ENRICHMENT_INTERVAL_SECONDS は、Enrichmentスケジューラの実行間隔（秒）です。
const ENRICHMENT_INTERVAL_SECONDS = 30

// GC_INTERVAL_MINUTES は、孤立ノードGCのメンテナンスウィンドウ間隔（分）です。
const GC_INTERVAL_MINUTES = 60

// Settings は、環境変数から読み込まれるWeaverエンジンの設定を保持します。
type Settings struct {
	// LLM Provider Configuration
	LLMProvider    string `validate:"required,oneof=openai openrouter anthropic"`
	LLMAPIKey      string `validate:"required"`
	LLMBaseURL     string // オプション（プロキシ・OpenAI互換エンドポイント用）
	EmbeddingModel string
	// Embedding 専用の接続設定。未指定なら LLM 側の値を流用します。
	// anthropic プロバイダーは Embedding を提供しないため、その場合はここで
	// OpenAI 互換エンドポイントを指定する必要があります。
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	// EmbeddingDimensions は D のデプロイメント固定値です。変更はデータ再構築を要します。
	EmbeddingDimensions int `validate:"gt=0"`
	EmbeddingBatchSize  int `validate:"gt=0"`
	ExtractionModel     string
	GeneratorModel      string

	// Chunking Configuration
	ChunkSize    int `validate:"gt=0"`
	ChunkOverlap int `validate:"gte=0"`

	// Resolver / Retriever Configuration
	ResolutionThreshold  float64 `validate:"gt=0,lte=1"`
	ResolutionTypeScoped bool    // ベクトル解決時に node_type の一致を前提とするか
	RRFK                 int     `validate:"gt=0"`

	// Connection Strings
	PostgresDSN string `validate:"required"`
	GraphDBPath string `validate:"required"`

	// Blob Storage Configuration
	S3UseLocal  bool
	S3LocalDir  string
	S3DownDir   string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Bucket    string

	// Upload Limit
	MaxUploadBytes int64 `validate:"gt=0"`

	// Logging
	LogLevel  string
	LogOutput string
}

// LoadSettings は、.env（存在すれば）と環境変数から設定を構築して検証します。
// 未指定の項目にはデフォルト値が適用されます。
func LoadSettings() (*Settings, error) {
	godotenv.Load()

	s := &Settings{
		LLMProvider:          strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMAPIKey:            os.Getenv("LLM_API_KEY"),
		LLMBaseURL:           os.Getenv("LLM_BASE_URL"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingAPIKey:      getEnv("EMBEDDING_API_KEY", os.Getenv("LLM_API_KEY")),
		EmbeddingBaseURL:     getEnv("EMBEDDING_BASE_URL", os.Getenv("LLM_BASE_URL")),
		EmbeddingDimensions:  getEnvInt("EMBEDDING_DIMENSIONS", EMBEDDING_DIMENSIONS),
		EmbeddingBatchSize:   getEnvInt("EMBEDDING_BATCH_SIZE", DEFAULT_EMBEDDING_BATCH_SIZE),
		ExtractionModel:      getEnv("EXTRACTION_MODEL", "gpt-4o-mini"),
		GeneratorModel:       getEnv("GENERATOR_MODEL", "gpt-4o"),
		ChunkSize:            getEnvInt("CHUNK_SIZE", DEFAULT_CHUNK_SIZE),
		ChunkOverlap:         getEnvInt("CHUNK_OVERLAP", DEFAULT_CHUNK_OVERLAP),
		ResolutionThreshold:  getEnvFloat("RESOLUTION_THRESHOLD", DEFAULT_RESOLUTION_THRESHOLD),
		ResolutionTypeScoped: getEnvBool("RESOLUTION_TYPE_SCOPED", false),
		RRFK:                 getEnvInt("RRF_K", DEFAULT_RRF_K),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		GraphDBPath:          getEnv("GRAPH_DB_PATH", "./data/graph.kuzu"),
		S3UseLocal:           getEnvBool("S3_USE_LOCAL", true),
		S3LocalDir:           getEnv("S3_LOCAL_DIR", "./data/blobs"),
		S3DownDir:            getEnv("S3_DOWN_DIR", "./data/downloads"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Region:             os.Getenv("S3_REGION"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_BYTES", DEFAULT_MAX_UPLOAD_BYTES)),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogOutput:            getEnv("LOG_OUTPUT", "stdout"),
	}

	// overlap < chunk_size は必須制約（Chunker側でも再検証される）
	if s.ChunkOverlap >= s.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be less than CHUNK_SIZE (%d)", s.ChunkOverlap, s.ChunkSize)
	}

	if err := validator.New().Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
