// Package providers は、Eino の ChatModel / Embedder をプロバイダー設定から生成します。
package providers

import (
	"context"
	"fmt"
	"strings"

	claudemodel "github.com/cloudwego/eino-ext/components/model/claude"
	openaiemb "github.com/cloudwego/eino-ext/components/embedding/openai"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	openaiacl "github.com/cloudwego/eino-ext/libs/acl/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
)

// ProviderType はサポートするLLMプロバイダーの識別子です。
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter" // OpenAI 互換 API として扱う
	ProviderAnthropic  ProviderType = "anthropic"
)

// OpenRouter の OpenAI 互換エンドポイント。BaseURL 未指定時に使用します。
const openRouterDefaultBaseURL = "https://openrouter.ai/api/v1"

// ProviderConfig はプロバイダー接続に必要な設定情報です。
type ProviderConfig struct {
	Type      ProviderType
	APIKey    string
	BaseURL   string // OpenAI互換プロキシを使う場合に指定
	ModelName string
	// Temperature を指定すると、生成時のサンプリング温度を固定します。
	// 抽出系の呼び出しは 0 を指定して決定性を高めます。
	Temperature *float32
	// ForceJSON が true の場合、JSONレスポンスモードを強制します
	// （OpenAI互換プロバイダーのみ。Claude はプロンプト側の指示に依存）。
	ForceJSON bool
}

// NewChatModel は指定された設定に基づいて Eino ChatModel を生成します。
// openrouter は OpenAI 互換クライアントで初期化され、anthropic のみ
// ネイティブの Claude クライアントを使用します。
func NewChatModel(ctx context.Context, cfg ProviderConfig) (model.ToolCallingChatModel, error) {
	providerType := ProviderType(strings.ToLower(string(cfg.Type)))
	switch providerType {
	case ProviderOpenAI, ProviderOpenRouter:
		baseURL := cfg.BaseURL
		if baseURL == "" && providerType == ProviderOpenRouter {
			baseURL = openRouterDefaultBaseURL
		}
		// BaseURL が空の場合は openaimodel.NewChatModel 側でデフォルト(https://api.openai.com/v1)が使われる
		modelCfg := &openaimodel.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     baseURL,
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
		}
		if cfg.ForceJSON {
			modelCfg.ResponseFormat = &openaiacl.ChatCompletionResponseFormat{
				Type: openaiacl.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
		chatModel, err := openaimodel.NewChatModel(ctx, modelCfg)
		if err != nil {
			return nil, fmt.Errorf("Failed to create openai-compatible chat model for %s: %w", providerType, err)
		}
		return chatModel, nil
	case ProviderAnthropic:
		maxTokens := 8192
		chatModel, err := claudemodel.NewChatModel(ctx, &claudemodel.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.ModelName,
			MaxTokens:   maxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("Failed to create claude chat model: %w", err)
		}
		return chatModel, nil
	default:
		return nil, fmt.Errorf("Unsupported provider type: %s", cfg.Type)
	}
}

// NewEmbedder は指定された設定に基づいて Eino Embedder を生成します。
// Embedding は常に OpenAI 互換 API 経由です。anthropic は Embedding を
// 提供しないため、その場合は EMBEDDING_API_KEY / EMBEDDING_BASE_URL 側の
// 設定で OpenAI 互換エンドポイントを指すようにしてください。
func NewEmbedder(ctx context.Context, cfg ProviderConfig) (embedding.Embedder, error) {
	providerType := ProviderType(strings.ToLower(string(cfg.Type)))
	switch providerType {
	case ProviderOpenAI, ProviderOpenRouter, ProviderAnthropic:
		baseURL := cfg.BaseURL
		if baseURL == "" && providerType == ProviderOpenRouter {
			baseURL = openRouterDefaultBaseURL
		}
		emb, err := openaiemb.NewEmbedder(ctx, &openaiemb.EmbeddingConfig{
			APIKey:  cfg.APIKey,
			BaseURL: baseURL,
			Model:   cfg.ModelName,
		})
		if err != nil {
			return nil, fmt.Errorf("Failed to create openai-compatible embedder for %s: %w", providerType, err)
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("Unsupported provider type for embedding: %s", cfg.Type)
	}
}
