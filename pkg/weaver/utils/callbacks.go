package utils

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/t-kawata/myweave/pkg/weaver/types"
)

// TokenUsageAggregator は、複数のEino呼び出しにまたがってトークン使用量を集計するためのヘルパーです。
// スレッドセーフに実装されています。
type TokenUsageAggregator struct {
	TotalUsage types.TokenUsage
	mu         sync.Mutex
	ModelName  string // 集計時にモデル名をDetailsに記録する場合に使用
}

// NewTokenUsageAggregator は新しい集計器を作成します。
func NewTokenUsageAggregator(modelName string) *TokenUsageAggregator {
	return &TokenUsageAggregator{ModelName: modelName}
}

// Handler は Eino の Callback ハンドラを生成して返します。
// このハンドラを callbacks.InitCallbacks(ctx, info, handler) で注入してください。
func (agg *TokenUsageAggregator) Handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			agg.mu.Lock()
			defer agg.mu.Unlock()

			var currentInput, currentOutput int64

			if info.Type == string(types.MODEL_TYPE_CHAT_COMPLETION) {
				modelOutput := model.ConvCallbackOutput(output)
				if modelOutput != nil && modelOutput.TokenUsage != nil {
					currentInput = int64(modelOutput.TokenUsage.PromptTokens)
					currentOutput = int64(modelOutput.TokenUsage.CompletionTokens)
				}
			} else if info.Type == string(types.MODEL_TYPE_EMBEDDING) {
				embOutput := embedding.ConvCallbackOutput(output)
				if embOutput != nil && embOutput.TokenUsage != nil {
					currentInput = int64(embOutput.TokenUsage.PromptTokens)
					currentOutput = int64(embOutput.TokenUsage.CompletionTokens)
				}
			}

			if currentInput > 0 || currentOutput > 0 {
				agg.TotalUsage.InputTokens += currentInput
				agg.TotalUsage.OutputTokens += currentOutput

				if agg.TotalUsage.Details == nil {
					agg.TotalUsage.Details = make(map[string]types.TokenUsage)
				}
				modelKey := agg.ModelName
				if modelKey == "" {
					modelKey = "unknown_model"
				}
				detail := agg.TotalUsage.Details[modelKey]
				detail.InputTokens += currentInput
				detail.OutputTokens += currentOutput
				agg.TotalUsage.Details[modelKey] = detail
			}
			return ctx
		}).
		Build()
}

// GenerateWithUsage は、Eino ChatModel を呼び出し、トークン使用量を返します。
// Callbackを注入し、トークン使用量を集計します。
func GenerateWithUsage(ctx context.Context, llm model.ToolCallingChatModel, modelName string, systemPrompt string, userPrompt string) (string, types.TokenUsage, error) {
	agg := NewTokenUsageAggregator(modelName)

	runInfo := &callbacks.RunInfo{
		Name: "ChatModel",
		Type: string(types.MODEL_TYPE_CHAT_COMPLETION),
	}
	ctx = callbacks.InitCallbacks(ctx, runInfo, agg.Handler())

	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	}

	result, err := llm.Generate(ctx, msgs)
	if err != nil {
		return "", agg.TotalUsage, fmt.Errorf("eino generate error: %w", err)
	}

	content := ""
	if result != nil {
		content = result.Content
	}
	return content, agg.TotalUsage, nil
}

// EmbedWithUsage は、Eino Embedder を呼び出し、トークン使用量を返します。
func EmbedWithUsage(ctx context.Context, emb embedding.Embedder, modelName string, texts []string) ([][]float64, types.TokenUsage, error) {
	agg := NewTokenUsageAggregator(modelName)

	runInfo := &callbacks.RunInfo{
		Name: "Embedder",
		Type: string(types.MODEL_TYPE_EMBEDDING),
	}
	ctx = callbacks.InitCallbacks(ctx, runInfo, agg.Handler())

	vectors, err := emb.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, agg.TotalUsage, fmt.Errorf("eino embed error: %w", err)
	}
	return vectors, agg.TotalUsage, nil
}
