package search

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/t-kawata/myweave/config"
	"github.com/t-kawata/myweave/pkg/weaver/prompts"
	"github.com/t-kawata/myweave/pkg/weaver/promptsec"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/utils"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// Generator は、検索結果コンテキストから回答文を生成します。
// プロンプトへ渡るチャンクテキストは1件ずつサニタイズされ、
// 合計サイズは maxContextBytes で制限されます。
type Generator struct {
	llm             model.ToolCallingChatModel
	modelName       string
	maxContextBytes int
	logger          *zap.Logger
}

// NewGenerator は、新しいGeneratorを作成します。
func NewGenerator(llm model.ToolCallingChatModel, modelName string, logger *zap.Logger) *Generator {
	return &Generator{
		llm:             llm,
		modelName:       modelName,
		maxContextBytes: config.DEFAULT_MAX_CONTEXT_BYTES,
		logger:          logger,
	}
}

// Answer は、チャンクとグラフ経路を根拠として回答を生成します。
// コンテキストが空の場合は生成を行わずエラーを返します。
func (g *Generator) Answer(ctx context.Context, query string, chunks []types.RetrievedChunk, paths []types.GraphPathSegment) (string, types.TokenUsage, error) {
	var usage types.TokenUsage
	if len(chunks) == 0 && len(paths) == 0 {
		return "", usage, fmt.Errorf("%w: no context to answer from", werrs.ErrValidation)
	}

	contextTexts := make([]string, 0, len(chunks))
	injectionHits := 0
	for _, chunk := range chunks {
		sanitized, hits := promptsec.SanitizeForPrompt(chunk.Text)
		injectionHits += len(hits)
		contextTexts = append(contextTexts, sanitized)
	}
	if injectionHits > 0 {
		g.logger.Warn("Injection signatures detected in retrieved context",
			zap.Int("hits", injectionHits))
	}
	contextTexts = promptsec.CapContext(contextTexts, g.maxContextBytes)

	sanitizedQuery, _ := promptsec.SanitizeForPrompt(query)

	callCtx, cancel := context.WithTimeout(ctx, config.LLM_CALL_TIMEOUT_SECONDS*time.Second)
	defer cancel()

	answer, usage, err := utils.GenerateWithUsage(callCtx, g.llm, g.modelName,
		prompts.GENERATOR_SYSTEM_PROMPT,
		prompts.BuildGeneratorUserPrompt(sanitizedQuery, contextTexts, paths))
	if err != nil {
		return "", usage, werrs.Transient(fmt.Errorf("Answer generation failed: %w", err))
	}
	return answer, usage, nil
}
