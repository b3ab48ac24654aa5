package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/t-kawata/myweave/config"
	"github.com/t-kawata/myweave/pkg/weaver/prompts"
	"github.com/t-kawata/myweave/pkg/weaver/promptsec"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/utils"
	"go.uber.org/zap"
)

// Planner は、自然言語クエリをLLMで実行計画へ変換します。
// LLM出力は promptsec.ValidatePlan の許可リスト検証を通過しない限り採用されず、
// 失敗時は常に安全なフォールバック計画へ落ちます。Plan はエラーを返しません。
type Planner struct {
	llm       model.ToolCallingChatModel
	modelName string
	logger    *zap.Logger
}

// NewPlanner は、新しいPlannerを作成します。
func NewPlanner(llm model.ToolCallingChatModel, modelName string, logger *zap.Logger) *Planner {
	return &Planner{llm: llm, modelName: modelName, logger: logger}
}

// Plan は、クエリを分類して実行計画を返します。
func (p *Planner) Plan(ctx context.Context, query string) (types.QueryPlan, types.TokenUsage) {
	var usage types.TokenUsage
	fallback, _ := promptsec.ValidatePlan(types.QueryPlan{}, query)

	callCtx, cancel := context.WithTimeout(ctx, config.LLM_CALL_TIMEOUT_SECONDS*time.Second)
	defer cancel()

	sanitized, hits := promptsec.SanitizeForPrompt(query)
	if len(hits) > 0 {
		p.logger.Warn("Injection signature detected in query",
			zap.Strings("patterns", hits))
	}

	content, usage, err := utils.GenerateWithUsage(callCtx, p.llm, p.modelName,
		prompts.PLANNER_SYSTEM_PROMPT, prompts.BuildPlannerUserPrompt(sanitized))
	if err != nil {
		p.logger.Warn("Planner LLM call failed, using fallback plan", zap.Error(err))
		return fallback, usage
	}

	var plan types.QueryPlan
	if err := json.Unmarshal([]byte(utils.CleanJSON(content)), &plan); err != nil {
		p.logger.Warn("Failed to parse planner response, using fallback plan", zap.Error(err))
		return fallback, usage
	}

	validated, ok := promptsec.ValidatePlan(plan, query)
	if !ok {
		p.logger.Warn("Planner output rejected by validator, using fallback plan",
			zap.String("intent", string(plan.Intent)),
			zap.String("mode", string(plan.Mode)))
	}
	return validated, usage
}
