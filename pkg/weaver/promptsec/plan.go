package promptsec

import (
	"slices"
	"strings"

	"github.com/t-kawata/myweave/pkg/weaver/types"
)

// エンティティ名・書き換えクエリに含まれていた場合に計画全体を破棄するパターン。
// Plannerの出力はそのまま検索パラメータになるため、ここは検出即破棄です。
var dangerousPlanPatterns = []string{
	"drop ", "delete from", "insert into", "update ", "merge ",
	"create ", "detach delete", "call dbms", "; --", "/*", "*/",
	"<script", "javascript:",
}

// ValidatePlan は、PlannerのLLM出力を検証し、安全な実行計画を返します。
// 検証項目:
//   - intent / mode が許可リストに含まれること
//   - エンティティ名と書き換えクエリに危険パターンが含まれないこと
//
// いずれかに失敗した場合、検証を通過できなかった旨を示す false と共に
// フォールバック計画（semantic_search・hybrid・エンティティなし）を返します。
func ValidatePlan(plan types.QueryPlan, originalQuery string) (types.QueryPlan, bool) {
	fallback := types.QueryPlan{
		Intent:   types.INTENT_SEMANTIC_SEARCH,
		Mode:     types.QUERY_MODE_HYBRID,
		Entities: nil,
	}

	if !slices.Contains(types.VALID_QUERY_INTENTS, plan.Intent) {
		return fallback, false
	}
	if !types.IsValidQueryMode(string(plan.Mode)) || plan.Mode == types.QUERY_MODE_AUTO {
		return fallback, false
	}

	for _, entity := range plan.Entities {
		if containsDangerousPattern(entity) {
			return fallback, false
		}
	}
	if containsDangerousPattern(plan.Rewritten) {
		return fallback, false
	}

	// エンティティ名はプロンプト経由で返ってきた文字列なので再度正規化する
	cleaned := make([]string, 0, len(plan.Entities))
	for _, entity := range plan.Entities {
		e := strings.TrimSpace(NormalizeUnicode(entity))
		if e != "" {
			cleaned = append(cleaned, e)
		}
	}
	plan.Entities = cleaned
	if plan.Rewritten != "" {
		plan.Rewritten = strings.TrimSpace(NormalizeUnicode(plan.Rewritten))
	}

	return plan, true
}

func containsDangerousPattern(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range dangerousPlanPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
