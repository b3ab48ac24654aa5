// Package validation は、抽出結果をオントロジー制約と安全識別子規則で
// 検証・フィルタするタスクを提供します。
package validation

import (
	"context"
	"fmt"

	"github.com/iancoleman/strcase"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/promptsec"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// ValidationTask は、抽出結果の後段検証を行うタスクです。
// LLMはオントロジー制約をプロンプトで指示されていますが、従う保証はないため
// ここで決定論的に強制します。
type ValidationTask struct {
	logger *zap.Logger
}

// NewValidationTask は、新しいValidationTaskを作成します。
func NewValidationTask(logger *zap.Logger) *ValidationTask {
	return &ValidationTask{logger: logger}
}

var _ pipeline.Task = (*ValidationTask)(nil)

func (t *ValidationTask) Name() string { return "validation" }

// Run は、payload.Extractions をオントロジーで濾過して上書きします。
// 処理内容:
//   - エンティティタイプのサニタイズと（オントロジーが非空なら）許可リスト照合
//   - 関係タイプの UPPER_SNAKE_CASE 正規化・安全識別子検証・許可リスト照合
//   - 除外されたエンティティを参照する関係の除去
func (t *ValidationTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	var usage types.TokenUsage
	payload, ok := input.(*types.IngestPayload)
	if !ok {
		return nil, usage, fmt.Errorf("Validation: Expected *types.IngestPayload input, got %T", input)
	}

	allowedEntities, allowedRelations := buildAllowLists(payload.Ontology)
	dropped := 0

	for i, ex := range payload.Extractions {
		var cleaned types.ExtractionResult
		kept := make(map[string]bool)

		for _, e := range ex.Entities {
			e.NodeType = promptsec.SanitizeEntityType(e.NodeType)
			if e.NodeType == "" {
				dropped++
				continue
			}
			if len(allowedEntities) > 0 && !funk.ContainsString(allowedEntities, e.NodeType) {
				dropped++
				continue
			}
			kept[e.TempID] = true
			cleaned.Entities = append(cleaned.Entities, e)
		}

		for _, r := range ex.Relations {
			r.Type = promptsec.SanitizeRelationType(strcase.ToScreamingSnake(r.Type))
			if !promptsec.IsSafeIdentifier(r.Type) {
				dropped++
				continue
			}
			if len(allowedRelations) > 0 && !funk.ContainsString(allowedRelations, r.Type) {
				dropped++
				continue
			}
			if !kept[r.SourceTempID] || !kept[r.TargetTempID] {
				dropped++
				continue
			}
			cleaned.Relations = append(cleaned.Relations, r)
		}

		payload.Extractions[i] = cleaned
	}

	if dropped > 0 {
		t.logger.Debug("Validation dropped extracted items",
			zap.String("document_id", payload.DocumentID),
			zap.Int("dropped", dropped))
	}
	return payload, usage, nil
}

// buildAllowLists は、オントロジーからサニタイズ済みの許可リストを構築します。
// 空のオントロジーは「制約なし」を意味し、空リストを返します。
func buildAllowLists(ontology *types.OntologySchema) ([]string, []string) {
	if ontology.IsEmpty() {
		return nil, nil
	}
	var entities, relations []string
	for _, e := range ontology.EntityTypes {
		if s := promptsec.SanitizeEntityType(e); s != "" {
			entities = append(entities, s)
		}
	}
	for _, r := range ontology.RelationTypes {
		s := promptsec.SanitizeRelationType(strcase.ToScreamingSnake(r))
		if promptsec.IsSafeIdentifier(s) {
			relations = append(relations, s)
		}
	}
	return entities, relations
}
