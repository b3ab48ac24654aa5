// Package harmonizer は、抽出されたエンティティをカノニカルIDへ解決する
// エンティティレゾルバを実装します。
//
// 解決は二段構えです:
//  1. 決定論的段階: エイリアス一致、次に名前の完全一致（大文字小文字無視）
//  2. 意味的段階: カノニカルストア上のベクトル近傍検索（閾値以上で採用）
//
// どちらでも解決できない場合、メンションは未解決のまま Enrichment キューへ
// 投入されます。解決の過程でカノニカルレコードが作成されることはありません。
// 作成点は Enrichment ワーカーの get-or-create だけです。
package harmonizer

import (
	"context"
	"fmt"

	"github.com/t-kawata/myweave/pkg/weaver/db/pgdb"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"go.uber.org/zap"
)

// canonicalStore は、Harmonizerが必要とするカノニカルストアの操作面です。
// *pgdb.Storage が本実装です。
type canonicalStore interface {
	FindCanonicalByAlias(ctx context.Context, alias string) (*pgdb.CanonicalNode, error)
	FindCanonicalByName(ctx context.Context, name, nodeType string, typeScoped bool) (*pgdb.CanonicalNode, error)
	NearestCanonical(ctx context.Context, embedding []float32, nodeType string, typeScoped bool) (*pgdb.CanonicalNode, float64, error)
	EnqueueEnrichment(ctx context.Context, surfaceForm, nodeType, contextText string) error
}

// embedClient は、メンション名の埋め込みに使用する操作面です。
// *embedder.Service が本実装です。
type embedClient interface {
	EmbedOne(ctx context.Context, text string) ([]float32, types.TokenUsage, error)
}

// UnresolvedMention は、どの段階でも解決できなかったメンションです。
// Enrichment キューへの投入内容そのものです。
type UnresolvedMention struct {
	Name           string
	NodeType       string
	Context        string
	BestSimilarity float64
}

// Harmonizer は、エンティティ解決器です。
type Harmonizer struct {
	store    canonicalStore
	embedder embedClient
	// threshold は意味的段階の採用に必要なコサイン類似度の下限です。
	threshold float64
	// typeScoped が true の場合、決定論的段階の名前一致と意味的段階の候補は
	// node_type が一致するエンティティに限定されます。
	typeScoped bool
	logger     *zap.Logger
}

// NewHarmonizer は、新しいHarmonizerを作成します。
func NewHarmonizer(store canonicalStore, emb embedClient, threshold float64, typeScoped bool, logger *zap.Logger) *Harmonizer {
	return &Harmonizer{
		store:      store,
		embedder:   emb,
		threshold:  threshold,
		typeScoped: typeScoped,
		logger:     logger,
	}
}

// Resolve は、1メンションをカノニカルIDへ解決します。
// 解決できた場合は (entity, similarity, usage, nil)、未解決の場合は
// (nil, bestSimilarity, usage, nil) を返します。未解決はエラーではありません。
func (h *Harmonizer) Resolve(ctx context.Context, extracted types.ExtractedEntity) (*types.ResolvedEntity, float64, types.TokenUsage, error) {
	var usage types.TokenUsage

	// ---------------------------------------------------------
	// 1. 決定論的段階: エイリアス → 名前完全一致
	// ---------------------------------------------------------
	node, err := h.store.FindCanonicalByAlias(ctx, extracted.Name)
	if err != nil {
		return nil, 0, usage, err
	}
	if node == nil {
		node, err = h.store.FindCanonicalByName(ctx, extracted.Name, extracted.NodeType, h.typeScoped)
		if err != nil {
			return nil, 0, usage, err
		}
	}
	if node != nil {
		return resolvedFromRecord(node), 1.0, usage, nil
	}

	// ---------------------------------------------------------
	// 2. 意味的段階: ベクトル近傍検索
	// ---------------------------------------------------------
	embedding, embUsage, err := h.embedder.EmbedOne(ctx, extracted.Name)
	usage.Add(embUsage)
	if err != nil {
		return nil, 0, usage, err
	}

	nearest, similarity, err := h.store.NearestCanonical(ctx, embedding, extracted.NodeType, h.typeScoped)
	if err != nil {
		return nil, 0, usage, err
	}
	if nearest != nil && similarity >= h.threshold {
		h.logger.Debug("Resolved entity by vector similarity",
			zap.String("surface", extracted.Name),
			zap.String("canonical", nearest.Name),
			zap.Float64("similarity", similarity))
		return resolvedFromRecord(nearest), similarity, usage, nil
	}

	// 未解決。作成はせず、呼び出し側が Enrichment へ積む
	return nil, similarity, usage, nil
}

// ResolveAll は、抽出結果の全メンションを解決し、チャンクごとの
// temp_id → カノニカルID のマッピングを返します。
// 未解決メンションは Enrichment キューへ投入され、マッピングには現れません。
// 同一の (name, node_type) は1回だけ解決されます。
func (h *Harmonizer) ResolveAll(ctx context.Context, payload *types.IngestPayload) ([]types.ResolvedEntity, []map[string]string, []UnresolvedMention, types.TokenUsage, error) {
	var totalUsage types.TokenUsage

	type key struct{ name, nodeType string }
	resolvedByKey := make(map[key]*types.ResolvedEntity)
	unresolvedSeen := make(map[key]bool)
	var allResolved []types.ResolvedEntity
	var unresolved []UnresolvedMention
	mappings := make([]map[string]string, len(payload.Extractions))

	for i, ex := range payload.Extractions {
		mappings[i] = make(map[string]string, len(ex.Entities))
		contextText := ""
		if i < len(payload.Chunks) {
			contextText = payload.Chunks[i].Text
		}

		for _, e := range ex.Entities {
			k := key{e.Name, e.NodeType}
			if existing, ok := resolvedByKey[k]; ok {
				mappings[i][e.TempID] = existing.ID
				continue
			}
			if unresolvedSeen[k] {
				continue
			}

			resolved, similarity, usage, err := h.Resolve(ctx, e)
			totalUsage.Add(usage)
			if err != nil {
				return nil, nil, nil, totalUsage, fmt.Errorf("Failed to resolve entity %q: %w", e.Name, err)
			}
			if resolved == nil {
				unresolvedSeen[k] = true
				unresolved = append(unresolved, UnresolvedMention{
					Name:           e.Name,
					NodeType:       e.NodeType,
					Context:        contextText,
					BestSimilarity: similarity,
				})
				// Enqueue 失敗は取り込み自体を壊さずログに留める
				if err := h.store.EnqueueEnrichment(ctx, e.Name, e.NodeType, contextText); err != nil {
					h.logger.Warn("Failed to enqueue enrichment",
						zap.String("surface", e.Name), zap.Error(err))
				}
				continue
			}
			resolvedByKey[k] = resolved
			allResolved = append(allResolved, *resolved)
			mappings[i][e.TempID] = resolved.ID
		}
	}
	return allResolved, mappings, unresolved, totalUsage, nil
}

// RemapRelations は、temp_id ベースの関係をカノニカルIDベースへ変換します。
// 端点が未解決の関係、および解決後に同一エンティティへ収束した自己ループは
// 除去されます。チャンク出所（ChunkID）は保持されます。
func RemapRelations(extractions []types.ExtractionResult, mappings []map[string]string) []types.GraphRelation {
	var relations []types.GraphRelation
	seen := make(map[string]bool)

	for i, ex := range extractions {
		if i >= len(mappings) {
			break
		}
		for _, r := range ex.Relations {
			sourceID, okS := mappings[i][r.SourceTempID]
			targetID, okT := mappings[i][r.TargetTempID]
			if !okS || !okT {
				continue
			}
			// 別名が同一カノニカルへ解決された場合の自己ループを捨てる
			if sourceID == targetID {
				continue
			}
			dedupeKey := sourceID + "|" + r.Type + "|" + targetID + "|" + r.ChunkID
			if seen[dedupeKey] {
				continue
			}
			seen[dedupeKey] = true
			relations = append(relations, types.GraphRelation{
				SourceID:    sourceID,
				TargetID:    targetID,
				Type:        r.Type,
				Description: r.Description,
				ChunkID:     r.ChunkID,
			})
		}
	}
	return relations
}

func resolvedFromRecord(node *pgdb.CanonicalNode) *types.ResolvedEntity {
	return &types.ResolvedEntity{
		ID:            node.ID,
		CanonicalName: node.Name,
		NodeType:      node.NodeType,
		Description:   node.Description,
		Embedding:     node.Embedding.Slice(),
	}
}
