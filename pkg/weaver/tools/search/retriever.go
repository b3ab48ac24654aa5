// Package search は、ハイブリッドRAG検索（Plannerによる意図分類、ベクトル検索、
// グラフ走査、Reciprocal Rank Fusion による統合、回答生成）を実装します。
package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/t-kawata/myweave/pkg/weaver/db/kuzudb"
	"github.com/t-kawata/myweave/pkg/weaver/embedder"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DEFAULT_TOP_K は、TopK 未指定時の返却チャンク数です。
const DEFAULT_TOP_K = 10

// Retriever は、ハイブリッド検索の実行エンジンです。
type Retriever struct {
	graph    *kuzudb.GraphStorage
	embedder *embedder.Service
	planner  *Planner
	// rrfK は Reciprocal Rank Fusion の定数 k です。
	rrfK   int
	logger *zap.Logger
}

// NewRetriever は、新しいRetrieverを作成します。
func NewRetriever(graph *kuzudb.GraphStorage, emb *embedder.Service, planner *Planner, rrfK int, logger *zap.Logger) *Retriever {
	return &Retriever{
		graph:    graph,
		embedder: emb,
		planner:  planner,
		rrfK:     rrfK,
		logger:   logger,
	}
}

// graphLeg は、グラフ走査1回の結果（チャンク + 経路）です。
type graphLeg struct {
	chunks []types.RetrievedChunk
	paths  []types.GraphPathSegment
}

// Retrieve は、クエリに対してランク付きチャンクを返します。
//
// モード別の動作:
//   - auto:   Plannerの計画に従う
//   - vector: クエリ埋め込みによるチャンクk-NNのみ
//   - graph:  Plannerの意図に応じたグラフ走査のみ
//   - hybrid: ベクトルとグラフを 2·topK 予算で並行実行し、RRFで統合
func (r *Retriever) Retrieve(ctx context.Context, query string, cfg types.QueryConfig) (*types.QueryResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", werrs.ErrValidation)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DEFAULT_TOP_K
	}
	mode := cfg.Mode
	if mode == "" {
		mode = types.QUERY_MODE_AUTO
	}
	if !types.IsValidQueryMode(string(mode)) {
		return nil, fmt.Errorf("%w: unknown query mode %q", werrs.ErrValidation, mode)
	}

	result := &types.QueryResult{}

	// 計画が必要なのは auto（モード決定）と graph（意図ディスパッチ）の場合。
	// hybrid のグラフ側は意味検索で走るため、Plannerは不要です。
	plan := types.QueryPlan{Intent: types.INTENT_SEMANTIC_SEARCH, Mode: mode}
	if mode == types.QUERY_MODE_AUTO || mode == types.QUERY_MODE_GRAPH {
		var planUsage types.TokenUsage
		plan, planUsage = r.planner.Plan(ctx, query)
		result.Usage.Add(planUsage)
		if mode != types.QUERY_MODE_AUTO {
			plan.Mode = mode
		}
	}
	result.Plan = plan

	searchText := query
	if plan.Rewritten != "" {
		searchText = plan.Rewritten
	}

	switch plan.Mode {
	case types.QUERY_MODE_VECTOR:
		chunks, usage, err := r.vectorSearch(ctx, searchText, topK)
		result.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		result.Chunks = chunks

	case types.QUERY_MODE_GRAPH:
		leg, usage, err := r.graphSearch(ctx, plan, searchText, topK)
		result.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		result.Chunks = leg.chunks
		result.Paths = leg.paths

	case types.QUERY_MODE_HYBRID:
		chunks, paths, usage, err := r.hybridSearch(ctx, plan, searchText, topK)
		result.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		result.Chunks = chunks
		result.Paths = paths

	default:
		return nil, fmt.Errorf("%w: planner produced unsupported mode %q", werrs.ErrConsistency, plan.Mode)
	}

	if len(result.Chunks) > topK {
		result.Chunks = result.Chunks[:topK]
	}
	return result, nil
}

// vectorSearch は、クエリ埋め込みによるチャンクk-NNを実行します。
func (r *Retriever) vectorSearch(ctx context.Context, text string, topK int) ([]types.RetrievedChunk, types.TokenUsage, error) {
	vec, usage, err := r.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, usage, fmt.Errorf("Failed to embed query: %w", err)
	}
	chunks, err := r.graph.VectorSearchChunks(ctx, vec, topK)
	if err != nil {
		return nil, usage, fmt.Errorf("Vector search failed: %w", err)
	}
	return chunks, usage, nil
}

// graphSearch は、計画の意図に応じてグラフ走査をディスパッチします。
func (r *Retriever) graphSearch(ctx context.Context, plan types.QueryPlan, text string, topK int) (*graphLeg, types.TokenUsage, error) {
	var usage types.TokenUsage

	switch plan.Intent {
	case types.INTENT_FIND_CONNECTIONS:
		if len(plan.Entities) < 2 {
			// 接続探索にはエンティティが2つ必要。満たさない計画は意味検索へ落とす
			r.logger.Debug("find_connections requires two entities, falling back to semantic search")
			return r.semanticGraphSearch(ctx, text, topK)
		}
		paths, nodeIDs, err := r.graph.ShortestPathSegments(ctx, plan.Entities[0], plan.Entities[1])
		if err != nil {
			return nil, usage, err
		}
		chunks, err := r.chunksForEntities(ctx, nodeIDs, topK)
		if err != nil {
			return nil, usage, err
		}
		return &graphLeg{chunks: chunks, paths: paths}, usage, nil

	case types.INTENT_FIND_MITIGATING_CONTROLS:
		if len(plan.Entities) == 0 {
			return r.semanticGraphSearch(ctx, text, topK)
		}
		paths, controlIDs, err := r.graph.MitigatingControls(ctx, plan.Entities[0], topK)
		if err != nil {
			return nil, usage, err
		}
		chunks, err := r.chunksForEntities(ctx, controlIDs, topK)
		if err != nil {
			return nil, usage, err
		}
		return &graphLeg{chunks: chunks, paths: paths}, usage, nil

	case types.INTENT_GET_ATTRIBUTES:
		if len(plan.Entities) == 0 {
			return r.semanticGraphSearch(ctx, text, topK)
		}
		var entityIDs []string
		for _, name := range plan.Entities {
			hits, err := r.graph.FindEntitiesByName(ctx, name, topK)
			if err != nil {
				return nil, usage, err
			}
			for _, hit := range hits {
				entityIDs = append(entityIDs, hit.ID)
			}
		}
		paths, err := r.graph.ExpandNeighbors(ctx, entityIDs, topK)
		if err != nil {
			return nil, usage, err
		}
		chunks, err := r.chunksForEntities(ctx, entityIDs, topK)
		if err != nil {
			return nil, usage, err
		}
		return &graphLeg{chunks: chunks, paths: paths}, usage, nil

	default: // INTENT_SEMANTIC_SEARCH
		return r.semanticGraphSearch(ctx, text, topK)
	}
}

// semanticGraphSearch は、エンティティ埋め込みの意味検索と近傍展開によるグラフ走査です。
func (r *Retriever) semanticGraphSearch(ctx context.Context, text string, topK int) (*graphLeg, types.TokenUsage, error) {
	vec, usage, err := r.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, usage, fmt.Errorf("Failed to embed query: %w", err)
	}

	hits, err := r.graph.VectorSearchEntities(ctx, vec, topK, "")
	if err != nil {
		return nil, usage, err
	}
	entityIDs := make([]string, 0, len(hits))
	for _, hit := range hits {
		entityIDs = append(entityIDs, hit.ID)
	}

	paths, err := r.graph.ExpandNeighbors(ctx, entityIDs, topK)
	if err != nil {
		return nil, usage, err
	}
	chunks, err := r.chunksForEntities(ctx, entityIDs, topK)
	if err != nil {
		return nil, usage, err
	}
	return &graphLeg{chunks: chunks, paths: paths}, usage, nil
}

// hybridSearch は、ベクトルとグラフを 2·topK 予算で並行実行し、RRFで統合します。
func (r *Retriever) hybridSearch(ctx context.Context, plan types.QueryPlan, text string, topK int) ([]types.RetrievedChunk, []types.GraphPathSegment, types.TokenUsage, error) {
	var totalUsage types.TokenUsage
	var mu sync.Mutex

	budget := 2 * topK
	var vectorChunks []types.RetrievedChunk
	var leg *graphLeg

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chunks, usage, err := r.vectorSearch(gctx, text, budget)
		mu.Lock()
		vectorChunks = chunks
		totalUsage.Add(usage)
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		result, usage, err := r.graphSearch(gctx, plan, text, budget)
		mu.Lock()
		leg = result
		totalUsage.Add(usage)
		mu.Unlock()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, totalUsage, err
	}

	fused := FuseRRF([][]types.RetrievedChunk{vectorChunks, leg.chunks}, r.rrfK, topK)
	return fused, leg.paths, totalUsage, nil
}

// chunksForEntities は、エンティティ群を言及するチャンクを取得します。
func (r *Retriever) chunksForEntities(ctx context.Context, entityIDs []string, limit int) ([]types.RetrievedChunk, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	chunks, err := r.graph.ChunksMentioningEntities(ctx, entityIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch mentioning chunks: %w", err)
	}
	return chunks, nil
}
