// Package embedder は、Eino Embedder をWeaverのバッチ埋め込みサービスとして包みます。
// 次元検証と float32 変換を一箇所に集約し、パイプライン・Harmonizer・検索の
// 全てが同一の埋め込み経路を通ることを保証します。
package embedder

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/utils"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
)

// Service は、バッチ埋め込みサービスです。
type Service struct {
	embedder  embedding.Embedder
	modelName string
	// dimensions はデプロイメント固定の次元数Dです。応答がこれと異なる場合は
	// 設定不一致としてエラーになります。
	dimensions int
	batchSize  int
}

// NewService は、新しい埋め込みサービスを作成します。
func NewService(emb embedding.Embedder, modelName string, dimensions int, batchSize int) (*Service, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be positive", werrs.ErrConfiguration)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: embedding batch size must be positive", werrs.ErrConfiguration)
	}
	return &Service{
		embedder:  emb,
		modelName: modelName,
		dimensions: dimensions,
		batchSize:  batchSize,
	}, nil
}

// Dimensions は、デプロイメント固定の次元数Dを返します。
func (s *Service) Dimensions() int {
	return s.dimensions
}

// EmbedBatch は、1バッチ分のテキストを埋め込みます。
// 改行はAPI品質のためスペースへ置換されます。返却ベクトルは
// 次元検証と NaN/Inf 検証を通過したもののみです。
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, types.TokenUsage, error) {
	var usage types.TokenUsage
	if len(texts) == 0 {
		return nil, usage, nil
	}

	scrubbed := make([]string, len(texts))
	for i, t := range texts {
		scrubbed[i] = strings.ReplaceAll(t, "\n", " ")
	}

	vectors, usage, err := utils.EmbedWithUsage(ctx, s.embedder, s.modelName, scrubbed)
	if err != nil {
		return nil, usage, werrs.Transient(err)
	}
	if len(vectors) != len(texts) {
		return nil, usage, fmt.Errorf("%w: embedding count mismatch: sent %d, got %d",
			werrs.ErrConsistency, len(texts), len(vectors))
	}

	out := make([][]float32, len(vectors))
	for i, vec := range vectors {
		converted, err := s.convert(vec)
		if err != nil {
			return nil, usage, err
		}
		out[i] = converted
	}
	return out, usage, nil
}

// batchDelay は、埋め込みAPIのレート制限を避けるためのバッチ間の待機時間です。
const batchDelay = 200 * time.Millisecond

// EmbedAll は、任意個数のテキストをバッチに分割して順次埋め込みます。
// 結果の順序は入力の順序と一致します。バッチ間には短い待機を挟みます。
func (s *Service) EmbedAll(ctx context.Context, texts []string) ([][]float32, types.TokenUsage, error) {
	var totalUsage types.TokenUsage
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += s.batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return nil, totalUsage, ctx.Err()
			case <-time.After(batchDelay):
			}
		}
		end := min(start+s.batchSize, len(texts))
		vectors, usage, err := s.EmbedBatch(ctx, texts[start:end])
		totalUsage.Add(usage)
		if err != nil {
			return nil, totalUsage, err
		}
		out = append(out, vectors...)
	}
	return out, totalUsage, nil
}

// EmbedOne は、単一テキストを埋め込みます。クエリ・エンティティ名用の便宜関数です。
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, types.TokenUsage, error) {
	vectors, usage, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, usage, err
	}
	return vectors[0], usage, nil
}

// convert は float64 ベクトルを検証付きで float32 へ変換します。
func (s *Service) convert(vec []float64) ([]float32, error) {
	if len(vec) != s.dimensions {
		return nil, fmt.Errorf("%w: embedding dimension mismatch: expected %d, got %d",
			werrs.ErrConsistency, s.dimensions, len(vec))
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: embedding contains non-finite value at index %d",
				werrs.ErrConsistency, i)
		}
		out[i] = float32(v)
	}
	return out, nil
}
