package embedder

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEinoEmbedder は、入力数ぶんの固定次元ベクトルを返すテスト用 Embedder です。
type fakeEinoEmbedder struct {
	batches [][]string
}

func (f *fakeEinoEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.batches = append(f.batches, texts)
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(len(f.batches)), float64(i)}
	}
	return out, nil
}

func TestEmbedAllSplitsIntoBatchesWithDelay(t *testing.T) {
	fake := &fakeEinoEmbedder{}
	svc, err := NewService(fake, "test-model", 2, 2)
	require.NoError(t, err)

	start := time.Now()
	vectors, _, err := svc.EmbedAll(context.Background(), []string{"a", "b", "c", "d", "e"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, vectors, 5)
	require.Len(t, fake.batches, 3)
	assert.Equal(t, []string{"a", "b"}, fake.batches[0])
	assert.Equal(t, []string{"e"}, fake.batches[2])
	// バッチ間には待機が入る（3バッチ = 2回の待機）
	assert.GreaterOrEqual(t, elapsed, 2*batchDelay)
}

func TestEmbedAllCancelledBetweenBatches(t *testing.T) {
	fake := &fakeEinoEmbedder{}
	svc, err := NewService(fake, "test-model", 2, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = svc.EmbedAll(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedBatchRejectsDimensionMismatch(t *testing.T) {
	fake := &fakeEinoEmbedder{}
	svc, err := NewService(fake, "test-model", 3, 8)
	require.NoError(t, err)

	_, _, err = svc.EmbedBatch(context.Background(), []string{"a"})
	assert.Error(t, err, "設定次元と応答次元の不一致はエラー")
}
