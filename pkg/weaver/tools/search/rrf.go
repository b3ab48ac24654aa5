package search

import (
	"sort"

	"github.com/t-kawata/myweave/pkg/weaver/types"
)

// FuseRRF は、複数のランキングリストを Reciprocal Rank Fusion で統合します。
// 各チャンクのスコアは Σ 1/(k + rank) で計算されます（rank は1始まり）。
// RRFは結合順序に依存しないため、リストの与え方は任意です。
// 返却リストはスコア降順で topK 件に切り詰められます。
func FuseRRF(lists [][]types.RetrievedChunk, k int, topK int) []types.RetrievedChunk {
	type fusedEntry struct {
		chunk types.RetrievedChunk
		score float64
	}
	fused := make(map[string]*fusedEntry)

	for _, list := range lists {
		for rank, chunk := range list {
			entry, ok := fused[chunk.ChunkID]
			if !ok {
				entry = &fusedEntry{chunk: chunk}
				fused[chunk.ChunkID] = entry
			}
			entry.score += 1.0 / float64(k+rank+1)
			// テキストを持たないリスト由来のエントリは持つ側で補完する
			if entry.chunk.Text == "" && chunk.Text != "" {
				entry.chunk.Text = chunk.Text
			}
		}
	}

	results := make([]types.RetrievedChunk, 0, len(fused))
	for _, entry := range fused {
		c := entry.chunk
		c.Score = entry.score
		c.Source = "fused"
		results = append(results, c)
	}

	// スコア同値の場合はChunkIDで安定化する
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
