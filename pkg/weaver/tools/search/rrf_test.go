package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t-kawata/myweave/pkg/weaver/types"
)

func chunk(id, text string) types.RetrievedChunk {
	return types.RetrievedChunk{ChunkID: id, Text: text}
}

func TestFuseRRFScores(t *testing.T) {
	vector := []types.RetrievedChunk{chunk("a", "A"), chunk("b", "B"), chunk("c", "C")}
	graph := []types.RetrievedChunk{chunk("b", "B"), chunk("d", "D")}

	fused := FuseRRF([][]types.RetrievedChunk{vector, graph}, 60, 10)
	require.Len(t, fused, 4)

	// b は両リストに出現: 1/(60+2) + 1/(60+1)
	assert.Equal(t, "b", fused[0].ChunkID)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].Score, 1e-12)

	// a はベクトル1位のみ: 1/(60+1)
	assert.Equal(t, "a", fused[1].ChunkID)
	assert.InDelta(t, 1.0/61, fused[1].Score, 1e-12)

	for _, c := range fused {
		assert.Equal(t, "fused", c.Source)
	}
}

func TestFuseRRFTruncatesToTopK(t *testing.T) {
	var list []types.RetrievedChunk
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		list = append(list, chunk(id, id))
	}
	fused := FuseRRF([][]types.RetrievedChunk{list}, 60, 3)
	assert.Len(t, fused, 3)
	assert.Equal(t, "a", fused[0].ChunkID)
}

func TestFuseRRFOrderIndependence(t *testing.T) {
	vector := []types.RetrievedChunk{chunk("a", "A"), chunk("b", "B")}
	graph := []types.RetrievedChunk{chunk("b", "B"), chunk("c", "C")}

	ab := FuseRRF([][]types.RetrievedChunk{vector, graph}, 60, 10)
	ba := FuseRRF([][]types.RetrievedChunk{graph, vector}, 60, 10)
	require.Equal(t, len(ab), len(ba))
	for i := range ab {
		assert.Equal(t, ab[i].ChunkID, ba[i].ChunkID)
		assert.InDelta(t, ab[i].Score, ba[i].Score, 1e-12)
	}
}

func TestFuseRRFBackfillsText(t *testing.T) {
	withText := []types.RetrievedChunk{{ChunkID: "a", Text: "full text"}}
	withoutText := []types.RetrievedChunk{{ChunkID: "a"}}

	fused := FuseRRF([][]types.RetrievedChunk{withoutText, withText}, 60, 10)
	require.Len(t, fused, 1)
	assert.Equal(t, "full text", fused[0].Text)
}

func TestFuseRRFEmptyLists(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, 60, 10))
	assert.Empty(t, FuseRRF([][]types.RetrievedChunk{{}, {}}, 60, 10))
}
