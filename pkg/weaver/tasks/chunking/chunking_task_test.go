package chunking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// wordEncoder は、空白区切りの単語を1トークンとして扱う決定論的なEncoderです。
type wordEncoder struct {
	words []string
}

func (e *wordEncoder) Encode(text string) []int {
	e.words = strings.Fields(text)
	tokens := make([]int, len(e.words))
	for i := range tokens {
		tokens[i] = i
	}
	return tokens
}

func (e *wordEncoder) Decode(tokens []int) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = e.words[tok]
	}
	return strings.Join(parts, " ")
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNewChunkingTaskValidation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewChunkingTask(0, 0, &wordEncoder{}, logger)
	assert.True(t, errors.Is(err, werrs.ErrConfiguration))

	_, err = NewChunkingTask(10, 10, &wordEncoder{}, logger)
	assert.True(t, errors.Is(err, werrs.ErrConfiguration))

	_, err = NewChunkingTask(10, -1, &wordEncoder{}, logger)
	assert.True(t, errors.Is(err, werrs.ErrConfiguration))

	_, err = NewChunkingTask(10, 2, &wordEncoder{}, logger)
	assert.NoError(t, err)
}

func TestSplitWindowAndStride(t *testing.T) {
	task, err := NewChunkingTask(4, 1, &wordEncoder{}, zap.NewNop())
	require.NoError(t, err)

	// 10トークン、ウィンドウ4、ストライド3 → [0..3] [3..6] [6..9] [9]
	chunks := task.Split("1", words(10))
	require.Len(t, chunks, 4)

	assert.Equal(t, "w0 w1 w2 w3", chunks[0].Text)
	assert.Equal(t, "w3 w4 w5 w6", chunks[1].Text)
	assert.Equal(t, "w6 w7 w8 w9", chunks[2].Text)
	assert.Equal(t, "w9", chunks[3].Text)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "1", chunk.DocumentID)
		assert.NotEmpty(t, chunk.ID)
		assert.NotEmpty(t, chunk.Hash)
	}
	assert.Equal(t, 4, chunks[0].TokenCount)
	assert.Equal(t, 1, chunks[3].TokenCount)
}

func TestSplitNoOverlap(t *testing.T) {
	task, err := NewChunkingTask(5, 0, &wordEncoder{}, zap.NewNop())
	require.NoError(t, err)

	chunks := task.Split("1", words(12))
	require.Len(t, chunks, 3)
	assert.Equal(t, 5, chunks[0].TokenCount)
	assert.Equal(t, 5, chunks[1].TokenCount)
	assert.Equal(t, 2, chunks[2].TokenCount)
}

func TestSplitShortText(t *testing.T) {
	task, err := NewChunkingTask(100, 10, &wordEncoder{}, zap.NewNop())
	require.NoError(t, err)

	chunks := task.Split("1", "only three words")
	require.Len(t, chunks, 1)
	assert.Equal(t, "only three words", chunks[0].Text)
	assert.Equal(t, 3, chunks[0].TokenCount)
}

func TestSplitEmptyText(t *testing.T) {
	task, err := NewChunkingTask(10, 2, &wordEncoder{}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, task.Split("1", ""))
}

func TestRunRejectsEmptyResult(t *testing.T) {
	task, err := NewChunkingTask(10, 2, &wordEncoder{}, zap.NewNop())
	require.NoError(t, err)

	payload := &types.IngestPayload{DocumentID: "1", CleanText: ""}
	_, _, err = task.Run(context.Background(), payload)
	assert.True(t, errors.Is(err, werrs.ErrValidation))
}

func TestRunSetsChunks(t *testing.T) {
	task, err := NewChunkingTask(4, 1, &wordEncoder{}, zap.NewNop())
	require.NoError(t, err)

	payload := &types.IngestPayload{DocumentID: "7", CleanText: words(10)}
	out, _, err := task.Run(context.Background(), payload)
	require.NoError(t, err)

	result, ok := out.(*types.IngestPayload)
	require.True(t, ok)
	assert.Len(t, result.Chunks, 4)
}
