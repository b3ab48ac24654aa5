// Package chunking は、テキストをトークンベースのスライディングウィンドウで
// チャンクに分割するタスクを提供します。トークン化には Tiktoken（cl100k_base）を
// 使用します。
package chunking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"github.com/t-kawata/myweave/lib/common"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// Encoder は、チャンク分割に使用するトークナイザの抽象です。
// テストでは決定論的な実装に差し替えられます。
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// tiktokenEncoder は、cl100k_base による標準のEncoder実装です。
type tiktokenEncoder struct {
	tkm *tiktoken.Tiktoken
}

// NewTiktokenEncoder は、cl100k_base エンコーディングのEncoderを作成します。
func NewTiktokenEncoder() (Encoder, error) {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tiktoken encoder: %w", err)
	}
	return &tiktokenEncoder{tkm: tkm}, nil
}

func (e *tiktokenEncoder) Encode(text string) []int {
	return e.tkm.Encode(text, nil, nil)
}

func (e *tiktokenEncoder) Decode(tokens []int) string {
	return e.tkm.Decode(tokens)
}

// ChunkingTask は、クリーンテキストをチャンクに分割するタスクです。
type ChunkingTask struct {
	ChunkSize    int // チャンクの最大トークン数
	ChunkOverlap int // チャンク間のオーバーラップトークン数
	Encoder      Encoder
	logger       *zap.Logger
}

// NewChunkingTask は、新しいChunkingTaskを作成します。
// overlap >= size は設定エラーとして拒否されます。
func NewChunkingTask(chunkSize, chunkOverlap int, encoder Encoder, logger *zap.Logger) (*ChunkingTask, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", werrs.ErrConfiguration, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", werrs.ErrConfiguration, chunkOverlap, chunkSize)
	}
	if encoder == nil {
		enc, err := NewTiktokenEncoder()
		if err != nil {
			return nil, err
		}
		encoder = enc
	}
	return &ChunkingTask{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Encoder:      encoder,
		logger:       logger,
	}, nil
}

var _ pipeline.Task = (*ChunkingTask)(nil)

func (t *ChunkingTask) Name() string { return "chunking" }

// Run は、CleanText をチャンクに分割して payload.Chunks を設定します。
func (t *ChunkingTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	var usage types.TokenUsage
	payload, ok := input.(*types.IngestPayload)
	if !ok {
		return nil, usage, fmt.Errorf("Chunking: Expected *types.IngestPayload input, got %T", input)
	}

	payload.Chunks = t.Split(payload.DocumentID, payload.CleanText)
	if len(payload.Chunks) == 0 {
		return nil, usage, fmt.Errorf("%w: document %s produced no chunks", werrs.ErrValidation, payload.DocumentID)
	}

	t.logger.Debug("Chunked document",
		zap.String("document_id", payload.DocumentID),
		zap.Int("chunks", len(payload.Chunks)))
	return payload, usage, nil
}

// Split は、テキストをトークンウィンドウで分割します。
// 各ウィンドウは最大 ChunkSize トークンで、次のウィンドウは
// ChunkSize - ChunkOverlap トークンだけ前進します。空テキストは空を返します。
func (t *ChunkingTask) Split(documentID, text string) []*types.ChunkData {
	if text == "" {
		return nil
	}
	tokens := t.Encoder.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	stride := t.ChunkSize - t.ChunkOverlap
	var chunks []*types.ChunkData
	for start := 0; start < len(tokens); start += stride {
		end := min(start+t.ChunkSize, len(tokens))
		window := tokens[start:end]
		chunkText := t.Encoder.Decode(window)

		chunks = append(chunks, &types.ChunkData{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			Index:      len(chunks),
			Text:       chunkText,
			TokenCount: len(window),
			Hash:       common.CalculateSHA256([]byte(chunkText)),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
