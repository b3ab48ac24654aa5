// Package parsing は、ブロブストレージからドキュメントを取得し、
// HTML/Markdown記法を除去したクリーンテキストへ変換するタスクを提供します。
package parsing

import (
	"context"
	"fmt"
	"os"

	"github.com/t-kawata/myweave/pkg/s3client"
	"github.com/t-kawata/myweave/pkg/weaver/pipeline"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// ParsingTask は、ブロブ取得とテキスト抽出を行うタスクです。
type ParsingTask struct {
	blob   *s3client.S3Client
	logger *zap.Logger
}

// NewParsingTask は、新しいParsingTaskを作成します。
func NewParsingTask(blob *s3client.S3Client, logger *zap.Logger) *ParsingTask {
	return &ParsingTask{blob: blob, logger: logger}
}

var _ pipeline.Task = (*ParsingTask)(nil)

func (t *ParsingTask) Name() string { return "parsing" }

// Run は、StorageKey のブロブを取得してクリーンテキストへ変換します。
func (t *ParsingTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	var usage types.TokenUsage
	payload, ok := input.(*types.IngestPayload)
	if !ok {
		return nil, usage, fmt.Errorf("Parsing: Expected *types.IngestPayload input, got %T", input)
	}

	localPath, err := t.blob.Down(ctx, payload.StorageKey)
	if err != nil {
		return nil, usage, werrs.Transient(fmt.Errorf("Parsing: Failed to fetch blob %s: %w", payload.StorageKey, err))
	}
	raw, err := os.ReadFile(*localPath)
	if err != nil {
		return nil, usage, werrs.Transient(fmt.Errorf("Parsing: Failed to read blob %s: %w", *localPath, err))
	}

	payload.CleanText = NormalizeForEmbedding(ExtractText(string(raw)))
	if payload.CleanText == "" {
		return nil, usage, fmt.Errorf("%w: document %s contains no extractable text", werrs.ErrValidation, payload.DocumentID)
	}

	t.logger.Debug("Parsed document",
		zap.String("document_id", payload.DocumentID),
		zap.Int("raw_bytes", len(raw)),
		zap.Int("clean_chars", len(payload.CleanText)))
	return payload, usage, nil
}
