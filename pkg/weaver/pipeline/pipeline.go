// Package pipeline は、WeaverのIngestionパイプラインを実装します。
// パイプラインは複数のステップを順番に実行し、各ステップの出力を
// 次のステップの入力として渡します。一時的エラーはステップ単位で
// 指数バックオフ付きでリトライされます。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/t-kawata/myweave/config"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// Task は、パイプライン内で実行される単一のステップを表すインターフェースです。
type Task interface {
	// Name は、ログとリトライ記録に使用されるステップ名を返します。
	Name() string
	// Run は、ステップを実行します。
	// 引数:
	//   - ctx: コンテキスト（キャンセル処理等に使用）
	//   - input: ステップへの入力（前のステップの出力、または初期入力）
	// 返り値:
	//   - any: ステップの出力（次のステップへの入力となる）
	//   - types.TokenUsage: トークン使用量
	//   - error: エラーが発生した場合
	Run(ctx context.Context, input any) (any, types.TokenUsage, error)
}

// Pipeline は、複数のステップを順番に実行するパイプラインを表します。
type Pipeline struct {
	Tasks      []Task
	MaxRetries int // 一時的エラーのステップ単位の最大リトライ回数
	// BaseBackoff はリトライ間隔の初期値です。試行ごとに倍加します。
	BaseBackoff time.Duration
	Logger      *zap.Logger
}

// NewPipeline は、新しいパイプラインを作成します。
// リトライ回数とバックオフにはデプロイメントのデフォルトが適用されます。
func NewPipeline(logger *zap.Logger, tasks ...Task) *Pipeline {
	return &Pipeline{
		Tasks:       tasks,
		MaxRetries:  config.MAX_STEP_RETRIES,
		BaseBackoff: time.Second,
		Logger:      logger,
	}
}

// Run は、パイプラインを実行します。
// 各ステップは順番に実行され、出力が次のステップの入力となります。
// 一時的エラー（werrs.IsRetryable）は MaxRetries 回まで指数バックオフ付きで
// 再試行されます。恒久的エラー、またはリトライを使い果たしたエラーは
// パイプラインを中断します。コンテキストのキャンセルは即時に中断します。
func (p *Pipeline) Run(ctx context.Context, initialInput any) (any, types.TokenUsage, error) {
	currentInput := initialInput
	var totalUsage types.TokenUsage

	for _, task := range p.Tasks {
		output, usage, err := p.runWithRetry(ctx, task, currentInput)
		totalUsage.Add(usage)
		if err != nil {
			return nil, totalUsage, fmt.Errorf("Step %s failed: %w", task.Name(), err)
		}
		currentInput = output
	}

	return currentInput, totalUsage, nil
}

// runWithRetry は、1ステップをリトライポリシー付きで実行します。
func (p *Pipeline) runWithRetry(ctx context.Context, task Task, input any) (any, types.TokenUsage, error) {
	var totalUsage types.TokenUsage
	backoff := p.BaseBackoff
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			p.Logger.Warn("Retrying step",
				zap.String("step", task.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, totalUsage, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		output, usage, err := task.Run(ctx, input)
		totalUsage.Add(usage)
		if err == nil {
			return output, totalUsage, nil
		}
		lastErr = err

		// コンテキスト起因と恒久的エラーはリトライしない
		if ctx.Err() != nil || !werrs.IsRetryable(err) {
			return nil, totalUsage, err
		}
	}

	// リトライを使い果たした一時的エラーは恒久的エラーへ昇格する
	return nil, totalUsage, werrs.Permanent(lastErr)
}
