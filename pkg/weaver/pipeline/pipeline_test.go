package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t-kawata/myweave/pkg/weaver/types"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
	"go.uber.org/zap"
)

// stubTask は、事前に仕込んだエラー列を順番に返すテスト用タスクです。
type stubTask struct {
	name  string
	errs  []error // 呼び出しごとに消費され、尽きたら成功
	calls int
	usage types.TokenUsage
}

func (t *stubTask) Name() string { return t.name }

func (t *stubTask) Run(ctx context.Context, input any) (any, types.TokenUsage, error) {
	t.calls++
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		if err != nil {
			return nil, t.usage, err
		}
	}
	return input, t.usage, nil
}

func newTestPipeline(tasks ...Task) *Pipeline {
	p := NewPipeline(zap.NewNop(), tasks...)
	p.BaseBackoff = time.Millisecond
	return p
}

func TestPipelineChainsOutputs(t *testing.T) {
	a := &stubTask{name: "a"}
	b := &stubTask{name: "b"}
	p := newTestPipeline(a, b)

	out, _, err := p.Run(context.Background(), "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", out)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestPipelineRetriesTransientErrors(t *testing.T) {
	task := &stubTask{
		name: "flaky",
		errs: []error{
			werrs.Transient(errors.New("rate limited")),
			werrs.Transient(errors.New("rate limited")),
		},
	}
	p := newTestPipeline(task)

	_, _, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, task.calls)
}

func TestPipelineDoesNotRetryPermanentErrors(t *testing.T) {
	task := &stubTask{
		name: "broken",
		errs: []error{fmt.Errorf("%w: schema mismatch", werrs.ErrValidation)},
	}
	p := newTestPipeline(task)

	_, _, err := p.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, task.calls)
	assert.Contains(t, err.Error(), "Step broken failed")
}

func TestPipelineExhaustedRetriesBecomePermanent(t *testing.T) {
	transient := werrs.Transient(errors.New("always down"))
	task := &stubTask{
		name: "down",
		errs: []error{transient, transient, transient, transient, transient},
	}
	p := newTestPipeline(task)
	p.MaxRetries = 2

	_, _, err := p.Run(context.Background(), nil)
	require.Error(t, err)
	// 初回 + リトライ2回
	assert.Equal(t, 3, task.calls)
	// リトライを使い果たした一時的エラーは恒久的エラーへ昇格する
	assert.True(t, errors.Is(err, werrs.ErrPermanentProvider))
}

func TestPipelineAggregatesUsage(t *testing.T) {
	a := &stubTask{name: "a", usage: types.TokenUsage{InputTokens: 10, OutputTokens: 1}}
	b := &stubTask{name: "b", usage: types.TokenUsage{InputTokens: 20, OutputTokens: 2}}
	p := newTestPipeline(a, b)

	_, usage, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), usage.InputTokens)
	assert.Equal(t, int64(3), usage.OutputTokens)
}

func TestPipelineStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &stubTask{
		name: "slow",
		errs: []error{werrs.Transient(errors.New("try again"))},
	}
	p := newTestPipeline(task)

	_, _, err := p.Run(ctx, nil)
	require.Error(t, err)
	// キャンセル済みコンテキストではリトライに入らない
	assert.Equal(t, 1, task.calls)
}
