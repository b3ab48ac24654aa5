// Package werrs は、Weaverエンジンのエラー種別（kinds）を定義します。
// 呼び出し側は errors.Is でエラー種別を判定し、境界層でユーザー向けステータスに変換します。
package werrs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation は、入力が契約に違反している場合のエラーです（不正なファイル名、必須項目の欠落等）。
	ErrValidation = errors.New("validation error")

	// ErrDuplicateHash は、同一のコンテンツハッシュを持つドキュメントが既に存在する場合のエラーです。
	ErrDuplicateHash = errors.New("duplicate document hash")

	// ErrTooLarge は、アップロードサイズが上限を超えた場合のエラーです。
	ErrTooLarge = errors.New("upload too large")

	// ErrNotFound は、指定されたリソースが存在しない場合のエラーです。
	ErrNotFound = errors.New("not found")

	// ErrInvalidLabel は、ラベル・リレーションタイプ文字列が安全識別子の正規表現を満たさない場合のエラーです。
	// このエラーは呼び出し箇所では致命的であり、グラフクエリへの文字列代入前に必ず検出されます。
	ErrInvalidLabel = errors.New("invalid label")

	// ErrInvalidStatusTransition は、ドキュメント状態機械の許可されていない遷移です。
	// バックグラウンドタスクでは通常 log-and-skip で処理されます。
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrTransientProvider は、LLM・DB・ストレージの一時的な障害です。バックオフ付きでリトライされます。
	ErrTransientProvider = errors.New("transient provider error")

	// ErrPermanentProvider は、リトライを使い果たした後の恒久的な障害です。DLQに送られます。
	ErrPermanentProvider = errors.New("permanent provider error")

	// ErrConsistency は、トランザクション中に不変条件が破られたことを示します。
	// 現在の作業単位を中断し、調査のためにログに記録されます。
	ErrConsistency = errors.New("consistency violation")

	// ErrConfiguration は、設定値が契約に違反している場合のエラーです（overlap >= chunk_size 等）。
	ErrConfiguration = errors.New("configuration error")
)

// Transient は、err を一時的障害としてマークしたエラーを返します。
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransientProvider, err)
}

// Permanent は、err を恒久的障害としてマークしたエラーを返します。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanentProvider, err)
}

// IsRetryable は、Orchestrator がリトライすべきエラーかどうかを判定します。
// 明示的に一時的とマークされたもののみがリトライ対象です。
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientProvider)
}
