package types

// DocumentStatus は、ドキュメントのライフサイクル状態機械を定義します。
// 状態の書き込みは必ず条件付きUPDATE（現在状態の一致を条件とする）で行われ、
// 許可されていない遷移は ErrInvalidStatusTransition として拒否されます。
type DocumentStatus string

const (
	DOC_STATUS_PENDING    DocumentStatus = "PENDING"    // 受理済み・処理待ち
	DOC_STATUS_PROCESSING DocumentStatus = "PROCESSING" // Ingestionパイプライン実行中
	DOC_STATUS_COMPLETED  DocumentStatus = "COMPLETED"  // 全ステップ完了・検索可能
	DOC_STATUS_FAILED     DocumentStatus = "FAILED"     // 恒久的失敗（error_log 必須）
	DOC_STATUS_UPDATING   DocumentStatus = "UPDATING"   // 内容差し替えの再処理中
	DOC_STATUS_DELETING   DocumentStatus = "DELETING"   // 削除処理中（終端への途中状態）
)

// 許可される遷移の隣接リスト。DELETING からの遷移は物理削除のみです。
// UPDATING は準備状態であり、再処理は必ず PROCESSING を経由して
// COMPLETED / FAILED へ抜けます。FAILED からの再入はできません（削除のみ）。
// PROCESSING → DELETING は取り込み中の削除要求のための追加エッジです。
var allowedTransitions = map[DocumentStatus][]DocumentStatus{
	DOC_STATUS_PENDING:    {DOC_STATUS_PROCESSING, DOC_STATUS_DELETING},
	DOC_STATUS_PROCESSING: {DOC_STATUS_COMPLETED, DOC_STATUS_FAILED, DOC_STATUS_DELETING},
	DOC_STATUS_COMPLETED:  {DOC_STATUS_UPDATING, DOC_STATUS_DELETING},
	DOC_STATUS_FAILED:     {DOC_STATUS_DELETING},
	DOC_STATUS_UPDATING:   {DOC_STATUS_PROCESSING, DOC_STATUS_DELETING},
	DOC_STATUS_DELETING:   {},
}

// CanTransition は from から to への遷移が状態機械上許可されているかを返します。
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidDocumentStatus は、文字列が既知の状態値かどうかを返します。
func IsValidDocumentStatus(s string) bool {
	_, ok := allowedTransitions[DocumentStatus(s)]
	return ok
}
