// Package promptsec は、LLMプロンプトへ渡る全てのテキストに適用される
// 入出力サニタイズ層を実装します。
//
// 設計方針: 検出はログのみで処理を止めません。コーパス由来のテキストでは
// 偽陽性のコストが高すぎるためです。一方、構造的エスケープとスキーマの
// サニタイズは常に適用されます。
package promptsec

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// =================================================================================
// 1. Unicode 正規化 (Invisible Character Stripping + NFC)
// =================================================================================

// 不可視文字・方向制御文字。プロンプト構造の偽装に使われるため除去します。
var invisibleRe = regexp.MustCompile(`[\x{200B}-\x{200F}\x{202A}-\x{202E}\x{2060}-\x{2064}\x{FEFF}\x{00AD}]`)

// NormalizeUnicode は、ゼロ幅文字・BiDi制御文字等の不可視文字を除去し、
// NFC正規化を適用します。
func NormalizeUnicode(text string) string {
	text = invisibleRe.ReplaceAllString(text, "")
	return norm.NFC.String(text)
}

// =================================================================================
// 2. インジェクションパターン検出 (Log-Only)
// =================================================================================

// 古典的なプロンプトインジェクションのシグネチャ集。
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all|your)\s+(instructions?|rules?|training)?`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s+`),
	regexp.MustCompile(`(?i)(new|override)\s+(system\s+)?(instructions?|prompt)`),
	regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant|instructions?)\s*>`),
	regexp.MustCompile(`(?i)\[\s*(system|INST)\s*\]`),
	regexp.MustCompile(`(?i)(jailbreak|DAN\s+mode|developer\s+mode\s+enabled)`),
	regexp.MustCompile(`(?i)do\s+anything\s+now`),
	regexp.MustCompile(`(?i)(print|reveal|show|repeat)\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)respond\s+only\s+with`),
	regexp.MustCompile(`(?i)output\s+(the\s+)?following\s+(text\s+)?verbatim`),
}

// DetectInjection は、テキスト中のインジェクションシグネチャを検出し、
// マッチしたパターンの文字列表現を返します。検出しても処理は継続されます。
// 呼び出し側はこの結果を警告ログに記録する責務を持ちます。
func DetectInjection(text string) []string {
	var hits []string
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			hits = append(hits, re.String())
		}
	}
	return hits
}

// =================================================================================
// 3. 構造的エスケープ (Structural Escaping)
// =================================================================================

var tagRe = regexp.MustCompile(`<(/?[A-Za-z][A-Za-z0-9_:-]*)>`)

// EscapeStructural は、プロンプトのセクション構造を破壊しうる記法を無害化します。
// トリプルバッククォートは分離され、XML風タグはホモグリフ（〈〉）に書き換えられます。
func EscapeStructural(text string) string {
	text = strings.ReplaceAll(text, "```", "` ` `")
	text = tagRe.ReplaceAllString(text, "〈$1〉")
	return text
}

// =================================================================================
// 4. オントロジースキーマのサニタイズ
// =================================================================================

var (
	entityTypeUnsafeRe   = regexp.MustCompile(`[^A-Za-z0-9_\s]`)
	relationTypeUnsafeRe = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

const maxTypeLength = 64

// SanitizeEntityType は、プロンプトへ埋め込む前のエンティティタイプ文字列を
// [A-Za-z0-9_ 空白] に制限し、64文字で切り詰めます。
func SanitizeEntityType(s string) string {
	s = entityTypeUnsafeRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > maxTypeLength {
		s = s[:maxTypeLength]
	}
	return s
}

// SanitizeRelationType は、リレーションタイプ文字列を [A-Za-z0-9_] に制限し、
// 大文字化して64文字で切り詰めます。
func SanitizeRelationType(s string) string {
	s = relationTypeUnsafeRe.ReplaceAllString(s, "")
	s = strings.ToUpper(s)
	if len(s) > maxTypeLength {
		s = s[:maxTypeLength]
	}
	return s
}

// =================================================================================
// 5. 安全識別子 (Cypher へ代入される前の最終ゲート)
// =================================================================================

// グラフクエリへ文字列代入されるラベル・リレーションタイプが満たすべき形式。
var safeIdentRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// IsSafeIdentifier は、文字列がラベル・リレーションタイプとして
// クエリ文字列へ安全に代入できる形式かどうかを返します。
func IsSafeIdentifier(s string) bool {
	return safeIdentRe.MatchString(s)
}

// =================================================================================
// 6. 入力テキストの一括サニタイズ
// =================================================================================

// SanitizeForPrompt は、LLMプロンプトへ渡すテキストの標準パイプラインです。
// Unicode正規化と構造的エスケープを適用し、検出されたインジェクション
// シグネチャを併せて返します。
func SanitizeForPrompt(text string) (string, []string) {
	text = NormalizeUnicode(text)
	hits := DetectInjection(text)
	text = EscapeStructural(text)
	return text, hits
}

// CapContext は、生成プロンプトに含めるチャンク群の合計バイト数を上限以内に抑えます。
// 上限を超えた時点で残りのチャンクは切り捨てられます。個々のチャンクは
// 事前に SanitizeForPrompt を通過している前提です。
func CapContext(texts []string, maxBytes int) []string {
	var out []string
	total := 0
	for _, t := range texts {
		if total+len(t) > maxBytes {
			break
		}
		out = append(out, t)
		total += len(t)
	}
	return out
}
