package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/t-kawata/myweave/pkg/weaver/werrs"
)

var (
	protocolPrefixRe = regexp.MustCompile(`^\w+://`)
	unsafeCharRe     = regexp.MustCompile(`[^A-Za-z0-9._\- ]`)
	repeatUnderRe    = regexp.MustCompile(`_{2,}`)
	repeatDotRe      = regexp.MustCompile(`\.{2,}`)
)

// 拡張子を保持したままファイル名全体を切り詰める上限。
const maxFilenameLength = 255

// SanitizeFilename は、境界で受理したファイル名をストレージキーとして安全な形に正規化します。
// 処理内容:
//  1. NULバイトの除去
//  2. 二重URLデコード（%252e%252e 形式のエンコード回避を展開するため2回）
//  3. プロトコルプレフィックス（http:// 等）の拒否
//  4. POSIX / Windows 両方のセパレータを考慮した basename の抽出
//  5. [A-Za-z0-9._- 半角スペース] 以外の文字を '_' へ置換
//  6. 連続する '_' と '.' の圧縮
//  7. 拡張子を保持した255文字への切り詰め
//
// この関数は冪等です: SanitizeFilename(SanitizeFilename(f)) == SanitizeFilename(f)
func SanitizeFilename(name string) (string, error) {
	// NULバイト除去
	name = strings.ReplaceAll(name, "\x00", "")

	// 二重URLデコード。デコード失敗はそのままの文字列で続行する
	for i := 0; i < 2; i++ {
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
	}
	name = strings.ReplaceAll(name, "\x00", "")

	// プロトコルプレフィックスはパストラバーサル・SSRFの前兆として拒否
	if protocolPrefixRe.MatchString(name) {
		return "", fmt.Errorf("%w: filename must not contain a protocol prefix: %q", werrs.ErrValidation, name)
	}

	// Windowsセパレータを正規化してから basename を抽出
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "/" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: filename reduces to empty: %q", werrs.ErrValidation, name)
	}

	// 許可文字以外を '_' へ置換して、連続記号を圧縮
	name = unsafeCharRe.ReplaceAllString(name, "_")
	name = repeatUnderRe.ReplaceAllString(name, "_")
	name = repeatDotRe.ReplaceAllString(name, ".")

	name = strings.Trim(name, " ")
	if name == "" || name == "." || name == "_" {
		return "", fmt.Errorf("%w: filename reduces to empty after sanitization", werrs.ErrValidation)
	}

	// 拡張子を保持して切り詰める
	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		base := name[:maxFilenameLength-len(ext)]
		name = base + ext
	}

	return name, nil
}
