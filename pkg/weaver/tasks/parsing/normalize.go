package parsing

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/text/unicode/norm"
)

var (
	// HTML 関連
	scriptStyleRe   = regexp.MustCompile(`(?is)<script[^>]*?>.*?</script>`)
	styleRe         = regexp.MustCompile(`(?is)<style[^>]*?>.*?</style>`)
	commentRe       = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRe           = regexp.MustCompile(`<[^>]+>`)
	numericEntityRe = regexp.MustCompile(`&#x?[0-9a-fA-F]+;`)

	// Markdown 関連
	// 注意: コードブロックは4+バッククォートのネスト構文にも対応
	codeBlockRe    = regexp.MustCompile("(?s)````+.*?````+|```.*?```")
	inlineCodeRe   = regexp.MustCompile("`([^`]*)`")
	linkRe         = regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`)
	imageRe        = regexp.MustCompile(`!\[([^\]]*)\]\([^\)]+\)`)
	headingRe      = regexp.MustCompile(`(?m)^#+\s+`)
	listRe         = regexp.MustCompile(`(?m)^[\*\-\+]\s+`)
	numberedListRe = regexp.MustCompile(`(?m)^\d+\.\s+`)
	quoteRe        = regexp.MustCompile(`(?m)^>\s*`)
	// 注意: 強調パターン (*bold*, _italic_) は削除しない
	// 理由: プログラミング (snake_case) や数式 (a*b*c) と衝突するため
	hrRe = regexp.MustCompile(`(?m)^([-*_]){3,}$`)

	// HTML エンティティマッピング
	htmlEntities = map[string]string{
		"&lt;":   "<",
		"&gt;":   ">",
		"&amp;":  "&",
		"&quot;": "\"",
		"&apos;": "'",
		"&nbsp;": " ",
	}

	// 空白・改行関連
	consecutiveSpacesRe   = regexp.MustCompile(`[ \t]+`)
	consecutiveNewlinesRe = regexp.MustCompile(`\n{3,}`)
	trailingSpacesRe      = regexp.MustCompile(`[ \t]+\n`)

	// 制御文字
	reControl = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// ExtractText は、入力からHTML/Markdown記法を除去してプレーンテキストを返します。
// HTMLは readability による本文抽出とMarkdown変換を経由し、失敗時は
// タグ除去のフォールバックで処理します。
func ExtractText(raw string) string {
	text := normalizeWhitespace(raw)

	if detectHTML(text) {
		if extracted, err := extractAndCleanHTML(text); err == nil {
			return extracted
		}
		return stripTags(text)
	}
	// Markdownとして扱う（プレーンテキストも安全に処理可能）
	return extractFromMarkdown(text)
}

// NormalizeForEmbedding は、意味を保持しつつ埋め込み品質を落とすノイズを除去します。
func NormalizeForEmbedding(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = reControl.ReplaceAllString(text, "")
	text = consecutiveSpacesRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func detectHTML(text string) bool {
	header := text[:min(len(text), 1000)]
	hLower := strings.ToLower(header)
	if strings.Contains(hLower, "<!doctype html") ||
		strings.Contains(hLower, "<html") ||
		strings.Contains(hLower, "<head") ||
		strings.Contains(hLower, "<body") {
		return true
	}
	return tagRe.MatchString(header)
}

func extractAndCleanHTML(text string) (string, error) {
	cleanHTML := pruneHTMLBoilerplate(text)
	markdown, err := convertHTMLToMarkdown(cleanHTML)
	if err != nil {
		return stripTags(text), nil
	}
	return extractFromMarkdown(markdown), nil
}

// pruneHTMLBoilerplate は readability で本文を抽出します。
// 抽出に失敗した場合は元のHTMLをそのまま返します。
func pruneHTMLBoilerplate(htmlText string) string {
	article, err := readability.FromReader(strings.NewReader(htmlText), nil)
	if err == nil && article.Content != "" {
		return article.Content
	}
	return htmlText
}

func convertHTMLToMarkdown(htmlText string) (string, error) {
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(htmlText)
}

// stripTags は、DOMパースでタグを除去するフォールバック経路です。
// パースに失敗した壊れたHTMLは正規表現ベースの除去で処理します。
func stripTags(text string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err == nil {
		doc.Find("script, style, noscript").Remove()
		return strings.TrimSpace(doc.Text())
	}
	text = scriptStyleRe.ReplaceAllString(text, "")
	text = styleRe.ReplaceAllString(text, "")
	text = commentRe.ReplaceAllString(text, "")
	text = tagRe.ReplaceAllString(text, " ")
	return decodeHTMLEntities(text)
}

func decodeHTMLEntities(text string) string {
	for entity, char := range htmlEntities {
		text = strings.ReplaceAll(text, entity, char)
	}
	return numericEntityRe.ReplaceAllStringFunc(text, func(match string) string {
		var code int
		if strings.HasPrefix(match, "&#x") || strings.HasPrefix(match, "&#X") {
			fmt.Sscanf(match, "&#x%x;", &code)
		} else {
			fmt.Sscanf(match, "&#%d;", &code)
		}
		if code > 0 && code < 0x10FFFF {
			return string(rune(code))
		}
		return ""
	})
}

func extractFromMarkdown(text string) string {
	text = codeBlockRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = imageRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	text = listRe.ReplaceAllString(text, "")
	text = numberedListRe.ReplaceAllString(text, "")
	text = quoteRe.ReplaceAllString(text, "")
	text = hrRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = consecutiveSpacesRe.ReplaceAllString(text, " ")
	text = consecutiveNewlinesRe.ReplaceAllString(text, "\n\n")
	text = trailingSpacesRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
