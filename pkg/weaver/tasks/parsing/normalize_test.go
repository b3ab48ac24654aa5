package parsing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTextPlain(t *testing.T) {
	got := ExtractText("Just a plain sentence.")
	assert.Equal(t, "Just a plain sentence.", got)
}

func TestExtractTextMarkdown(t *testing.T) {
	input := "# Title\n\n- item one\n- item two\n\nSee [the docs](https://example.com) for `details`."
	got := ExtractText(input)
	assert.Contains(t, got, "Title")
	assert.Contains(t, got, "item one")
	assert.Contains(t, got, "the docs")
	assert.Contains(t, got, "details")
	assert.NotContains(t, got, "https://example.com")
	assert.NotContains(t, got, "#")
	assert.NotContains(t, got, "`")
}

func TestExtractTextMarkdownCodeBlocksRemoved(t *testing.T) {
	input := "Before.\n\n```go\nfunc secret() {}\n```\n\nAfter."
	got := ExtractText(input)
	assert.Contains(t, got, "Before.")
	assert.Contains(t, got, "After.")
	assert.NotContains(t, got, "func secret")
}

func TestExtractTextHTML(t *testing.T) {
	input := `<!DOCTYPE html><html><head><title>t</title>
<script>alert("x")</script></head>
<body><article><h1>Heading</h1><p>Body paragraph with facts.</p></article></body></html>`
	got := ExtractText(input)
	assert.Contains(t, got, "Body paragraph with facts.")
	assert.NotContains(t, got, "<p>")
	assert.NotContains(t, got, "alert")
}

func TestStripTagsRemovesScriptStyleNoscript(t *testing.T) {
	input := `<div><script>var x = 1;</script><style>p { color: red }</style>
<noscript>enable js</noscript><p>Visible &amp; kept.</p></div>`
	got := stripTags(input)
	assert.Contains(t, got, "Visible & kept.")
	assert.NotContains(t, got, "var x")
	assert.NotContains(t, got, "color: red")
	assert.NotContains(t, got, "enable js")
}

func TestNormalizeForEmbedding(t *testing.T) {
	// NFKC: 全角英数が半角へ正規化される
	assert.Equal(t, "ABC 123", NormalizeForEmbedding("ＡＢＣ　１２３"))
	// 制御文字の除去と空白の圧縮
	assert.Equal(t, "a b", NormalizeForEmbedding("a\x01 \t b"))
	assert.Equal(t, "", NormalizeForEmbedding(""))
	assert.Equal(t, "", NormalizeForEmbedding("  \t "))
}

func TestNormalizeWhitespace(t *testing.T) {
	input := "line1\r\nline2\r\n\n\n\n\nline3   with\tspaces  \n"
	got := normalizeWhitespace(input)
	assert.NotContains(t, got, "\r")
	assert.NotContains(t, got, "\n\n\n")
	assert.Contains(t, got, "line3 with spaces")
	assert.False(t, strings.HasSuffix(got, "\n"))
}
