package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t-kawata/myweave/pkg/weaver/werrs"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain name", "report.pdf", "report.pdf"},
		{"spaces kept", "annual report 2026.md", "annual report 2026.md"},
		{"path traversal stripped", "../../etc/passwd", "passwd"},
		{"windows separators", `..\..\windows\system32\config`, "config"},
		{"url encoded traversal", "%2e%2e%2fsecret.txt", "secret.txt"},
		{"double url encoded traversal", "%252e%252e%252fsecret.txt", "secret.txt"},
		{"nul bytes removed", "file\x00name.txt", "filename.txt"},
		{"unsafe chars replaced", "データ:2026?.txt", "_2026_.txt"},
		{"repeated underscores collapsed", "a___b.txt", "a_b.txt"},
		{"repeated dots collapsed", "a....b.txt", "a.b.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeFilename(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeFilenameRejects(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"protocol prefix", "https://evil.example/payload"},
		{"file protocol", "file:///etc/passwd"},
		{"empty", ""},
		{"dot only", "."},
		{"dot dot only", ".."},
		{"unsafe only", "???"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SanitizeFilename(tc.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, werrs.ErrValidation))
		})
	}
}

// サニタイズ済みの名前を再度サニタイズしても変化しないこと。
func TestSanitizeFilenameIdempotent(t *testing.T) {
	inputs := []string{
		"report.pdf",
		"../../etc/passwd",
		"%2e%2e%2fsecret.txt",
		"データ:2026?.txt",
		"a___b....c.txt",
		strings.Repeat("x", 300) + ".txt",
	}
	for _, input := range inputs {
		first, err := SanitizeFilename(input)
		require.NoError(t, err, "input=%q", input)
		second, err := SanitizeFilename(first)
		require.NoError(t, err, "first=%q", first)
		assert.Equal(t, first, second, "input=%q", input)
	}
}

func TestSanitizeFilenameTruncationKeepsExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".txt"
	got, err := SanitizeFilename(long)
	require.NoError(t, err)
	assert.Len(t, got, 255)
	assert.True(t, strings.HasSuffix(got, ".txt"))
}
