package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSON(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"code fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence without language", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading prose", "Here is the result:\n{\"a\": 1}", `{"a": 1}`},
		{"trailing prose", "{\"a\": 1}\nHope that helps!", `{"a": 1}`},
		{"array", "The entities are:\n[{\"a\": 1}, {\"b\": 2}]", `[{"a": 1}, {"b": 2}]`},
		{"nested braces", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"no json passthrough", "no structured data here", "no structured data here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanJSON(tc.input))
		})
	}
}
