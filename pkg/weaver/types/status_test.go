package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from DocumentStatus
		to   DocumentStatus
		want bool
	}{
		{"pending to processing", DOC_STATUS_PENDING, DOC_STATUS_PROCESSING, true},
		{"pending to deleting", DOC_STATUS_PENDING, DOC_STATUS_DELETING, true},
		{"pending to completed skips processing", DOC_STATUS_PENDING, DOC_STATUS_COMPLETED, false},
		{"processing to completed", DOC_STATUS_PROCESSING, DOC_STATUS_COMPLETED, true},
		{"processing to failed", DOC_STATUS_PROCESSING, DOC_STATUS_FAILED, true},
		{"processing to pending is backwards", DOC_STATUS_PROCESSING, DOC_STATUS_PENDING, false},
		{"completed to updating", DOC_STATUS_COMPLETED, DOC_STATUS_UPDATING, true},
		{"failed only allows deleting", DOC_STATUS_FAILED, DOC_STATUS_UPDATING, false},
		{"failed to deleting", DOC_STATUS_FAILED, DOC_STATUS_DELETING, true},
		{"updating resumes via processing", DOC_STATUS_UPDATING, DOC_STATUS_PROCESSING, true},
		{"updating cannot complete directly", DOC_STATUS_UPDATING, DOC_STATUS_COMPLETED, false},
		{"updating cannot fail directly", DOC_STATUS_UPDATING, DOC_STATUS_FAILED, false},
		{"completed to processing", DOC_STATUS_COMPLETED, DOC_STATUS_PROCESSING, false},
		{"deleting is terminal", DOC_STATUS_DELETING, DOC_STATUS_PENDING, false},
		{"deleting to deleting", DOC_STATUS_DELETING, DOC_STATUS_DELETING, false},
		{"unknown status", DocumentStatus("BOGUS"), DOC_STATUS_PROCESSING, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

// すべての状態から DELETING へ遷移できること（DELETING 自身を除く）。
func TestAnyStatusCanReachDeleting(t *testing.T) {
	for _, from := range []DocumentStatus{
		DOC_STATUS_PENDING,
		DOC_STATUS_PROCESSING,
		DOC_STATUS_COMPLETED,
		DOC_STATUS_FAILED,
		DOC_STATUS_UPDATING,
	} {
		assert.True(t, CanTransition(from, DOC_STATUS_DELETING), "from=%s", from)
	}
}

func TestIsValidDocumentStatus(t *testing.T) {
	assert.True(t, IsValidDocumentStatus("PENDING"))
	assert.True(t, IsValidDocumentStatus("DELETING"))
	assert.False(t, IsValidDocumentStatus("pending"))
	assert.False(t, IsValidDocumentStatus(""))
}
