package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeErrorHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindBadInput:      http.StatusBadRequest,
		KindNotPermitted:  http.StatusForbidden,
		KindNotFound:      http.StatusNotFound,
		KindPathViolation: http.StatusBadRequest,
		KindSizeExceeded:  http.StatusRequestEntityTooLarge,
		KindTimeout:       http.StatusRequestTimeout,
		KindCancelled:     http.StatusServiceUnavailable,
		KindDegraded:      http.StatusOK,
		KindInternal:      http.StatusInternalServerError,
	}
	for kind, want := range cases {
		err := New(kind, "boom")
		assert.Equal(t, want, err.ToHTTPStatus(), string(kind))
	}
}

func TestRuntimeErrorUserVisible(t *testing.T) {
	assert.True(t, New(KindBadInput, "x").UserVisible())
	assert.True(t, New(KindNotPermitted, "x").UserVisible())
	assert.False(t, New(KindInternal, "x").UserVisible())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := New(KindInternal, "inner")
	outer := Wrap(KindTimeout, "outer", cause)
	require.ErrorIs(t, outer, cause)
}

func TestToJSONIncludesKind(t *testing.T) {
	err := New(KindNotFound, "missing").WithTraceID("abc123")
	body, jerr := err.ToJSON()
	require.NoError(t, jerr)
	assert.Contains(t, string(body), `"kind":"NOT_FOUND"`)
	assert.Contains(t, string(body), "abc123")
}
