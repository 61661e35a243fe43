package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	result map[string][]string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, deadline time.Duration) map[string][]string {
	return f.result
}

func TestScreenshotHandlerReturnsDispatchResultVerbatim(t *testing.T) {
	d := &fakeDispatcher{result: map[string][]string{
		"agent-1": {"/images/a.jpg"},
		"agent-2": {},
	}}
	h := NewScreenshotHandler(d, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/screenshot", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, d.result, got)
}

func TestScreenshotHandlerReturnsEmptyObjectWhenNoAgents(t *testing.T) {
	d := &fakeDispatcher{result: map[string][]string{}}
	h := NewScreenshotHandler(d, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/screenshot", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.JSONEq(t, `{}`, rec.Body.String())
}
