package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchly/pitchly/pkg/subscription"
	"github.com/pitchly/pitchly/storage/memory"
)

func newHandler(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	guard, err := subscription.NewGuard(store)
	require.NoError(t, err)

	mw := Middleware(Config{
		Guard:     guard,
		GetUserID: FromHeader("X-User-ID"),
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := RecordFromContext(r.Context())
		require.True(t, ok)
		require.NotNil(t, rec)
		w.WriteHeader(http.StatusOK)
	}))
	return handler, store
}

func doRequest(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/proposals", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestMiddleware_Unauthorized(t *testing.T) {
	handler, _ := newHandler(t)
	w := doRequest(handler, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_ChargesAndPassesThrough(t *testing.T) {
	handler, store := newHandler(t)

	w := doRequest(handler, "user_1")
	assert.Equal(t, http.StatusOK, w.Code)

	rec, err := store.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ProposalsUsed)
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	handler, _ := newHandler(t)

	for i := 0; i < subscription.FreeProposalsLimit; i++ {
		w := doRequest(handler, "user_1")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(handler, "user_1")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "quota exceeded")
	assert.Contains(t, w.Body.String(), `"limit":3`)
}

func TestMiddleware_FromContextExtractor(t *testing.T) {
	store := memory.New()
	guard, err := subscription.NewGuard(store)
	require.NoError(t, err)

	mw := Middleware(Config{
		Guard:     guard,
		GetUserID: FromContext(UserIDKey),
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req = req.WithContext(WithUserID(req.Context(), "user_ctx"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	rec, err := store.Get(context.Background(), "user_ctx")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ProposalsUsed)
}
