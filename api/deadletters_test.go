package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlims/labbus/retry"
	testLog "github.com/openlims/labbus/testing/log"
)

func newDeadLetterFixture(t *testing.T) (*DeadLetterHandler, *retry.Tracker) {
	t.Helper()

	tracker := retry.NewTracker(retry.NewInMemoryStore())

	return NewDeadLetterHandler(testLog.NewNilLogger(), tracker), tracker
}

func parkPair(t *testing.T, tracker *retry.Tracker, eventID, handlerID string) {
	t.Helper()

	require.NoError(t, tracker.Store().Create(context.Background(), &retry.Processing{
		EventID:        eventID,
		HandlerID:      handlerID,
		Stream:         "samples",
		SequenceNumber: 7,
		Status:         retry.StatusDeadLetter,
		AttemptCount:   4,
		LastError:      "instrument offline",
	}))
}

func TestListDeadLetters(t *testing.T) {
	h, tracker := newDeadLetterFixture(t)

	parkPair(t, tracker, "ev-1", "notify-lis")

	req := httptest.NewRequest(http.MethodGet, "/deadletters", nil)
	resp := httptest.NewRecorder()

	h.List(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var batch DeadLetterBatch
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &batch))
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "ev-1", batch.Items[0].EventID)
	assert.Equal(t, "notify-lis", batch.Items[0].HandlerID)
	assert.Equal(t, uint64(7), batch.Items[0].SequenceNumber)
	assert.Equal(t, 4, batch.Items[0].AttemptCount)
	assert.Equal(t, "instrument offline", batch.Items[0].LastError)

	t.Run("pagination", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/deadletters?offset=1&limit=10", nil)
		resp := httptest.NewRecorder()

		h.List(resp, req)

		require.Equal(t, http.StatusOK, resp.Code)

		var batch DeadLetterBatch
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &batch))
		assert.Empty(t, batch.Items)
	})

	t.Run("non-integer pagination", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/deadletters?limit=many", nil)
		resp := httptest.NewRecorder()

		h.List(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deadletters", nil)
		resp := httptest.NewRecorder()

		h.List(resp, req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	})
}

func TestReplayDeadLetter(t *testing.T) {
	h, tracker := newDeadLetterFixture(t)

	parkPair(t, tracker, "ev-1", "notify-lis")

	req := httptest.NewRequest(http.MethodPost, "/deadletters/ev-1/replay", strings.NewReader(`{"handler_id": "notify-lis"}`))
	resp := httptest.NewRecorder()

	h.Replay(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var replayed DeadLetter
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &replayed))
	assert.Equal(t, "ev-1", replayed.EventID)
	assert.Zero(t, replayed.AttemptCount)
	assert.Empty(t, replayed.LastError)

	// the row went back to retrying with a fresh attempt budget
	p, err := tracker.Store().Get(context.Background(), "ev-1", "notify-lis")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, retry.StatusRetrying, p.Status)
	require.NotNil(t, p.NextRetryAt)

	t.Run("replaying a non-parked pair", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deadletters/ev-1/replay", strings.NewReader(`{"handler_id": "notify-lis"}`))
		resp := httptest.NewRecorder()

		h.Replay(resp, req)

		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("unknown pair", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deadletters/ghost/replay", strings.NewReader(`{"handler_id": "notify-lis"}`))
		resp := httptest.NewRecorder()

		h.Replay(resp, req)

		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("missing handler id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deadletters/ev-1/replay", strings.NewReader(`{}`))
		resp := httptest.NewRecorder()

		h.Replay(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("path without replay suffix", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deadletters/ev-1", strings.NewReader(`{"handler_id": "notify-lis"}`))
		resp := httptest.NewRecorder()

		h.Replay(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/deadletters/ev-1/replay", nil)
		resp := httptest.NewRecorder()

		h.Replay(resp, req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	})
}
