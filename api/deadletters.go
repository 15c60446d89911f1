package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/retry"
	"github.com/pkg/errors"
)

type DeadLetterBatch struct {
	Items []DeadLetter `json:"items"`
}

type DeadLetter struct {
	EventID        string `json:"event_id"`
	HandlerID      string `json:"handler_id"`
	Stream         string `json:"stream"`
	SequenceNumber uint64 `json:"sequence_number"`
	AttemptCount   int    `json:"attempt_count"`
	LastError      string `json:"last_error"`
}

type ReplayRequest struct {
	HandlerID string `json:"handler_id"`
}

// DeadLetterHandler exposes parked event x handler pairs for operator triage
// and replay.
type DeadLetterHandler struct {
	tracker *retry.Tracker
	logger  log.Logger
}

func NewDeadLetterHandler(logger log.Logger, tracker *retry.Tracker) *DeadLetterHandler {
	return &DeadLetterHandler{tracker: tracker, logger: logger}
}

func (h *DeadLetterHandler) List(resp http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		NewResponseWriterFromErrMsg("Method not allowed", http.StatusMethodNotAllowed).write(resp, h.logger)
		return
	}

	query := r.URL.Query()

	offset, err := getInt(query, "offset")

	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	limit, err := getInt(query, "limit")

	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	offsetVal, limitVal := 0, 100

	if offset != nil {
		offsetVal = *offset
	}

	if limit != nil {
		limitVal = *limit
	}

	rows, err := h.tracker.Store().DeadLettered(r.Context(), offsetVal, limitVal)

	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	batch := DeadLetterBatch{Items: make([]DeadLetter, len(rows))}

	for i, p := range rows {
		batch.Items[i] = DeadLetter{
			EventID:        p.EventID,
			HandlerID:      p.HandlerID,
			Stream:         p.Stream,
			SequenceNumber: p.SequenceNumber,
			AttemptCount:   p.AttemptCount,
			LastError:      p.LastError,
		}
	}

	NewResponseWriter(batch, http.StatusOK).write(resp, h.logger)
}

// Replay handles POST /deadletters/{eventId}/replay. The handler id comes in
// the body because one event may be parked for several handlers.
func (h *DeadLetterHandler) Replay(resp http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		NewResponseWriterFromErrMsg("Method not allowed", http.StatusMethodNotAllowed).write(resp, h.logger)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/deadletters/")
	eventID := strings.TrimSuffix(path, "/replay")

	if eventID == "" || eventID == path {
		NewResponseWriterFromErrMsg("Expected path /deadletters/{eventId}/replay", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	var req ReplayRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		NewResponseWriterFromError(NewResponseError(http.StatusBadRequest, errors.Wrap(err, "decoding replay request"))).write(resp, h.logger)
		return
	}

	if req.HandlerID == "" {
		NewResponseWriterFromErrMsg("Field 'handler_id' is required", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	p, err := h.tracker.Replay(r.Context(), eventID, req.HandlerID)

	if err != nil {
		NewResponseWriterFromError(NewResponseError(http.StatusConflict, err)).write(resp, h.logger)
		return
	}

	h.logger.WithFields(log.Fields{"eventId": eventID, "handler": req.HandlerID}).
		Log(log.InfoLevel, "dead letter scheduled for replay")

	NewResponseWriter(DeadLetter{
		EventID:        p.EventID,
		HandlerID:      p.HandlerID,
		Stream:         p.Stream,
		SequenceNumber: p.SequenceNumber,
		AttemptCount:   p.AttemptCount,
		LastError:      p.LastError,
	}, http.StatusOK).write(resp, h.logger)
}
