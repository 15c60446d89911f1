package api

import (
	"encoding/json"
	"net/http"

	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/stream"
	"github.com/pkg/errors"
)

type PublishRequest struct {
	Stream        string                 `json:"stream"`
	EventType     string                 `json:"event_type"`
	Payload       map[string]interface{} `json:"payload"`
	Source        string                 `json:"source,omitempty"`
	Version       string                 `json:"version,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	CausationID   string                 `json:"causation_id,omitempty"`
	Metadata      stream.Metadata        `json:"metadata,omitempty"`
}

type PublishHandler struct {
	publisher stream.Publisher
	logger    log.Logger
}

func NewPublishHandler(logger log.Logger, publisher stream.Publisher) *PublishHandler {
	return &PublishHandler{publisher: publisher, logger: logger}
}

func (h *PublishHandler) Publish(resp http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		NewResponseWriterFromErrMsg("Method not allowed", http.StatusMethodNotAllowed).write(resp, h.logger)
		return
	}

	var req PublishRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		NewResponseWriterFromError(NewResponseError(http.StatusBadRequest, errors.Wrap(err, "decoding publish request"))).write(resp, h.logger)
		return
	}

	if req.Stream == "" || req.EventType == "" {
		NewResponseWriterFromErrMsg("Fields 'stream' and 'event_type' are required", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	var opts []stream.EventOption

	if req.Source != "" {
		opts = append(opts, stream.WithSource(req.Source))
	}

	if req.Version != "" {
		opts = append(opts, stream.WithVersion(req.Version))
	}

	if req.CorrelationID != "" {
		opts = append(opts, stream.WithCorrelationID(req.CorrelationID))
	}

	if req.CausationID != "" {
		opts = append(opts, stream.WithCausationID(req.CausationID))
	}

	if req.Metadata != nil {
		opts = append(opts, stream.WithMetadata(req.Metadata))
	}

	ev, err := h.publisher.Publish(r.Context(), req.Stream, req.EventType, req.Payload, opts...)

	if err != nil {
		if stream.IsUnknownStreamErr(err) {
			NewResponseWriterFromError(NewResponseError(http.StatusNotFound, err)).write(resp, h.logger)
			return
		}

		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(ev, http.StatusCreated).write(resp, h.logger)
}
