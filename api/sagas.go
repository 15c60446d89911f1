package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/saga"
	"github.com/pkg/errors"
)

type StartSagaRequest struct {
	Definition    string                 `json:"definition"`
	Context       map[string]interface{} `json:"context"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	ParentID      string                 `json:"parent_id,omitempty"`
}

type StartSagaResponse struct {
	SagaUID string `json:"saga_uid"`
	Status  string `json:"status"`
}

type SagaBatch struct {
	Total int          `json:"total"`
	Items []SagaStatus `json:"items"`
}

type SagaStatus struct {
	SagaUID       string           `json:"saga_uid"`
	ParentUID     string           `json:"parent_uid,omitempty"`
	Definition    string           `json:"definition"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Status        string           `json:"status"`
	CurrentStep   int              `json:"current_step"`
	LastError     string           `json:"last_error,omitempty"`
	Steps         []saga.StepState `json:"steps"`
	Events        []SagaEvent      `json:"events"`
}

type SagaEvent struct {
	saga.HistoryEvent
}

//go:generate mockgen --build_flags=--mod=mod -destination ./mock_test.go -package api . SagaService

type Pagination struct {
	Offset int
	Limit  int
}

type Filters struct {
	SagaID        string
	Definition    string
	Status        string
	CorrelationID string
}

// SagaService is the API-facing view over saga orchestration
type SagaService interface {
	Start(ctx context.Context, req *StartSagaRequest) (*StartSagaResponse, error)
	GetStatus(ctx context.Context, sagaUID string) (*SagaStatus, error)
	GetFilteredBy(ctx context.Context, filters *Filters, pagination *Pagination) (*SagaBatch, error)
}

func NewSagaService(orchestrator *saga.Orchestrator, store saga.Store, logger log.Logger) SagaService {
	return &sagaService{orchestrator: orchestrator, sagaStore: store, logger: logger}
}

type sagaService struct {
	orchestrator *saga.Orchestrator
	sagaStore    saga.Store
	logger       log.Logger
}

func (s *sagaService) Start(ctx context.Context, req *StartSagaRequest) (*StartSagaResponse, error) {
	var opts []saga.InstanceOption

	if req.ParentID != "" {
		opts = append(opts, saga.WithParentID(req.ParentID))
	}

	instance, err := s.orchestrator.Start(ctx, req.Definition, req.Context, req.CorrelationID, opts...)

	if err != nil {
		return nil, NewResponseError(http.StatusBadRequest, err)
	}

	// the saga advances in the background, the caller polls GET /sagas/{id}
	go func() {
		if err := s.orchestrator.Run(context.Background(), instance.UID()); err != nil {
			s.logger.Logf(log.ErrorLevel, "running saga %s: %s", instance.UID(), err)
		}
	}()

	return &StartSagaResponse{SagaUID: instance.UID(), Status: instance.Status().String()}, nil
}

func (s *sagaService) GetStatus(ctx context.Context, sagaUID string) (*SagaStatus, error) {
	instance, err := s.sagaStore.GetByID(ctx, sagaUID)

	if err != nil {
		return nil, errors.Wrapf(err, "loading saga %s", sagaUID)
	}

	if instance == nil {
		return nil, NewResponseError(http.StatusNotFound, errors.Errorf("saga %s not found", sagaUID))
	}

	return sagaStatusOf(instance), nil
}

func (s *sagaService) GetFilteredBy(ctx context.Context, filters *Filters, pagination *Pagination) (*SagaBatch, error) {
	var opts []saga.FilterOption

	if filters.SagaID != "" {
		opts = append(opts, saga.WithSagaUID(filters.SagaID))
	}

	if filters.Status != "" {
		opts = append(opts, saga.WithStatus(filters.Status))
	}

	if filters.Definition != "" {
		opts = append(opts, saga.WithDefinitionName(filters.Definition))
	}

	if filters.CorrelationID != "" {
		opts = append(opts, saga.WithCorrelationID(filters.CorrelationID))
	}

	if len(opts) == 0 && pagination == nil {
		return nil, NewResponseError(http.StatusBadRequest, errors.New("Either filters or pagination must be specified"))
	}

	if pagination != nil {
		opts = append(opts, saga.WithOffsetAndLimit(pagination.Offset, pagination.Limit))
	}

	batch, err := s.sagaStore.GetByFilter(ctx, opts...)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	statuses := make([]SagaStatus, len(batch.Items))

	for i, instance := range batch.Items {
		statuses[i] = *sagaStatusOf(instance)
	}

	return &SagaBatch{
		Total: batch.Total,
		Items: statuses,
	}, nil
}

func sagaStatusOf(instance *saga.Instance) *SagaStatus {
	events := make([]SagaEvent, len(instance.HistoryEvents()))

	for i, ev := range instance.HistoryEvents() {
		events[i] = SagaEvent{ev}
	}

	return &SagaStatus{
		SagaUID:       instance.UID(),
		ParentUID:     instance.ParentID(),
		Definition:    instance.Definition().Name,
		CorrelationID: instance.CorrelationID(),
		Status:        instance.Status().String(),
		CurrentStep:   instance.CurrentStep(),
		LastError:     instance.LastError(),
		Steps:         instance.StepStates(),
		Events:        events,
	}
}

type SagaHandler struct {
	service SagaService
	logger  log.Logger
}

func NewSagaHandler(logger log.Logger, service SagaService) *SagaHandler {
	return &SagaHandler{service: service, logger: logger}
}

// Sagas dispatches /sagas: POST starts a saga, GET lists by filters
func (h *SagaHandler) Sagas(resp http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.start(resp, r)
	case http.MethodGet:
		h.getFilteredBy(resp, r)
	default:
		NewResponseWriterFromErrMsg("Method not allowed", http.StatusMethodNotAllowed).write(resp, h.logger)
	}
}

func (h *SagaHandler) GetStatus(resp http.ResponseWriter, r *http.Request) {
	sagaUID := strings.TrimPrefix(r.URL.Path, "/sagas/")

	if sagaUID == "" {
		NewResponseWriterFromErrMsg("Saga id is empty", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	statusResp, err := h.service.GetStatus(r.Context(), sagaUID)

	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(statusResp, http.StatusOK).write(resp, h.logger)
}

func (h *SagaHandler) start(resp http.ResponseWriter, r *http.Request) {
	var req StartSagaRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		NewResponseWriterFromError(NewResponseError(http.StatusBadRequest, errors.Wrap(err, "decoding start request"))).write(resp, h.logger)
		return
	}

	if req.Definition == "" {
		NewResponseWriterFromErrMsg("Field 'definition' is required", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	startResp, err := h.service.Start(r.Context(), &req)

	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(startResp, http.StatusCreated).write(resp, h.logger)
}

func (h *SagaHandler) getFilteredBy(resp http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		filters    Filters
		pagination *Pagination
	)

	filters.SagaID = query.Get("sagaId")
	filters.Status = query.Get("status")
	filters.Definition = query.Get("definition")
	filters.CorrelationID = query.Get("correlationId")

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

	if (offset == nil) != (limit == nil) {
		NewResponseWriterFromErrMsg("Query params 'offset' and 'limit' must be specified together", http.StatusBadRequest).write(resp, h.logger)
		return
	}

	if limit != nil && offset != nil {
		pagination = &Pagination{
			Offset: *offset,
			Limit:  *limit,
		}
	}

	statusesResp, err := h.service.GetFilteredBy(r.Context(), &filters, pagination)

	if err != nil {
		NewResponseWriterFromError(err).write(resp, h.logger)
		return
	}

	NewResponseWriter(statusesResp, http.StatusOK).write(resp, h.logger)
}

func getInt(values url.Values, paramName string) (*int, error) {
	paramValue := values.Get(paramName)
	if paramValue != "" {
		intValue, err := strconv.Atoi(paramValue)
		if err != nil {
			return nil, NewResponseError(http.StatusBadRequest, errors.Errorf("Query parameter '%s' is expected to be an integer", paramName))
		}

		return &intValue, nil
	}

	return nil, nil
}
