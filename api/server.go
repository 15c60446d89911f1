// Package api exposes the bus over HTTP: event publishing, saga status and
// control, dead-letter triage.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/openlims/labbus/log"
	"github.com/pkg/errors"
)

const DefaultAddress = ":8050"

type Server struct {
	srv    *http.Server
	logger log.Logger
}

func NewServer(logger log.Logger, address string, publish *PublishHandler, sagas *SagaHandler, deadLetters *DeadLetterHandler) *Server {
	if address == "" {
		address = DefaultAddress
	}

	m := http.NewServeMux()

	m.HandleFunc("/events/publish", publish.Publish)
	m.HandleFunc("/sagas", sagas.Sagas)
	m.HandleFunc("/sagas/", sagas.GetStatus)
	m.HandleFunc("/deadletters", deadLetters.List)
	m.HandleFunc("/deadletters/", deadLetters.Replay)

	return &Server{
		srv: &http.Server{
			Addr:              address,
			Handler:           m,
			ReadHeaderTimeout: time.Second * 5,
		},
		logger: logger,
	}
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	s.logger.Logf(log.InfoLevel, "started api server on %s", s.srv.Addr)

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "api server")
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Wrap(s.srv.Shutdown(ctx), "stopping api server")
}
