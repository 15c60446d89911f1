package api

import (
	"encoding/json"
	"net/http"

	"github.com/openlims/labbus/log"
)

type ResponseError struct {
	error
	status int
}

//Status returns http status code
func (e ResponseError) Status() int {
	return e.status
}

func NewResponseError(status int, err error) ResponseError {
	return ResponseError{status: status, error: err}
}

type responseWriter struct {
	body   interface{}
	status int
}

func NewResponseWriter(body interface{}, status int) *responseWriter {
	return &responseWriter{
		body:   body,
		status: status,
	}
}

func NewResponseWriterFromError(err error) *responseWriter {
	if respErr, ok := err.(ResponseError); ok {
		return &responseWriter{
			body:   respErr,
			status: respErr.Status(),
		}
	}

	return &responseWriter{
		body:   err,
		status: http.StatusInternalServerError,
	}
}

func NewResponseWriterFromErrMsg(errMsg string, status int) *responseWriter {
	return NewResponseWriterFromError(NewResponseError(status, errorString(errMsg)))
}

type errorString string

func (e errorString) Error() string {
	return string(e)
}

func (rw *responseWriter) encode() ([]byte, error) {
	var (
		respBody []byte
		err      error
	)

	if respErr, ok := rw.body.(error); ok {
		respBody = []byte(respErr.Error())
	} else {
		respBody, err = json.Marshal(rw.body)
	}

	return respBody, err
}

func (rw *responseWriter) write(resp http.ResponseWriter, logger log.Logger) {
	respBody, err := rw.encode()
	if err != nil {
		logger.Log(log.ErrorLevel, err)
		resp.WriteHeader(http.StatusInternalServerError)
		return
	}

	resp.Header().Set("Content-Type", "application/json")

	resp.WriteHeader(rw.status)

	if _, err = resp.Write(respBody); err != nil {
		logger.Log(log.ErrorLevel, err)
	}
}
