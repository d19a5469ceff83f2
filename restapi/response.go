/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package restapi contains helpers for writing JSON responses and errors of REST API.
package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-admission/log"
)

// ContentTypeAppJSON represents MIME media type for JSON.
const ContentTypeAppJSON = "application/json"

// HeaderRetryAfter is the header which tells clients how long to wait before retrying a rejected request.
const HeaderRetryAfter = "Retry-After"

// Does JSON marshaling with disabled HTML escaping
func jsonMarshal(v interface{}) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(v)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes()[:buffer.Len()-1], nil
}

// RespondJSON sends response with 200 HTTP status code, does JSON marshaling of data and writes result in response's body.
func RespondJSON(rw http.ResponseWriter, respData interface{}, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, http.StatusOK, respData, logger)
}

// RespondCodeAndJSON sends a response with the passed status code and sets the "Content-Type"
// to "application/json" if it's not already set. It performs JSON marshaling of the data and
// writes the result to the response's body.
func RespondCodeAndJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if respData == nil {
		rw.WriteHeader(statusCode)
		return
	}

	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", ContentTypeAppJSON)
	}

	respJSON, err := jsonMarshal(respData)
	if err != nil {
		if logger != nil {
			logger.Error("error while marshaling json for response body", log.Error(err))
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(statusCode)
	if _, err = rw.Write(respJSON); err != nil {
		if logger != nil {
			logger.Error("error while writing response body", log.Error(err))
		}
	}
}

// ErrorResponseData is used for answer on requests with error
type ErrorResponseData struct {
	Err *Error `json:"error"`
}

func (e *ErrorResponseData) Error() string {
	return fmt.Sprintf("HTTP error occurs: %v", e.Err)
}

// RespondError sets HTTP status code in response and writes wrapped error in body in JSON format.
// Also, it logs info (code and message) about error.
// Errors with 5xx status codes are logged at the error level, except 503 which is an expected
// outcome of admission control and is logged as a warning together with 4xx errors.
func RespondError(rw http.ResponseWriter, httpStatusCode int, err *Error, logger log.FieldLogger) {
	logAndCollectMetricsForError(err, httpStatusCode, logger)
	RespondCodeAndJSON(rw, httpStatusCode, ErrorResponseData{err}, logger)
}

// RespondInternalError sends response with 500 HTTP status code and internal error in body in JSON format.
func RespondInternalError(rw http.ResponseWriter, domain string, logger log.FieldLogger) {
	RespondError(rw, http.StatusInternalServerError, NewInternalError(domain), logger)
}

// RespondServerTooBusy sends response with 503 HTTP status code and serverTooBusy error in body in JSON format.
func RespondServerTooBusy(rw http.ResponseWriter, domain string, logger log.FieldLogger) {
	RespondError(rw, http.StatusServiceUnavailable, NewServerTooBusyError(domain), logger)
}

// SetRetryAfter sets the Retry-After header in seconds, rounding up. Non-positive durations are ignored.
func SetRetryAfter(rw http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	rw.Header().Set(HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
}

func logAndCollectMetricsForError(err *Error, httpStatusCode int, logger log.FieldLogger) {
	incResponseErrors(err, httpStatusCode)
	if logger == nil {
		return
	}
	flds := []log.Field{
		log.String("error_code", err.Code),
		log.String("error_message", err.Message),
		log.Int("status", httpStatusCode),
	}
	if err.Context != nil {
		ctxLines := make([]string, 0, len(err.Context))
		for k, v := range err.Context {
			ctxLines = append(ctxLines, fmt.Sprintf("%s: %v", k, v))
		}
		flds = append(flds, log.Strings("error_context", ctxLines))
	}
	if httpStatusCode >= http.StatusInternalServerError && httpStatusCode != http.StatusServiceUnavailable {
		logger.Error("error in response", flds...)
		return
	}
	logger.Warn("error in response", flds...)
}
