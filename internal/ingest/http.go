package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

const transportHTTP = "http"

// HTTPHandler decodes Redfish event payloads and routes each event.
// Params: processor, max body size, optional observer, and logger.
// Returns: HTTP handler for ingest endpoint.
type HTTPHandler struct {
	processor   Processor
	maxBodySize int64
	observer    Observer
	logger      *slog.Logger
}

// NewHTTPHandler creates ingest HTTP handler.
// Params: processor, max request body size in bytes, optional observer, and logger.
// Returns: configured handler.
func NewHTTPHandler(processor Processor, maxBodySize int64, observer Observer, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{processor: processor, maxBodySize: maxBodySize, observer: observer, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles one incoming event delivery.
// Params: HTTP request/response writer pair.
// Returns: 202 with per-event decisions, 400 on malformed or fully invalid payload, 503 when dispatch is saturated.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writeJSON(writer, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.observe(resultInvalid)
		writeJSON(writer, status, errorResponse{Error: err.Error()})
		return
	}

	events, err := DecodePayload(body)
	if err != nil {
		h.logger.Warn("http ingest decode failed", "remote", request.RemoteAddr, "error", err.Error())
		h.observe(resultInvalid)
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	summary := processAll(request.Context(), h.processor, events)
	switch {
	case summary.Unavailable:
		h.observe(resultUnavailable)
		writer.Header().Set("Retry-After", "1")
		writeJSON(writer, http.StatusServiceUnavailable, summary)
	case summary.Rejected == len(events):
		h.observe(resultInvalid)
		writeJSON(writer, http.StatusBadRequest, summary)
	default:
		h.observe(resultAccepted)
		writeJSON(writer, http.StatusAccepted, summary)
	}
}

func (h *HTTPHandler) observe(result string) {
	if h.observer != nil {
		h.observer.ObserveIngest(transportHTTP, result)
	}
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
