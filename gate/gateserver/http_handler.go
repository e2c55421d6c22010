package gateserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xiaonanln/hubgate/gate"
	"github.com/xiaonanln/hubgate/runtimecfg"
	"github.com/xiaonanln/hubgate/util/callcontext"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// HubOutputResponse is returned by POST /api/hub/{hubId}/output
type HubOutputResponse struct {
	OK      bool   `json:"ok"`
	HubID   string `json:"hubId"`
	Side    string `json:"side"`
	Level   int    `json:"level"`
	Enabled bool   `json:"enabled"`
	Routed  bool   `json:"routed"`
}

// ReaderOutputResponse is returned by POST /api/reader/{readerId}/output
type ReaderOutputResponse struct {
	OK       bool   `json:"ok"`
	ReaderID string `json:"readerId"`
	Level    int    `json:"level"`
	Enabled  bool   `json:"enabled"`
	Routed   bool   `json:"routed"`
}

// ConfigResponse is returned by GET and POST /api/config
type ConfigResponse struct {
	OK         bool              `json:"ok"`
	RuntimeCfg runtimecfg.Config `json:"runtimeCfg"`
}

// HubsResponse is returned by GET /api/hubs
type HubsResponse struct {
	OK   bool             `json:"ok"`
	Hubs []gate.HubStatus `json:"hubs"`
}

// HTTPErrorResponse represents an error response
type HTTPErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// setupHTTPRoutes configures HTTP routes for the gate server
func (s *GateServer) setupHTTPRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Commands
	mux.HandleFunc("POST /api/hub/{hubId}/output", s.handleHubOutput)
	mux.HandleFunc("POST /api/reader/{readerId}/output", s.handleReaderOutput)

	// Runtime configuration
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleSetConfig)

	// Status
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/hubs", s.handleHubs)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Hub and reader connections
	mux.HandleFunc("GET "+s.config.WSPath, s.handleWebSocket)

	return mux
}

// handleHubOutput handles HTTP POST /api/hub/{hubId}/output
func (s *GateServer) handleHubOutput(w http.ResponseWriter, r *http.Request) {
	hubID := r.PathValue("hubId")
	if hubID == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_PARAMETERS", "Hub ID must not be empty")
		return
	}

	body, ok := s.readJSONObject(w, r)
	if !ok {
		return
	}

	setting, err := gate.ParseOutputRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_OUTPUT", err.Error())
		return
	}

	side, _ := body["side"].(string)
	res, err := s.gate.IssueHubOutput(hubID, side, setting)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, HubOutputResponse{
		OK:      true,
		HubID:   res.HubID,
		Side:    string(res.Side),
		Level:   res.Level,
		Enabled: res.Enabled,
		Routed:  res.Routed,
	})
}

// handleReaderOutput handles HTTP POST /api/reader/{readerId}/output
func (s *GateServer) handleReaderOutput(w http.ResponseWriter, r *http.Request) {
	readerID := r.PathValue("readerId")
	if readerID == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_PARAMETERS", "Reader ID must not be empty")
		return
	}

	body, ok := s.readJSONObject(w, r)
	if !ok {
		return
	}

	setting, err := gate.ParseOutputRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_OUTPUT", err.Error())
		return
	}

	res, err := s.gate.IssueReaderOutput(readerID, setting)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ReaderOutputResponse{
		OK:       true,
		ReaderID: res.ReaderID,
		Level:    res.Level,
		Enabled:  res.Enabled,
		Routed:   res.Routed,
	})
}

func (s *GateServer) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrInvalidSide):
		s.writeError(w, http.StatusBadRequest, "INVALID_SIDE", err.Error())
	case errors.Is(err, gate.ErrInvalidOutput):
		s.writeError(w, http.StatusBadRequest, "INVALID_OUTPUT", err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "COMMAND_FAILED", err.Error())
	}
}

// handleGetConfig handles HTTP GET /api/config
func (s *GateServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ConfigResponse{OK: true, RuntimeCfg: s.runtime.Get()})
}

// handleSetConfig handles HTTP POST /api/config
func (s *GateServer) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readJSONObject(w, r)
	if !ok {
		return
	}
	ctx := callcontext.WithOrigin(r.Context(), "http:"+r.RemoteAddr)
	cfg := s.runtime.Set(ctx, runtimecfg.PartialFromMap(body))
	s.writeJSON(w, http.StatusOK, ConfigResponse{OK: true, RuntimeCfg: cfg})
}

// handleHealth handles HTTP GET /health
func (s *GateServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gate.Health())
}

// handleHubs handles HTTP GET /api/hubs
func (s *GateServer) handleHubs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HubsResponse{OK: true, Hubs: s.gate.Liveness().Snapshot(s.gate.Now())})
}

// readJSONObject decodes the request body as a JSON object, writing a 400
// and returning false if it is not one.
func (s *GateServer) readJSONObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", fmt.Sprintf("Failed to read request body: %v", err))
		return nil, false
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", fmt.Sprintf("Failed to parse JSON: %v", err))
		return nil, false
	}
	if body == nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Body must be a JSON object")
		return nil, false
	}
	return body, true
}

// writeJSON writes a JSON response with the given status code
func (s *GateServer) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeError writes an error response in JSON format
func (s *GateServer) writeError(w http.ResponseWriter, statusCode int, code string, message string) {
	errResp := HTTPErrorResponse{
		Error: message,
		Code:  code,
	}
	s.writeJSON(w, statusCode, errResp)
}
