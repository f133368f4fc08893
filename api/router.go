package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"modlink/config"
	"modlink/driver"
	"modlink/logging"
	"modlink/plcman"
	"modlink/push"
	"modlink/scan"
)

// ConnectRequest is the JSON request for connecting to a controller.
type ConnectRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// WriteCoilRequest is the JSON request for writing a coil.
type WriteCoilRequest struct {
	Address uint16 `json:"address"`
	Value   bool   `json:"value"`
}

// ScanRequest is the JSON request for a network scan.
type ScanRequest struct {
	Subnet  string  `json:"subnet"`
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Timeout float64 `json:"timeout"` // seconds
}

// ScanResponse is the JSON response for a network scan.
type ScanResponse struct {
	Devices         []scan.Device `json:"devices"`
	Count           int           `json:"count"`
	OnlineCount     int           `json:"online_count"`
	ScanTimeSeconds float64       `json:"scan_time_seconds"`
	SubnetScanned   string        `json:"subnet_scanned"`
}

// StatusResponse is the JSON response for a status request: the
// connection status plus the health of every configured publisher.
type StatusResponse struct {
	plcman.StatusInfo
	Publishers []push.SinkInfo `json:"publishers,omitempty"`
}

// handlers holds the API handler functions.
type handlers struct {
	service *plcman.Service
	cfg     *config.Config
	sinks   *push.Manager
}

// NewRouter creates the REST API router. sinks may be nil when no
// publishers are configured.
func NewRouter(service *plcman.Service, cfg *config.Config, sinks *push.Manager) chi.Router {
	r := chi.NewRouter()
	h := &handlers{service: service, cfg: cfg, sinks: sinks}

	r.Route("/plc", func(r chi.Router) {
		r.Post("/connect", h.handleConnect)
		r.Get("/status", h.handleStatus)
		r.Get("/io", h.handleIO)
		r.Post("/write-coil", h.handleWriteCoil)
	})

	r.Route("/setup", func(r chi.Router) {
		r.Post("/scan-network", h.handleScanNetwork)
	})

	return r
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *handlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IP == "" {
		h.writeError(w, http.StatusBadRequest, "ip is required")
		return
	}

	logging.DebugLog("api", "connect request for %s:%d", req.IP, req.Port)
	result := h.service.Connect(req.IP, req.Port)
	h.writeJSON(w, result)
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{StatusInfo: h.service.Status()}
	if h.sinks != nil {
		resp.Publishers = h.sinks.Info()
	}
	h.writeJSON(w, resp)
}

func (h *handlers) handleIO(w http.ResponseWriter, r *http.Request) {
	if !h.service.IsConnected() {
		h.writeError(w, http.StatusServiceUnavailable,
			"not connected to PLC; use POST /plc/connect first")
		return
	}

	snap, err := h.service.ReadAllIO()
	if err != nil {
		switch {
		case driver.IsConnectionError(err):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("I/O read failed: %v", err))
		}
		return
	}

	h.writeJSON(w, snap)
}

func (h *handlers) handleWriteCoil(w http.ResponseWriter, r *http.Request) {
	var req WriteCoilRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.service.IsConnected() {
		h.writeError(w, http.StatusServiceUnavailable,
			"not connected to PLC; use POST /plc/connect first")
		return
	}

	result, err := h.service.WriteCoil(req.Address, req.Value)
	if err != nil {
		switch {
		case driver.IsValidationError(err):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case driver.IsConnectionError(err):
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("write failed: %v", err))
		}
		return
	}

	h.writeJSON(w, result)
}

func (h *handlers) handleScanNetwork(w http.ResponseWriter, r *http.Request) {
	// Defaults match the scanner's documented configuration surface.
	req := ScanRequest{
		Subnet: "192.168.1",
		Start:  1,
		End:    254,
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	// Reject before scanning.
	if req.Start > req.End {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("start (%d) must be <= end (%d)", req.Start, req.End))
		return
	}

	timeout := h.cfg.Scan.Timeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}

	scanner := scan.NewScanner(timeout, h.cfg.Scan.Port, h.cfg.Scan.Workers)
	devices, count, elapsed := scanner.OnlineDevices(req.Subnet, req.Start, req.End)

	h.writeJSON(w, ScanResponse{
		Devices:         devices,
		Count:           count,
		OnlineCount:     len(devices),
		ScanTimeSeconds: float64(elapsed.Round(10*time.Millisecond)) / float64(time.Second),
		SubnetScanned:   fmt.Sprintf("%s.%d-%d", req.Subnet, req.Start, req.End),
	})
}
