package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"modlink/config"
	"modlink/mqtt"
	"modlink/plcman"
	"modlink/push"
)

func testRouter(t *testing.T, connect bool) (chi.Router, *plcman.Service) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.PLC.RetryDelay = time.Microsecond

	service := plcman.NewService(cfg)
	if connect {
		if res := service.Connect("localhost", 502); !res.Success {
			t.Fatalf("connect: %s", res.Message)
		}
	}
	return NewRouter(service, cfg, nil), service
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestConnectEndpoint(t *testing.T) {
	router, _ := testRouter(t, false)

	rec := doJSON(t, router, "POST", "/plc/connect", ConnectRequest{IP: "localhost", Port: 502})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var result plcman.ConnectResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Errorf("connect failed: %s", result.Message)
	}
}

func TestConnectRequiresIP(t *testing.T) {
	router, _ := testRouter(t, false)

	rec := doJSON(t, router, "POST", "/plc/connect", ConnectRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := testRouter(t, true)

	rec := doJSON(t, router, "GET", "/plc/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var status plcman.StatusInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Connected {
		t.Error("should report connected")
	}
	if status.IP != "localhost" {
		t.Errorf("ip = %q", status.IP)
	}
}

func TestStatusWhenDisconnected(t *testing.T) {
	router, _ := testRouter(t, false)

	rec := doJSON(t, router, "GET", "/plc/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint should always answer, got %d", rec.Code)
	}
	var status plcman.StatusInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Connected {
		t.Error("should report disconnected")
	}
}

func TestStatusIncludesPublisherHealth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PLC.RetryDelay = time.Microsecond
	service := plcman.NewService(cfg)

	// A registered but never-started sink reports as not running.
	sinks := push.NewManager()
	sinks.Register(mqtt.NewPublisher(&cfg.MQTT, cfg.PLC.Scene))
	router := NewRouter(service, cfg, sinks)

	rec := doJSON(t, router, "GET", "/plc/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if len(status.Publishers) != 1 {
		t.Fatalf("publishers = %d, want 1", len(status.Publishers))
	}
	if status.Publishers[0].Name != "mqtt" {
		t.Errorf("publisher name = %q", status.Publishers[0].Name)
	}
	if status.Publishers[0].Running {
		t.Error("never-started sink should report not running")
	}
}

func TestIOEndpoint(t *testing.T) {
	router, _ := testRouter(t, true)

	rec := doJSON(t, router, "GET", "/plc/io", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var snap struct {
		Coils     map[string]bool   `json:"coils"`
		Inputs    map[string]bool   `json:"inputs"`
		Outputs   map[string]bool   `json:"outputs"`
		Registers map[string]uint16 `json:"registers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Coils) != 7 || len(snap.Inputs) != 8 || len(snap.Outputs) != 3 {
		t.Errorf("bands = %d/%d/%d, want 7/8/3", len(snap.Coils), len(snap.Inputs), len(snap.Outputs))
	}
	if len(snap.Registers) != 6 {
		t.Errorf("registers = %d, want 6", len(snap.Registers))
	}
}

func TestIONotConnected(t *testing.T) {
	router, _ := testRouter(t, false)

	rec := doJSON(t, router, "GET", "/plc/io", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when not connected", rec.Code)
	}
}

func TestWriteCoilEndpoint(t *testing.T) {
	router, service := testRouter(t, true)

	rec := doJSON(t, router, "POST", "/plc/write-coil", WriteCoilRequest{Address: 0, Value: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var result plcman.WriteCoilResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Name != "motor_running" {
		t.Errorf("result = %+v", result)
	}

	state, err := service.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if !state.MotorRunning {
		t.Error("write should be visible through the service")
	}
}

func TestWriteCoilValidation(t *testing.T) {
	router, _ := testRouter(t, true)

	rec := doJSON(t, router, "POST", "/plc/write-coil", WriteCoilRequest{Address: 10, Value: true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for read-only input coil", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] == "" {
		t.Error("error body should describe the failure")
	}
}

func TestWriteCoilNotConnected(t *testing.T) {
	router, _ := testRouter(t, false)

	rec := doJSON(t, router, "POST", "/plc/write-coil", WriteCoilRequest{Address: 0, Value: true})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestScanRejectsInvertedRange(t *testing.T) {
	router, _ := testRouter(t, false)

	rec := doJSON(t, router, "POST", "/setup/scan-network",
		ScanRequest{Subnet: "10.0.0", Start: 50, End: 10})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for start > end", rec.Code)
	}
}

func TestScanEndpoint(t *testing.T) {
	// Real listener so 127.0.0.1 probes as online.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	cfg := config.DefaultConfig()
	cfg.Scan.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.Scan.Timeout = 200 * time.Millisecond
	service := plcman.NewService(cfg)
	router := NewRouter(service, cfg, nil)

	rec := doJSON(t, router, "POST", "/setup/scan-network",
		ScanRequest{Subnet: "127.0.0", Start: 1, End: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
	if resp.OnlineCount != 1 || len(resp.Devices) != 1 {
		t.Fatalf("online = %d devices = %d, want 1/1", resp.OnlineCount, len(resp.Devices))
	}
	if resp.Devices[0].Address != "127.0.0.1" {
		t.Errorf("device = %s", resp.Devices[0].Address)
	}
	if resp.SubnetScanned != "127.0.0.1-1" {
		t.Errorf("subnet_scanned = %q", resp.SubnetScanned)
	}
}

func TestCORSMiddleware(t *testing.T) {
	router, _ := testRouter(t, false)
	handler := corsMiddleware(router)

	req := httptest.NewRequest("OPTIONS", "/plc/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}

func TestUnknownRoute(t *testing.T) {
	router, _ := testRouter(t, false)
	rec := doJSON(t, router, "GET", "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
