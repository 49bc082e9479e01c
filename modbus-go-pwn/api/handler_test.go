package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-tools/modbus-go-pwn/assess"
	"modbus-tools/modbus-go-pwn/client"
	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-server/server"
)

type testEnv struct {
	router *gin.Engine
	lab    *server.Server
	host   string
	port   int
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	lab := server.NewServer(log, []uint8{1})
	require.NoError(t, lab.ListenTCP(addr))
	t.Cleanup(lab.Stop)

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	timing := config.DefaultTiming()
	timing.ChunkDelay = time.Millisecond
	timing.DiscoveryDelay = 0
	timing.JoinTimeout = time.Second

	a := assess.NewAssessor(client.DialTCP, timing, log)
	dos := assess.NewDosOrchestrator(client.DialTCP, timing, log)
	t.Cleanup(func() { dos.Stop() })
	h := NewHandler(assess.NewSessionManager(a, log), a, dos, log)
	return &testEnv{router: NewRouter(h, log), lab: lab, host: host, port: port}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (e *testEnv) target(extra map[string]any) map[string]any {
	body := map[string]any{"ip": e.host, "port": e.port}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestScanValidation(t *testing.T) {
	env := newEnv(t)
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing ip", map[string]any{"scan_registers": true}},
		{"end before start", env.target(map[string]any{"start_address": 10, "end_address": 5, "scan_registers": true})},
		{"span too large", env.target(map[string]any{"start_address": 0, "end_address": 10001, "scan_registers": true})},
		{"nothing selected", env.target(nil)},
		{"bad port", map[string]any{"ip": "127.0.0.1", "port": 70000, "scan_coils": true}},
		{"bad slave id", env.target(map[string]any{"slave_id": 300, "scan_coils": true})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, out := env.do(t, http.MethodPost, "/scan", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", out["status"])
		})
	}
}

func TestScanLifecycle(t *testing.T) {
	env := newEnv(t)
	env.lab.SetHoldingRegister(3, 42)
	env.lab.SetCoil(1, true)

	_, idle := env.do(t, http.MethodGet, "/scan_results", nil)
	assert.Equal(t, map[string]any{"status": "no_results", "message": "No scan results available"}, idle)

	code, out := env.do(t, http.MethodPost, "/scan", env.target(map[string]any{
		"start_address": 0, "end_address": 9, "scan_registers": true, "scan_coils": true,
		"discover_slave_ids": true, "slave_id_start": 1, "slave_id_end": 3,
	}))
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "started", out["status"])
	assert.NotEmpty(t, out["scan_id"])

	require.Eventually(t, func() bool {
		_, status := env.do(t, http.MethodGet, "/scan_status", nil)
		return status["status"] == "completed"
	}, 10*time.Second, 20*time.Millisecond)

	_, res := env.do(t, http.MethodGet, "/scan_results", nil)
	assert.Equal(t, "completed", res["status"])
	assert.Equal(t, []any{float64(1)}, res["discovered_slave_ids"])
	hr := res["Holding Registers"].(map[string]any)
	assert.Len(t, hr, 10)
	assert.Equal(t, float64(42), hr["3"])
	assert.Equal(t, true, res["Coils"].(map[string]any)["1"])
	assert.Equal(t, true, res["modbus_check"].(map[string]any)["available"])

	_, stop := env.do(t, http.MethodPost, "/stop_scan", nil)
	assert.Equal(t, "not_running", stop["status"])
}

func TestModbusTest(t *testing.T) {
	env := newEnv(t)
	code, out := env.do(t, http.MethodPost, "/modbus_test", env.target(nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["modbus_available"])
	assert.Equal(t, assess.MsgResponding, out["message"])
}

func TestExploitEndpoint(t *testing.T) {
	env := newEnv(t)
	code, out := env.do(t, http.MethodPost, "/exploit", env.target(map[string]any{
		"write_register": true, "register_address": 40, "register_value": 1234,
		"write_coil": true, "coil_address": 5, "coil_value": "true",
	}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, map[string]any{"address": float64(40), "value": float64(1234), "status": "Success", "details": ""}, out["Write Register"])
	assert.Equal(t, "Success", out["Write Coil"].(map[string]any)["status"])
	assert.Equal(t, uint16(1234), env.lab.HoldingRegister(40))
	assert.True(t, env.lab.Coil(5))

	code, _ = env.do(t, http.MethodPost, "/exploit", env.target(nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDosEndpoints(t *testing.T) {
	env := newEnv(t)

	_, status := env.do(t, http.MethodGet, "/dos_status", nil)
	assert.Equal(t, "stopped", status["status"])

	code, _ := env.do(t, http.MethodPost, "/dos_attack", env.target(nil))
	assert.Equal(t, http.StatusBadRequest, code)

	code, out := env.do(t, http.MethodPost, "/dos_attack", env.target(map[string]any{
		"dos_write_register": true, "dos_register_address": 7, "intensity": 2, "rate": 20,
	}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "started", out["status"])
	_, status = env.do(t, http.MethodGet, "/dos_status", nil)
	assert.Equal(t, "running", status["status"])

	time.Sleep(200 * time.Millisecond)
	_, stop := env.do(t, http.MethodPost, "/stop_dos_attack", nil)
	assert.Equal(t, "stopping", stop["status"])
	report := stop["report"].(map[string]any)
	assert.Equal(t, "completed", report["status"])
	assert.Len(t, report["attack_results"], 2)

	_, stop = env.do(t, http.MethodPost, "/stop_dos_attack", nil)
	assert.Equal(t, "not_running", stop["status"])

	code, out = env.do(t, http.MethodPost, "/dos_attack", env.target(map[string]any{
		"dos_write_coil": true, "dos_coil_address": 2, "intensity": 1, "rate": 10, "duration": 1,
	}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", out["status"])
	workers := out["attack_results"].(map[string]any)
	require.Contains(t, workers, "coil_worker_0")
	assert.Greater(t, workers["coil_worker_0"].(map[string]any)["requests"], float64(0))
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	code, out := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}
