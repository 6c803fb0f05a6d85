package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/serialgw/internal/gateway"
	"github.com/danmuck/serialgw/internal/outbound"
	"github.com/danmuck/serialgw/internal/testutil/testlog"
)

type stubStatus struct {
	st gateway.Status
}

func (s stubStatus) Status() gateway.Status { return s.st }

func newTestServer(t *testing.T, state gateway.State) (*Server, *outbound.Queue) {
	t.Helper()
	out := outbound.NewQueue(outbound.DefaultCapacity)
	st := stubStatus{st: gateway.Status{GatewayID: "gw1", State: state, Framing: "cobs", FramesDecoded: 3}}
	return New(Config{SendTimeout: 50 * time.Millisecond}, st, out), out
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, gateway.StateListening)
	if w := do(t, s, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health status got=%d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Fatalf("ready status got=%d body=%s", w.Code, w.Body.String())
	}

	idle, _ := newTestServer(t, gateway.StateIdle)
	if w := do(t, idle, http.MethodGet, "/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("idle ready status got=%d", w.Code)
	}
}

func TestStatusReportsGatewaySnapshot(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, gateway.StateServing)
	w := do(t, s, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status got=%d", w.Code)
	}
	var st gateway.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.GatewayID != "gw1" || st.State != gateway.StateServing || st.FramesDecoded != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, gateway.StateListening)
	do(t, s, http.MethodGet, "/health", "")
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "serialgw_http_requests_total") {
		t.Fatalf("metrics got=%d body missing request counter", w.Code)
	}
}

func TestOutboundEnqueue(t *testing.T) {
	testlog.Start(t)
	s, out := newTestServer(t, gateway.StateServing)
	if w := do(t, s, http.MethodPost, "/outbound", `{"payload":"ping"}`); w.Code != http.StatusAccepted {
		t.Fatalf("text payload got=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodPost, "/outbound", `{"hex":"00ff10"}`); w.Code != http.StatusAccepted {
		t.Fatalf("hex payload got=%d body=%s", w.Code, w.Body.String())
	}
	first := <-out.C()
	second := <-out.C()
	if string(first.Payload) != "ping" || string(second.Payload) != "\x00\xff\x10" {
		t.Fatalf("unexpected packets: %q %q", first.Payload, second.Payload)
	}
}

func TestOutboundRejections(t *testing.T) {
	testlog.Start(t)
	s, out := newTestServer(t, gateway.StateServing)
	big := strings.Repeat("x", outbound.MaxPayloadBytes+1)
	cases := []struct {
		body string
		want int
	}{
		{`{"payload":"` + big + `"}`, http.StatusRequestEntityTooLarge},
		{`{"hex":"zz"}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := do(t, s, http.MethodPost, "/outbound", tc.body); w.Code != tc.want {
			t.Fatalf("body %.20q got=%d want=%d", tc.body, w.Code, tc.want)
		}
	}

	for i := 0; i < out.Cap(); i++ {
		if w := do(t, s, http.MethodPost, "/outbound", `{"payload":"x"}`); w.Code != http.StatusAccepted {
			t.Fatalf("fill %d got=%d", i, w.Code)
		}
	}
	if w := do(t, s, http.MethodPost, "/outbound", `{"payload":"y"}`); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("full queue got=%d", w.Code)
	}
}

func TestOutboundRequiresTokenWhenConfigured(t *testing.T) {
	testlog.Start(t)
	out := outbound.NewQueue(outbound.DefaultCapacity)
	s := New(Config{Token: "s3cret"}, stubStatus{}, out)

	if w := do(t, s, http.MethodPost, "/outbound", `{"payload":"ping"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token got=%d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/outbound", strings.NewReader(`{"payload":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted || out.Len() != 1 {
		t.Fatalf("authorized request got=%d queued=%d", w.Code, out.Len())
	}
	if w := do(t, s, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health should stay open, got=%d", w.Code)
	}
}
