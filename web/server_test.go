package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"xcomlink/catalog"
	"xcomlink/config"
	"xcomlink/poller"
	"xcomlink/xcom"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	set, err := catalog.Load(catalog.Voltage240)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Namespace = "plant-1"
	cfg.Poll = []config.PollItem{
		{Name: "u_bat", Enabled: true, Nr: 3000, Family: "xt", Device: "XT1"},
	}

	client := xcom.NewClient(nil)
	p := poller.NewPoller(client, set, 0)

	return NewServer(&cfg.Web, cfg, client, p, set)
}

func request(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Namespace != "plant-1" {
		t.Errorf("namespace = %q", resp.Namespace)
	}
	if resp.Status != "Disconnected" {
		t.Errorf("status = %q, want Disconnected", resp.Status)
	}
}

func TestAllValuesEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, "GET", "/values", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]poller.Reading
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("values = %d, want 0 before any poll", len(resp))
	}
}

func TestSingleValueUnknown(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, "GET", "/values/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWriteValidation(t *testing.T) {
	s := newTestServer(t)

	t.Run("invalid json", func(t *testing.T) {
		rec := request(t, s, "POST", "/write", "{not json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		rec := request(t, s, "POST", "/write", `{"value":16}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown item", func(t *testing.T) {
		rec := request(t, s, "POST", "/write", `{"name":"nope","value":16}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
		var resp WriteResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Success {
			t.Error("write to unknown item reported success")
		}
	})
}

func TestDiagnosticsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, "GET", "/diagnostics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp xcom.Diagnostics
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Retries == nil || resp.Durations == nil {
		t.Error("diagnostics histograms missing")
	}
}

func TestFamiliesEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, "GET", "/families", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp []FamilyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 9 {
		t.Errorf("families = %d, want 9", len(resp))
	}

	found := false
	for _, f := range resp {
		if f.ID == "xt" && f.Model == "Xtender" && f.AddrStart == 101 && f.AddrEnd == 109 {
			found = true
		}
	}
	if !found {
		t.Error("xtender family missing from listing")
	}
}

func TestDatapointsEndpoint(t *testing.T) {
	s := newTestServer(t)

	t.Run("known family", func(t *testing.T) {
		rec := request(t, s, "GET", "/datapoints/xt", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp []DatapointResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	})

	t.Run("unknown family", func(t *testing.T) {
		rec := request(t, s, "GET", "/datapoints/zz", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("bad parent", func(t *testing.T) {
		rec := request(t, s, "GET", "/datapoints/xt?parent=abc", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestConfigEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, "GET", "/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp ConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Namespace != "plant-1" {
		t.Errorf("namespace = %q", resp.Namespace)
	}
	if resp.PollItems != 1 {
		t.Errorf("poll items = %d, want 1", resp.PollItems)
	}
	if resp.Voltage != "240 Vac" {
		t.Errorf("voltage = %q", resp.Voltage)
	}
}

func TestCORSPreflightAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, "OPTIONS", "/values", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}
