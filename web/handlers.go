package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"xcomlink/family"
	"xcomlink/poller"
)

// StatusResponse is the JSON response for the gateway status.
type StatusResponse struct {
	Namespace    string `json:"namespace"`
	Transport    string `json:"transport"`
	Address      string `json:"address,omitempty"`
	Device       string `json:"device,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	LastPollTime string `json:"last_poll_time,omitempty"`
	ItemsPolled  int    `json:"items_polled"`
	ChangesFound int    `json:"changes_found"`
}

// WriteRequest is the JSON request for writing a parameter value.
type WriteRequest struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON response after writing a parameter value.
type WriteResponse struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// DatapointResponse is the JSON listing entry for a catalog datapoint.
type DatapointResponse struct {
	Nr      uint32            `json:"nr"`
	Name    string            `json:"name"`
	Family  string            `json:"family"`
	Level   string            `json:"level"`
	Unit    string            `json:"unit,omitempty"`
	Format  string            `json:"format"`
	Min     *float64          `json:"min,omitempty"`
	Max     *float64          `json:"max,omitempty"`
	Default *float64          `json:"default,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// FamilyResponse is the JSON listing entry for a device family.
type FamilyResponse struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	AddrStart uint32 `json:"addr_start"`
	AddrEnd   uint32 `json:"addr_end"`
}

// ConfigResponse is the sanitized configuration summary.
type ConfigResponse struct {
	Namespace string        `json:"namespace"`
	Transport string        `json:"transport"`
	Address   string        `json:"address,omitempty"`
	Device    string        `json:"device,omitempty"`
	Voltage   string        `json:"voltage"`
	PollRate  time.Duration `json:"poll_rate"`
	PollItems int           `json:"poll_items"`
	MQTT      int           `json:"mqtt_publishers"`
	Valkey    int           `json:"valkey_publishers"`
	Kafka     int           `json:"kafka_clusters"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.appCfg.Lock()
	resp := StatusResponse{
		Namespace: s.appCfg.Namespace,
		Transport: s.appCfg.Gateway.Transport,
		Address:   s.appCfg.Gateway.Address,
		Device:    s.appCfg.Gateway.Device,
	}
	s.appCfg.Unlock()

	resp.Status = s.poller.GetStatus().String()
	if err := s.poller.GetError(); err != nil {
		resp.Error = err.Error()
	}

	stats := s.poller.GetPollStats()
	if !stats.LastPollTime.IsZero() {
		resp.LastPollTime = stats.LastPollTime.UTC().Format(time.RFC3339)
	}
	resp.ItemsPolled = stats.ItemsPolled
	resp.ChangesFound = stats.ChangesFound

	s.writeJSON(w, resp)
}

func (s *Server) handleAllValues(w http.ResponseWriter, r *http.Request) {
	values := s.poller.Values()

	response := make(map[string]*poller.Reading, len(values))
	for name, reading := range values {
		response[name] = reading
	}

	s.writeJSON(w, response)
}

func (s *Server) handleSingleValue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	name, _ = url.PathUnescape(name)

	if reading := s.poller.Value(name); reading != nil {
		s.writeJSON(w, reading)
		return
	}

	// Not cached yet, read from the bus directly
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	reading, err := s.poller.ReadNow(ctx, name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, reading)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "missing item name")
		return
	}

	s.appCfg.Lock()
	item := s.appCfg.FindPoll(req.Name)
	s.appCfg.Unlock()
	if item == nil {
		resp := WriteResponse{
			Name:      req.Name,
			Value:     req.Value,
			Success:   false,
			Error:     "poll item not found",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		w.WriteHeader(http.StatusNotFound)
		s.writeJSON(w, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	writeErr := s.poller.Write(ctx, req.Name, req.Value)

	resp := WriteResponse{
		Name:      req.Name,
		Value:     req.Value,
		Success:   writeErr == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if writeErr != nil {
		resp.Error = writeErr.Error()
		w.WriteHeader(http.StatusInternalServerError)
	}

	s.writeJSON(w, resp)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.client.Diagnostics())
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	extended := r.URL.Query().Get("extended") == "1" || r.URL.Query().Get("extended") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	devices, err := s.discover.DiscoverDevices(ctx, extended)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.writeJSON(w, devices)
}

func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	families := family.List()
	response := make([]FamilyResponse, 0, len(families))
	for _, f := range families {
		response = append(response, FamilyResponse{
			ID:        f.ID,
			Model:     f.Model,
			AddrStart: f.AddrStart,
			AddrEnd:   f.AddrEnd,
		})
	}
	s.writeJSON(w, response)
}

func (s *Server) handleDatapoints(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "family")
	familyID, _ = url.PathUnescape(familyID)

	if _, err := family.ByID(familyID); err != nil {
		s.writeError(w, http.StatusNotFound, "unknown family: "+familyID)
		return
	}

	parent := 0
	if p := r.URL.Query().Get("parent"); p != "" {
		var err error
		parent, err = strconv.Atoi(p)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid parent: "+p)
			return
		}
	}

	items := s.dataset.MenuItems(parent, familyID)
	response := make([]DatapointResponse, 0, len(items))
	for _, dp := range items {
		response = append(response, DatapointResponse{
			Nr:      dp.Nr,
			Name:    dp.Name,
			Family:  dp.FamilyID,
			Level:   dp.Level.String(),
			Unit:    dp.Unit,
			Format:  string(dp.Format),
			Min:     dp.Min,
			Max:     dp.Max,
			Default: dp.Default,
			Options: dp.Options,
		})
	}
	s.writeJSON(w, response)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.appCfg.Lock()
	resp := ConfigResponse{
		Namespace: s.appCfg.Namespace,
		Transport: s.appCfg.Gateway.Transport,
		Address:   s.appCfg.Gateway.Address,
		Device:    s.appCfg.Gateway.Device,
		Voltage:   s.appCfg.Voltage,
		PollRate:  s.appCfg.PollRate,
		PollItems: len(s.appCfg.Poll),
		MQTT:      len(s.appCfg.MQTT),
		Valkey:    len(s.appCfg.Valkey),
		Kafka:     len(s.appCfg.Kafka),
	}
	s.appCfg.Unlock()

	s.writeJSON(w, resp)
}
