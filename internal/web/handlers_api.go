package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/entity"
	"ubibot-go-home/internal/store"
)

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	coords := s.manager.Coordinators()
	healthy := 0
	for _, c := range coords {
		if c.LastError() == nil {
			healthy++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":  s.version,
		"channels": len(coords),
		"healthy":  healthy,
	})
}

func (s *Server) handleAPIListChannels(w http.ResponseWriter, r *http.Request) {
	coords := s.manager.Coordinators()
	out := make([]map[string]any, 0, len(coords))
	for _, c := range coords {
		out = append(out, coordinator.Describe(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetChannel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.manager.Coordinator(r.PathValue("id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not found"})
		return
	}
	snap, ok := c.Snapshot()
	if !ok {
		s.writeJSON(w, http.StatusOK, coordinator.Describe(c))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAPIChannelFields(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	c, ok := s.manager.Coordinator(channelID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not found"})
		return
	}

	type fieldView struct {
		Field       string `json:"field"`
		Label       string `json:"label"`
		Unit        string `json:"unit,omitempty"`
		DeviceClass string `json:"device_class,omitempty"`
		Enabled     bool   `json:"enabled"`
		Value       any    `json:"value,omitempty"`
	}

	sensors := entity.BuildFieldSensors(c, s.manager.SelectedFields(channelID))
	out := make([]fieldView, 0, len(sensors))
	for _, sensor := range sensors {
		fv := fieldView{
			Field:       sensor.FieldKey(),
			Label:       sensor.Label(),
			Unit:        sensor.Unit(),
			DeviceClass: string(sensor.DeviceClass()),
			Enabled:     sensor.EnabledDefault(),
		}
		if v, ok := sensor.Value(); ok {
			fv.Value = v
		}
		out = append(out, fv)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIRefreshChannel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.manager.Coordinator(r.PathValue("id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not found"})
		return
	}
	c.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

type setIntervalRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) handleAPISetInterval(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	number, ok := s.entities.Number(channelID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not found"})
		return
	}

	var req setIntervalRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	applied := number.SetValue(req.Seconds)
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "seconds": applied})
}

type switchRequest struct {
	State string `json:"state"` // "on" or "off"
}

func (s *Server) handleAPISwitch(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	if _, ok := s.manager.Coordinator(channelID); !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not found"})
		return
	}
	sw, ok := s.entities.Switch(channelID)
	if !ok {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "channel is not a switchable device"})
		return
	}

	var req switchRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var err error
	switch req.State {
	case "on", "ON":
		err = sw.TurnOn(r.Context())
	case "off", "OFF":
		err = sw.TurnOff(r.Context())
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state must be on or off"})
		return
	}
	if err != nil {
		s.logger.Error("switch command", "channel", channelID, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": req.State})
}

type applyOptionsRequest struct {
	Channels  []store.ChannelRef  `json:"channels"`
	SensorMap map[string][]string `json:"sensor_map"`
}

func (s *Server) handleAPIApplyOptions(w http.ResponseWriter, r *http.Request) {
	var req applyOptionsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Channels) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channels must not be empty"})
		return
	}

	if err := s.manager.ApplyOptions(r.Context(), req.Channels, req.SensorMap); err != nil {
		if errors.Is(err, coordinator.ErrNotReady) {
			s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("apply options", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "channels": len(req.Channels)})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
