package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/middleware"
	"github.com/patrickwarner/videoadserve/internal/models"
)

const (
	maxEventsBody   = 1 << 20
	maxEventsPerReq = 500
)

type eventsResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// EventsHandler handles POST /events carrying a JSON array of interaction
// events reported directly by players.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "events"
	const method = "POST"

	var events []models.InteractionEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventsBody)).Decode(&events); err != nil {
		logger.Warn("invalid events body", zap.Error(err))
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(events) > maxEventsPerReq {
		s.observe(endpoint, method, http.StatusRequestEntityTooLarge, start)
		http.Error(w, "too many events", http.StatusRequestEntityTooLarge)
		return
	}

	var resp eventsResponse
	for _, ev := range events {
		if err := validate.Struct(ev); err != nil {
			logger.Debug("rejected event", zap.Error(err))
			resp.Rejected++
			continue
		}
		if err := ev.Validate(); err != nil {
			logger.Debug("rejected event", zap.Error(err))
			resp.Rejected++
			continue
		}
		if s.Pipeline != nil {
			s.Pipeline.Track(ev)
		}
		resp.Accepted++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
	s.observe(endpoint, method, http.StatusAccepted, start)
}
