package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status     string `json:"status"`
	Campaigns  int    `json:"campaigns"`
	QueueDepth int    `json:"queue_depth"`
}

// HealthHandler responds with a simple status check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	resp := healthResponse{Status: "ok"}
	if s.Campaigns != nil {
		resp.Campaigns = len(s.Campaigns.All())
	}
	if s.Pipeline != nil {
		resp.QueueDepth = s.Pipeline.Queue().Len()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)

	s.observe(endpoint, method, http.StatusOK, start)
}
