package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/middleware"
)

// ReloadHandler reloads campaigns and creatives from the loader.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "reload"
	const method = "POST"

	if err := s.Reload(r.Context()); err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("reload failed", zap.Error(err))
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		http.Error(w, "reload failed", http.StatusInternalServerError)
		return
	}

	s.observe(endpoint, method, http.StatusNoContent, start)
	w.WriteHeader(http.StatusNoContent)
}
