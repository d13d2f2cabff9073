package server

import (
	"encoding/json"
	"net/http"
	"time"
)

var startTime = time.Now()

type healthBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// handleHealth reports liveness plus build version and process uptime.
// Unauthenticated, mounted ahead of every stage middleware.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := healthBody{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
	}
	data, _ := json.Marshal(body)
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
