package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gantry-proxy/gantry/internal/core/constants"
)

var healthResponse = map[string]string{"status": "healthy"}

// healthHandler handles liveness probe requests.
func (a *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(healthResponse)
}
