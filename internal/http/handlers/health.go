package handlers

import "net/http"

// Health reports liveness. Nothing downstream is probed; the orchestration
// loops surface their own failures through job errors and metrics.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
