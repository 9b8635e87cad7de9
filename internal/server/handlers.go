package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

type presenceResponse struct {
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	Online      bool      `json:"online"`
	Connections int       `json:"connections"`
	LastSeen    time.Time `json:"lastSeen,omitzero"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	OnlineUsers int    `json:"onlineUsers"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hubTimeout(a.cfg.Transport))
	defer cancel()

	stats, err := a.hub.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: stats.Connections,
		Rooms:       stats.Rooms,
		OnlineUsers: stats.OnlineUsers,
	})
}

func (a *App) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), hubTimeout(a.cfg.Transport))
	defer cancel()

	rec, err := a.hub.Presence(ctx, userID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{
		UserID:      userID,
		Status:      string(rec.Status),
		Online:      rec.Status == protocol.StatusOnline,
		Connections: rec.Connections,
		LastSeen:    rec.LastSeen,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
