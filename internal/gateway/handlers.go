package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ConnectRequest](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ConnectResponse{Success: false, Message: err.Error(), ErrorCode: "UNKNOWN_ERROR"})
		return
	}
	resp := g.connect(req)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (g *Gateway) handleConnectAPI(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ConnectRequest](w, r)
	if !ok {
		return
	}
	if req.Port == 0 {
		req.Port = 22 // validated after defaulting, since 0 is the "unset" sentinel here
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ConnectResponse{Success: false, Message: err.Error(), ErrorCode: "UNKNOWN_ERROR"})
		return
	}
	resp := g.connectAPI(req)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	req, _ := decodeJSON[SessionsRequest](w, r)

	var ids []string
	if req.PortalUserID != "" {
		ids = g.registry.GetPortalUserSessions(req.PortalUserID)
	} else {
		ids = g.registry.GetAllSessions()
	}

	summaries := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		info, ok := g.registry.GetSession(id)
		if !ok {
			continue
		}
		summaries = append(summaries, SessionSummary{
			SessionID:    info.SessionID,
			PortalUserID: info.PortalUserID,
			DeviceID:     info.DeviceID,
			SSHUsername:  info.SSHUsername,
			LastActivity: info.LastActivity.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, SessionsResponse{ActiveSessions: len(summaries), Sessions: summaries})
}

func (g *Gateway) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	_, ok := g.registry.GetSession(id)
	writeJSON(w, http.StatusOK, StatusResponse{
		Exists:  ok,
		Ready:   ok,
		Message: statusMessage(ok),
	})
}

func statusMessage(exists bool) string {
	if exists {
		return "session is active"
	}
	return "session not found"
}

func (g *Gateway) handleSessionTerminate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	removed, err := g.registry.Remove(id)
	if !removed {
		writeJSON(w, http.StatusNotFound, TerminateResponse{Success: false, Message: "session not found"})
		return
	}
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", id).Msg("error closing SSH handle during terminate")
	}
	writeJSON(w, http.StatusOK, TerminateResponse{Success: true, Message: "session terminated"})
}
