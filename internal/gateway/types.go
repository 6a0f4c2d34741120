// Package gateway implements the connect/upgrade HTTP surface: the
// external collaborator that constructs SSH sessions, enrolls them in the
// registry, and upgrades client connections into bridge-carried transports.
package gateway

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ConnectRequest is the JSON body accepted by /connect and /api/connect.
type ConnectRequest struct {
	Hostname       string `json:"hostname"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	PrivateKey     string `json:"private_key,omitempty"`
	DeviceType     string `json:"device_type,omitempty"`
	AuthType       string `json:"auth_type,omitempty"`
	PortalUserID   string `json:"portal_user_id,omitempty"`
	EnablePassword bool   `json:"enable_password,omitempty"` // reserved; ignored by the bridge (see design notes)
	DeviceName     string `json:"device_name,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// Validate checks the fields the core's Open() call depends on.
func (r ConnectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Hostname, validation.Required),
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&r.AuthType, validation.In("", "password", "private-key")),
	)
}

// ConnectResponse is the JSON body returned by /connect and /api/connect.
type ConnectResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SessionID    string `json:"session_id,omitempty"`
	WebsocketURL string `json:"websocket_url,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// SessionsRequest is the JSON body accepted by /api/sessions.
type SessionsRequest struct {
	PortalUserID string `json:"portal_user_id,omitempty"`
}

// SessionSummary is one entry of /api/sessions' response list.
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	PortalUserID string `json:"portal_user_id"`
	DeviceID     string `json:"device_id"`
	SSHUsername  string `json:"ssh_username"`
	LastActivity string `json:"last_activity"`
}

// SessionsResponse is the JSON body returned by /api/sessions.
type SessionsResponse struct {
	ActiveSessions int              `json:"active_sessions"`
	Sessions       []SessionSummary `json:"sessions"`
}

// StatusResponse is the JSON body returned by /api/session/{id}/status.
type StatusResponse struct {
	Exists  bool   `json:"exists"`
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// TerminateResponse is the JSON body returned by /api/session/{id}/terminate.
type TerminateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NotFoundResponse is the JSON body returned when /ws/{id} misses the
// registry. available_sessions is a count, not a list.
type NotFoundResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	SessionID         string `json:"session_id"`
	AvailableSessions int    `json:"available_sessions"`
}
