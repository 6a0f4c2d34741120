package gateway

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/sshsession"
)

// classifyErrorCode chooses the client-facing error_code by substring match
// on the failure message: contains "Authentication" -> AUTH_FAILED;
// contains "Connection" or "connect" -> CONNECTION_FAILED; else
// UNKNOWN_ERROR.
func classifyErrorCode(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Authentication"):
		return "AUTH_FAILED"
	case strings.Contains(msg, "Connection") || strings.Contains(msg, "connect"):
		return "CONNECTION_FAILED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// resolveCredentials picks password vs. private-key auth per auth_type,
// defaulting to whichever credential is present when auth_type is absent.
func resolveCredentials(req ConnectRequest) sshsession.Credentials {
	creds := sshsession.Credentials{
		Hostname:       req.Hostname,
		Port:           req.Port,
		Username:       req.Username,
		DeviceTypeHint: req.DeviceType,
	}
	switch req.AuthType {
	case "private-key":
		creds.PrivateKey = req.PrivateKey
	case "password":
		creds.Password = req.Password
	default:
		if req.PrivateKey != "" {
			creds.PrivateKey = req.PrivateKey
		} else {
			creds.Password = req.Password
		}
	}
	return creds
}

// connect implements the shared logic behind /connect and /api/connect: it
// opens the SSH session, registers it, and builds the websocket URL the
// client upgrades through.
func (g *Gateway) connect(req ConnectRequest) ConnectResponse {
	portalUserID := req.PortalUserID
	if portalUserID == "" {
		portalUserID = "anonymous-" + uuid.NewString()
	}
	deviceID := req.Hostname

	creds := resolveCredentials(req)
	session, err := sshsession.Open(creds, g.sshSettings)
	if err != nil {
		return ConnectResponse{
			Success:   false,
			Message:   err.Error(),
			ErrorCode: classifyErrorCode(err),
		}
	}

	id := g.registry.AddSession(portalUserID, deviceID, req.Username, session)
	return ConnectResponse{
		Success:      true,
		Message:      "connected",
		SessionID:    id,
		WebsocketURL: g.websocketURL(id),
	}
}

// connectAPI implements /api/connect's extra defaulting and query-string
// enrichment on top of connect.
func (g *Gateway) connectAPI(req ConnectRequest) ConnectResponse {
	if req.Port == 0 {
		req.Port = 22
	}
	if req.AuthType == "" {
		if req.PrivateKey != "" {
			req.AuthType = "private-key"
		} else {
			req.AuthType = "password"
		}
	}
	if req.PortalUserID == "" {
		if req.DeviceName != "" {
			req.PortalUserID = req.DeviceName
		} else {
			req.PortalUserID = "device-" + uuid.NewString()
		}
	}

	resp := g.connect(req)
	if !resp.Success {
		return resp
	}

	q := url.Values{}
	q.Set("hostname", req.Hostname)
	q.Set("username", req.Username)
	q.Set("device_name", req.DeviceName)
	resp.WebsocketURL = fmt.Sprintf("%s?%s", resp.WebsocketURL, q.Encode())
	return resp
}

func (g *Gateway) websocketURL(sessionID string) string {
	return fmt.Sprintf("ws://%s/ws/%s", g.publicAddr, sessionID)
}

// *sshsession.Session satisfies registry.SSHHandle directly; this is a
// compile-time check of that.
var _ registry.SSHHandle = (*sshsession.Session)(nil)
