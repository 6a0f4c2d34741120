// Package registry implements the process-wide, multi-index directory of
// live interactive sessions: primary lookup by session id, secondary
// indices by portal user and target device, and a composite-key index.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SSHHandle is the subset of the SSH session object the registry needs:
// just enough to close it on removal.
type SSHHandle interface {
	Close() error
}

// Info is one entry per live interactive session.
type Info struct {
	SessionID    string
	PortalUserID string
	DeviceID     string
	SSHUsername  string
	Session      SSHHandle
	LastActivity time.Time
}

func compositeKey(portalUserID, deviceID, sshUsername string) string {
	return portalUserID + "\x00" + deviceID + "\x00" + sshUsername
}

// Registry is the process-wide session directory. All methods are
// serialized by a single exclusive lock: operations are short (in-memory
// map work, plus one Close call on remove), so registry-wide contention is
// an accepted trade for strict ordering.
type Registry struct {
	mu sync.Mutex

	sessions        map[string]*Info
	portalUserIndex map[string]map[string]struct{} // portal_user_id -> set<session_id>
	deviceIndex     map[string]map[string]struct{} // device_id -> set<session_id>
	compositeIndex  map[string]string              // composite key -> session_id
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sessions:        make(map[string]*Info),
		portalUserIndex: make(map[string]map[string]struct{}),
		deviceIndex:     make(map[string]map[string]struct{}),
		compositeIndex:  make(map[string]string),
	}
}

// AddSession generates a session id, inserts the entry into all four
// indices, stamps last_activity, and returns the id.
func (r *Registry) AddSession(portalUserID, deviceID, sshUsername string, session SSHHandle) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("portal-%s-device-%s-ssh-%s-%s", portalUserID, deviceID, sshUsername, uuid.NewString())

	info := &Info{
		SessionID:    id,
		PortalUserID: portalUserID,
		DeviceID:     deviceID,
		SSHUsername:  sshUsername,
		Session:      session,
		LastActivity: time.Now(),
	}
	r.sessions[id] = info

	if r.portalUserIndex[portalUserID] == nil {
		r.portalUserIndex[portalUserID] = make(map[string]struct{})
	}
	r.portalUserIndex[portalUserID][id] = struct{}{}

	if r.deviceIndex[deviceID] == nil {
		r.deviceIndex[deviceID] = make(map[string]struct{})
	}
	r.deviceIndex[deviceID][id] = struct{}{}

	r.compositeIndex[compositeKey(portalUserID, deviceID, sshUsername)] = id

	return id
}

// GetSession looks up by session id, stamping last_activity on a hit.
func (r *Registry) GetSession(sessionID string) (*Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	info.LastActivity = time.Now()
	snapshot := *info
	return &snapshot, true
}

// GetByCompositeKey looks up by (portal_user_id, device_id, ssh_username),
// stamping last_activity on a hit.
func (r *Registry) GetByCompositeKey(portalUserID, deviceID, sshUsername string) (string, *Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.compositeIndex[compositeKey(portalUserID, deviceID, sshUsername)]
	if !ok {
		return "", nil, false
	}
	info, ok := r.sessions[id]
	if !ok {
		return "", nil, false
	}
	info.LastActivity = time.Now()
	snapshot := *info
	return id, &snapshot, true
}

// GetPortalUserSessions returns a snapshot of session ids for a portal user.
func (r *Registry) GetPortalUserSessions(portalUserID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keysOf(r.portalUserIndex[portalUserID])
}

// GetDeviceSessions returns a snapshot of session ids for a device.
func (r *Registry) GetDeviceSessions(deviceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keysOf(r.deviceIndex[deviceID])
}

// GetAllSessions returns a snapshot of every live session id.
func (r *Registry) GetAllSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// GetAllPortalUserIDs returns a snapshot of every portal user with at least
// one live session.
func (r *Registry) GetAllPortalUserIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.portalUserIndex))
	for id := range r.portalUserIndex {
		ids = append(ids, id)
	}
	return ids
}

// Remove removes the entry from all four indices, evicting secondary-index
// buckets that become empty, then closes the owned SSH session outside the
// lock. Returns whether the id was present, plus any Close error for the
// caller to log; a Close error does not undo the removal.
func (r *Registry) Remove(sessionID string) (bool, error) {
	r.mu.Lock()
	info, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.sessions, sessionID)

	if bucket := r.portalUserIndex[info.PortalUserID]; bucket != nil {
		delete(bucket, sessionID)
		if len(bucket) == 0 {
			delete(r.portalUserIndex, info.PortalUserID)
		}
	}
	if bucket := r.deviceIndex[info.DeviceID]; bucket != nil {
		delete(bucket, sessionID)
		if len(bucket) == 0 {
			delete(r.deviceIndex, info.DeviceID)
		}
	}
	delete(r.compositeIndex, compositeKey(info.PortalUserID, info.DeviceID, info.SSHUsername))
	r.mu.Unlock()

	var closeErr error
	if info.Session != nil {
		closeErr = info.Session.Close()
	}
	return true, closeErr
}

// CleanupStaleSessions removes every session whose last activity is older
// than maxIdle and returns the count removed.
func (r *Registry) CleanupStaleSessions(maxIdle time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	var stale []string
	for id, info := range r.sessions {
		if now.Sub(info.LastActivity) > maxIdle {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	count := 0
	for _, id := range stale {
		if removed, _ := r.Remove(id); removed {
			count++
		}
	}
	return count
}

// TotalSessions is the size of the primary index.
func (r *Registry) TotalSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TotalPortalUsers is the size of the portal-user index.
func (r *Registry) TotalPortalUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.portalUserIndex)
}

// TotalDevices is the size of the device index.
func (r *Registry) TotalDevices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deviceIndex)
}

func keysOf(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
