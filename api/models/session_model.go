package models

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"github.com/moyoez/assetlink/progress"
	"github.com/moyoez/assetlink/protocol"
	"github.com/moyoez/assetlink/tool"
	"github.com/moyoez/assetlink/types"
)

const (
	DefaultHistoryTTL = time.Hour
	maxRecentSessions = 100
)

// ActiveSession is a live transfer. Identity fields are fixed at Begin; state and
// counters are read concurrently by the status endpoint.
type ActiveSession struct {
	info    types.SessionInfo
	state   atomic.Uint32
	tracker *progress.Tracker
}

func (s *ActiveSession) ID() string { return s.info.ID }

// SetState is passed as the driver's OnState hook.
func (s *ActiveSession) SetState(st protocol.State) {
	s.state.Store(uint32(st))
}

func (s *ActiveSession) Snapshot() types.SessionInfo {
	info := s.info
	info.State = protocol.State(s.state.Load()).String()
	if s.tracker != nil {
		snap := s.tracker.Snapshot()
		info.Transferred = snap.Transferred
		info.Total = snap.Total
		info.Percent = snap.Percent()
	}
	return info
}

// SessionRegistry tracks live sessions and keeps finished ones for a while.
type SessionRegistry struct {
	mu        sync.RWMutex
	active    map[string]*ActiveSession
	recentIDs []string
	history   *ttlworker.Cache[string, types.SessionInfo]
}

func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &SessionRegistry{
		active:  make(map[string]*ActiveSession),
		history: ttlworker.NewCache[string, types.SessionInfo](ttl),
	}
}

// Begin registers a new live session in state Init.
func (r *SessionRegistry) Begin(role types.Role, platform, name, remoteAddr string, tracker *progress.Tracker) *ActiveSession {
	s := &ActiveSession{
		info: types.SessionInfo{
			ID:         tool.GenerateRandomUUID(),
			Role:       role,
			Platform:   platform,
			Name:       name,
			RemoteAddr: remoteAddr,
			Total:      -1,
			StartedAt:  time.Now(),
		},
		tracker: tracker,
	}
	s.SetState(protocol.StateInit)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[s.info.ID] = s
	return s
}

// Finish moves s into the history and returns its final snapshot.
func (r *SessionRegistry) Finish(s *ActiveSession, err error, sha256 string) types.SessionInfo {
	info := s.Snapshot()
	now := time.Now()
	info.FinishedAt = &now
	info.SHA256 = sha256
	if err != nil {
		info.Error = err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, info.ID)
	r.history.Set(info.ID, info)
	r.recentIDs = append(r.recentIDs, info.ID)
	if len(r.recentIDs) > maxRecentSessions {
		drop := r.recentIDs[:len(r.recentIDs)-maxRecentSessions]
		for _, id := range drop {
			r.history.Delete(id)
		}
		r.recentIDs = append([]string(nil), r.recentIDs[len(drop):]...)
	}
	return info
}

// Active returns snapshots of live sessions, oldest first.
func (r *SessionRegistry) Active() []types.SessionInfo {
	r.mu.RLock()
	out := make([]types.SessionInfo, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Recent returns finished sessions that have not expired, newest first.
func (r *SessionRegistry) Recent() []types.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.SessionInfo, 0, len(r.recentIDs))
	kept := r.recentIDs[:0]
	for _, id := range r.recentIDs {
		info := r.history.Get(id)
		if info.ID == "" {
			continue
		}
		kept = append(kept, id)
		out = append(out, info)
	}
	r.recentIDs = kept
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Get looks a session up in the live set first, then in the history.
func (r *SessionRegistry) Get(id string) (types.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.active[id]; ok {
		return s.Snapshot(), true
	}
	info := r.history.Get(id)
	return info, info.ID != ""
}
