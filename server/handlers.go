package server

import (
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/livechat-harvester/chat"
	"github.com/onnwee/livechat-harvester/config"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// StatusProvider reports the live state of a harvest session.
type StatusProvider interface {
	Status() chat.Status
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg    *config.Config
	status StatusProvider
	db     *sql.DB

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance. db may be nil when no database sink is configured.
func NewHandlers(cfg *config.Config, status StatusProvider, db *sql.DB) *Handlers {
	return &Handlers{
		cfg:        cfg,
		status:     status,
		db:         db,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState reports whether state was issued and unexpired, removing it either way.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}
