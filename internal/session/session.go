// Package session manages per-conversation polling sessions.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"adwatch/internal/model"
)

// Worker polls on behalf of one conversation until ctx is cancelled. A
// returned error while ctx is still live is fatal for the session.
type Worker func(ctx context.Context, chatID int64, keyword string) error

// FilterLister reports the stored filters.
type FilterLister interface {
	ListFilters(ctx context.Context) ([]model.Filter, error)
}

// StartResult is the outcome of Start.
type StartResult int

// Start outcomes.
const (
	Started StartResult = iota
	AlreadyActive
	NoSearch
)

// StopResult is the outcome of Stop.
type StopResult int

// Stop outcomes.
const (
	Stopped StopResult = iota
	StoppedTimeout
	NotActive
)

// Info is a read-only view of a session.
type Info struct {
	ChatID       int64               `json:"chat_id"`
	Status       model.SessionStatus `json:"status"`
	Keyword      string              `json:"keyword,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	LastActivity time.Time           `json:"last_activity"`
}

type session struct {
	chatID       int64
	status       model.SessionStatus
	keyword      string
	startedAt    time.Time
	lastActivity time.Time

	// Worker handle. gen identifies the current worker so that a worker
	// from an earlier run never changes a newer session state.
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// Manager owns every session. All session state is guarded by mu; workers
// only report back through their exit path.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*session

	work        Worker
	filters     FilterLister
	stopTimeout time.Duration
	retention   time.Duration
	onFatal     func(chatID int64, err error)
	now         func() time.Time
	log         *slog.Logger

	base       context.Context
	cancelBase context.CancelFunc
}

// NewManager creates a Manager. stopTimeout bounds how long Stop waits for a
// worker to exit; idle sessions are dropped by Sweep after retention.
func NewManager(work Worker, filters FilterLister, stopTimeout, retention time.Duration, log *slog.Logger) *Manager {
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:    make(map[int64]*session),
		work:        work,
		filters:     filters,
		stopTimeout: stopTimeout,
		retention:   retention,
		now:         time.Now,
		log:         log,
		base:        base,
		cancelBase:  cancel,
	}
}

// SetOnFatal registers a callback for workers that exit with an error.
func (m *Manager) SetOnFatal(fn func(chatID int64, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFatal = fn
}

// Touch records activity for chatID, creating its session on first contact.
func (m *Manager) Touch(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(chatID)
}

// SetKeyword sets the ad-hoc search keyword for chatID. It takes effect on
// the next Start.
func (m *Manager) SetKeyword(chatID int64, keyword string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(chatID).keyword = keyword
}

// Keyword returns the ad-hoc search keyword for chatID.
func (m *Manager) Keyword(chatID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		return s.keyword
	}
	return ""
}

// Status returns the state of chatID's session. Unknown chats are idle.
func (m *Manager) Status(chatID int64) model.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		return s.status
	}
	return model.SessionIdle
}

// Start launches a worker for chatID. Nothing starts when the session is
// already active, or when it has no keyword and no filters are stored.
func (m *Manager) Start(ctx context.Context, chatID int64) (StartResult, error) {
	m.mu.Lock()
	s := m.touchLocked(chatID)
	if s.status == model.SessionActive {
		m.mu.Unlock()
		return AlreadyActive, nil
	}
	hasKeyword := s.keyword != ""
	m.mu.Unlock()

	if !hasKeyword {
		filters, err := m.filters.ListFilters(ctx)
		if err != nil {
			return NoSearch, err
		}
		if len(filters) == 0 {
			return NoSearch, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s = m.touchLocked(chatID)
	if s.status == model.SessionActive {
		return AlreadyActive, nil
	}

	workerCtx, cancel := context.WithCancel(m.base)
	s.gen++
	s.status = model.SessionActive
	s.startedAt = m.now()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopping = false

	go m.run(workerCtx, cancel, s, s.gen, s.keyword, s.done)

	m.log.Info("session started", "chat_id", chatID, "keyword", s.keyword)
	return Started, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, s *session, gen uint64, keyword string, done chan struct{}) {
	defer close(done)

	err := m.work(ctx, s.chatID, keyword)
	stopped := ctx.Err() != nil
	cancel()

	m.mu.Lock()
	current := s.gen == gen && s.status == model.SessionActive && !s.stopping
	if current {
		s.status = model.SessionIdle
		s.cancel = nil
		s.lastActivity = m.now()
	}
	onFatal := m.onFatal
	m.mu.Unlock()

	if stopped {
		return
	}
	if err != nil {
		m.log.Error("session worker failed", "chat_id", s.chatID, "error", err)
		if current && onFatal != nil {
			onFatal(s.chatID, err)
		}
		return
	}
	if current {
		m.log.Info("session worker finished", "chat_id", s.chatID)
	}
}

// Stop cancels chatID's worker and waits up to the stop timeout for it to
// exit. The session is idle afterwards either way.
func (m *Manager) Stop(chatID int64) StopResult {
	m.mu.Lock()
	s, ok := m.sessions[chatID]
	if !ok || s.status != model.SessionActive || s.stopping {
		m.mu.Unlock()
		return NotActive
	}
	s.stopping = true
	s.lastActivity = m.now()
	gen, cancel, done := s.gen, s.cancel, s.done
	m.mu.Unlock()

	cancel()

	result := Stopped
	select {
	case <-done:
	case <-time.After(m.stopTimeout):
		m.log.Warn("session worker did not stop in time", "chat_id", chatID, "timeout", m.stopTimeout)
		result = StoppedTimeout
	}

	m.mu.Lock()
	if s.gen == gen {
		s.status = model.SessionIdle
		s.cancel = nil
		s.stopping = false
	}
	m.mu.Unlock()

	m.log.Info("session stopped", "chat_id", chatID)
	return result
}

// Sweep drops idle sessions whose last activity is older than the retention
// period and returns how many were removed. Active sessions are kept.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.retention)
	removed := 0
	for id, s := range m.sessions {
		if s.status == model.SessionActive {
			continue
		}
		if s.lastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug("swept idle sessions", "count", removed)
	}
	return removed
}

// Snapshot lists all sessions ordered by chat ID.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		info := Info{
			ChatID:       s.chatID,
			Status:       s.status,
			Keyword:      s.keyword,
			LastActivity: s.lastActivity,
		}
		if s.status == model.SessionActive {
			started := s.startedAt
			info.StartedAt = &started
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ChatID < infos[j].ChatID })
	return infos
}

// Shutdown cancels every worker and waits for each until ctx is done or the
// stop timeout elapses. Workers still running afterwards are abandoned.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	type handle struct {
		chatID int64
		done   chan struct{}
	}
	var running []handle
	for _, s := range m.sessions {
		if s.status == model.SessionActive {
			s.stopping = true
			running = append(running, handle{s.chatID, s.done})
		}
	}
	m.mu.Unlock()

	m.cancelBase()

	waitCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()
	for _, h := range running {
		select {
		case <-h.done:
		case <-waitCtx.Done():
			m.log.Warn("abandoning session worker", "chat_id", h.chatID, "error", waitCtx.Err())
		}
	}

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.status == model.SessionActive {
			s.status = model.SessionIdle
			s.cancel = nil
			s.stopping = false
		}
	}
	m.mu.Unlock()
}

func (m *Manager) touchLocked(chatID int64) *session {
	s, ok := m.sessions[chatID]
	if !ok {
		s = &session{chatID: chatID, status: model.SessionIdle}
		m.sessions[chatID] = s
	}
	s.lastActivity = m.now()
	return s
}
