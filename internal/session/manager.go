package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// State is the turn pipeline state of a session. A session is Idle between
// turns; a running turn walks Listening through Playing and returns to Idle
// on completion or abort.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateInferring    State = "inferring"
	StateSynthesizing State = "synthesizing"
	StatePlaying      State = "playing"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrEnded         = errors.New("session ended")
	ErrTurnInFlight  = errors.New("turn already in flight")
	ErrGuildActive   = errors.New("guild already has an active session")
	ErrBadTransition = errors.New("invalid state transition")
)

// forward lists the only legal non-Idle successor of each state. Any state
// may additionally abort straight to Idle.
var forward = map[State]State{
	StateListening:    StateTranscribing,
	StateTranscribing: StateInferring,
	StateInferring:    StateSynthesizing,
	StateSynthesizing: StatePlaying,
}

type Session struct {
	ID             string    `json:"session_id"`
	GuildID        string    `json:"guild_id"`
	ChannelID      string    `json:"channel_id"`
	Status         Status    `json:"status"`
	State          State     `json:"state"`
	Persona        string    `json:"persona"`
	VoiceAsset     string    `json:"voice_asset"`
	ActiveTurnID   string    `json:"active_turn_id"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Manager owns all live sessions. At most one active session per guild.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	byGuild       map[string]string
	inactivityTTL time.Duration
	onExpire      func(*Session)
}

func NewManager(inactivityTTL time.Duration) *Manager {
	if inactivityTTL <= 0 {
		inactivityTTL = 5 * time.Minute
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		byGuild:       make(map[string]string),
		inactivityTTL: inactivityTTL,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(guildID, channelID, persona, voiceAsset string) (*Session, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if guildID != "" {
		if _, busy := m.byGuild[guildID]; busy {
			return nil, ErrGuildActive
		}
	}
	s := &Session{
		ID:             uuid.NewString(),
		GuildID:        guildID,
		ChannelID:      channelID,
		Persona:        persona,
		VoiceAsset:     voiceAsset,
		Status:         StatusActive,
		State:          StateIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[s.ID] = s
	if guildID != "" {
		m.byGuild[guildID] = s.ID
	}
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) GetByGuild(guildID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byGuild[guildID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.sessions[id]), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// BeginTurn claims the single turn slot of a session. It fails with
// ErrTurnInFlight unless the session is Idle, which keeps overlapping
// utterances from racing each other through the pipeline.
func (m *Manager) BeginTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	if s.State != StateIdle {
		return ErrTurnInFlight
	}
	s.State = StateListening
	s.ActiveTurnID = turnID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetState advances the pipeline state. Forward moves must follow the
// pipeline order; Idle is reachable from anywhere (abort).
func (m *Manager) SetState(sessionID string, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if next != StateIdle && forward[s.State] != next {
		return ErrBadTransition
	}
	if next == StateIdle {
		s.ActiveTurnID = ""
	}
	s.State = next
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// EndTurn returns the session to Idle and counts the turn.
func (m *Manager) EndTurn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State != StateIdle {
		s.TurnCount++
	}
	s.State = StateIdle
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.State = StateIdle
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	if s.GuildID != "" {
		delete(m.byGuild, s.GuildID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTTL {
			continue
		}
		s.Status = StatusEnded
		s.State = StateIdle
		s.ActiveTurnID = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.GuildID != "" {
			delete(m.byGuild, s.GuildID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
