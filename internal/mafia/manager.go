package mafia

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kapu/snail-tg-bot/internal/obslog"
	"go.uber.org/zap"
)

// Notifier delivers a private role message to one player. Failures are the
// notifier's to report; the engine logs and moves on.
type Notifier interface {
	NotifyRole(ctx context.Context, playerID int64, role Role) error
}

// Manager is the per-chat session registry. Each chat's session has its own
// lock, so two transitions on one chat never interleave while different
// chats proceed independently.
type Manager struct {
	mu      sync.RWMutex
	entries map[int64]*entry

	rng   *rand.Rand
	rngMu sync.Mutex

	notifier Notifier
	repo     Repository
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

type ManagerOption func(*Manager)

// WithRand injects a deterministic random source for tests.
func WithRand(r *rand.Rand) ManagerOption {
	return func(m *Manager) { m.rng = r }
}

func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

func WithRepository(r Repository) ManagerOption {
	return func(m *Manager) { m.repo = r }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		entries: make(map[int64]*entry),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens registration for a chat. At most one session per chat.
func (m *Manager) Create(chatID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[chatID]; ok && e.s != nil && e.s.Phase != PhaseFinished {
		return nil, ErrSessionExists
	}
	s := &Session{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		MafiaIDs:  make(map[int64]struct{}),
		Alive:     make(map[int64]struct{}),
		Phase:     PhaseRegistration,
		StartedAt: time.Now(),
	}
	m.entries[chatID] = &entry{s: s}
	return s, nil
}

// Join registers one player. Idempotent by player id.
func (m *Manager) Join(chatID, playerID int64, name string) error {
	e := m.entry(chatID)
	if e == nil {
		return ErrNoSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s
	if s == nil {
		return ErrNoSession
	}
	if s.Phase != PhaseRegistration {
		return ErrWrongPhase
	}
	if s.player(playerID) != nil {
		return ErrAlreadyJoined
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Игрок"
	}
	s.Players = append(s.Players, &Player{ID: playerID, Name: name})
	return nil
}

// AssignRoles runs exactly once per session, at the registration→night
// transition: uniform shuffle, max(1, n/3) mafia, one detective, one
// doctor if anyone is left, civilians for the rest. A notify failure for
// one player never aborts the others.
func (m *Manager) AssignRoles(ctx context.Context, chatID int64) (*Session, error) {
	e := m.entry(chatID)
	if e == nil {
		return nil, ErrNoSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s
	if s == nil {
		return nil, ErrNoSession
	}
	if s.Phase == PhaseNight || s.Phase == PhaseDay {
		return nil, ErrAlreadyAssigned
	}
	if s.Phase != PhaseRegistration {
		return nil, ErrWrongPhase
	}
	n := len(s.Players)
	if n < 4 {
		return nil, ErrNotEnoughPlayers
	}

	shuffled := append([]*Player(nil), s.Players...)
	m.rngMu.Lock()
	m.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	m.rngMu.Unlock()

	mafiaCount := n / 3
	if mafiaCount < 1 {
		mafiaCount = 1
	}
	for i, p := range shuffled {
		switch {
		case i < mafiaCount:
			p.Role = RoleMafia
			s.MafiaIDs[p.ID] = struct{}{}
		case i == mafiaCount:
			p.Role = RoleDetective
			s.DetectiveID = p.ID
		case i == mafiaCount+1:
			p.Role = RoleDoctor
			s.DoctorID = p.ID
		default:
			p.Role = RoleCivilian
		}
		p.Alive = true
		s.Alive[p.ID] = struct{}{}
	}

	s.Phase = PhaseNight
	s.Day = 1

	if m.notifier != nil {
		for _, p := range s.Players {
			if err := m.notifier.NotifyRole(ctx, p.ID, p.Role); err != nil {
				obslog.L().Warn("role_notify_failed",
					zap.Int64("chat_id", chatID), zap.Int64("player_id", p.ID), zap.Error(err))
			}
		}
	}
	return s, nil
}

// MarkVictim records the night's kill target by player name. The record is
// transient: resolved by ToDay, cleared by ToNight.
func (m *Manager) MarkVictim(chatID int64, name string) (*Player, error) {
	e := m.entry(chatID)
	if e == nil {
		return nil, ErrNoSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s
	if s == nil {
		return nil, ErrNoSession
	}
	if s.Phase != PhaseNight {
		return nil, ErrWrongPhase
	}
	p := s.playerByName(strings.TrimSpace(strings.TrimPrefix(name, "@")))
	if p == nil || !p.Alive {
		return nil, ErrUnknownPlayer
	}
	s.pendingVictim = p.ID
	return p, nil
}

// Lynch eliminates a player during the day, by name.
func (m *Manager) Lynch(chatID int64, name string) (*Player, error) {
	e := m.entry(chatID)
	if e == nil {
		return nil, ErrNoSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s
	if s == nil {
		return nil, ErrNoSession
	}
	if s.Phase != PhaseDay {
		return nil, ErrWrongPhase
	}
	p := s.playerByName(strings.TrimSpace(strings.TrimPrefix(name, "@")))
	if p == nil || !p.Alive {
		return nil, ErrUnknownPlayer
	}
	p.Alive = false
	delete(s.Alive, p.ID)
	return p, nil
}

// ToDay resolves the pending night action, then evaluates win conditions
// in fixed order: town wins when no mafia lives; mafia wins when the rest
// are down to parity; otherwise the day begins.
func (m *Manager) ToDay(ctx context.Context, chatID int64) (*DayResult, error) {
	e := m.entry(chatID)
	if e == nil {
		return nil, ErrNoSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s
	if s == nil {
		return nil, ErrNoSession
	}
	if s.Phase != PhaseNight {
		return nil, ErrWrongPhase
	}

	res := &DayResult{Day: s.Day}
	if s.pendingVictim != 0 {
		if p := s.player(s.pendingVictim); p != nil && p.Alive {
			p.Alive = false
			delete(s.Alive, p.ID)
			res.Killed = p
		}
		s.pendingVictim = 0
	}

	mafiaAlive, othersAlive := s.aliveCounts()
	switch {
	case mafiaAlive == 0:
		res.Winner = WinnerTown
		m.finish(ctx, s, WinnerTown)
	case othersAlive <= mafiaAlive:
		res.Winner = WinnerMafia
		m.finish(ctx, s, WinnerMafia)
	default:
		s.Phase = PhaseDay
		res.AliveNames = s.aliveNames()
	}
	return res, nil
}

// ToNight starts the next night: day counter up, transient night record
// cleared. No win check here; wins are evaluated only when entering a day.
func (m *Manager) ToNight(chatID int64) (*Session, error) {
	e := m.entry(chatID)
	if e == nil {
		return nil, ErrNoSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s
	if s == nil {
		return nil, ErrNoSession
	}
	if s.Phase != PhaseDay {
		return nil, ErrWrongPhase
	}
	s.Day++
	s.pendingVictim = 0
	s.Phase = PhaseNight
	return s, nil
}

// Stop destroys the session unconditionally, whatever the phase.
func (m *Manager) Stop(chatID int64) error {
	m.mu.Lock()
	e, ok := m.entries[chatID]
	if ok {
		delete(m.entries, chatID)
	}
	m.mu.Unlock()
	if !ok || e.s == nil {
		return ErrNoSession
	}
	e.mu.Lock()
	e.s.Phase = PhaseFinished
	e.mu.Unlock()
	return nil
}

// Get returns the live session for a chat, or nil.
func (m *Manager) Get(chatID int64) *Session {
	e := m.entry(chatID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s
}

// RecentResults lists a chat's latest archived games, newest first. Without
// a repository there is no archive, so the list is empty.
func (m *Manager) RecentResults(ctx context.Context, chatID int64, limit int) ([]*Result, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.RecentResults(ctx, chatID, limit)
}

func (m *Manager) entry(chatID int64) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[chatID]
}

// finish marks the session terminal, archives the result and drops the
// session from the registry. Archive failures are logged, never surfaced.
func (m *Manager) finish(ctx context.Context, s *Session, w Winner) {
	s.Phase = PhaseFinished
	if m.repo != nil {
		result := &Result{
			ID:          s.ID,
			ChatID:      s.ChatID,
			Winner:      w,
			PlayerCount: len(s.Players),
			MafiaCount:  len(s.MafiaIDs),
			Days:        s.Day,
			StartedAt:   s.StartedAt,
			EndedAt:     time.Now(),
		}
		if err := m.repo.SaveResult(ctx, result); err != nil {
			obslog.L().Warn("game_archive_failed", zap.Int64("chat_id", s.ChatID), zap.Error(err))
		}
	}
	m.mu.Lock()
	delete(m.entries, s.ChatID)
	m.mu.Unlock()
}
