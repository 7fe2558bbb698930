package mafia

import (
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleMafia     Role = "mafia"
	RoleDetective Role = "detective"
	RoleDoctor    Role = "doctor"
	RoleCivilian  Role = "civilian"
)

type Phase string

const (
	PhaseRegistration Phase = "REGISTRATION"
	PhaseNight        Phase = "NIGHT"
	PhaseDay          Phase = "DAY"
	PhaseFinished     Phase = "FINISHED"
)

type Winner string

const (
	WinnerNone  Winner = ""
	WinnerTown  Winner = "town"
	WinnerMafia Winner = "mafia"
)

type Player struct {
	ID    int64
	Name  string
	Role  Role
	Alive bool
}

// Session is one chat's game. Role fields stay unset until assignment,
// which happens at most once per session.
type Session struct {
	ID     string // uuid, used as the archive key
	ChatID int64

	Players []*Player // registration order

	MafiaIDs    map[int64]struct{}
	DetectiveID int64 // 0 = unset
	DoctorID    int64 // 0 = unset
	Alive       map[int64]struct{}

	Phase Phase
	Day   int

	// pendingVictim is the transient per-night action record, resolved on
	// the next day transition and cleared on the night transition.
	pendingVictim int64

	StartedAt time.Time
}

// DayResult describes what entering the day produced.
type DayResult struct {
	Day    int
	Winner Winner
	// Killed is the resolved night victim, nil when nobody died.
	Killed *Player
	// AliveNames lists living players when the game continues.
	AliveNames []string
}

var (
	ErrSessionExists    = errors.New("game already running in this chat")
	ErrNoSession        = errors.New("no game in this chat")
	ErrWrongPhase       = errors.New("operation not allowed in current phase")
	ErrAlreadyJoined    = errors.New("player already registered")
	ErrNotEnoughPlayers = errors.New("at least 4 players required")
	ErrAlreadyAssigned  = errors.New("roles already assigned")
	ErrUnknownPlayer    = errors.New("no such player in this game")
)

func (s *Session) player(id int64) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Name matching ignores case and a leading @ so "/kill @Alice" finds the
// player recorded as "@alice".
func (s *Session) playerByName(name string) *Player {
	key := strings.ToLower(strings.TrimPrefix(name, "@"))
	for _, p := range s.Players {
		if strings.ToLower(strings.TrimPrefix(p.Name, "@")) == key {
			return p
		}
	}
	return nil
}

func (s *Session) aliveCounts() (mafia, others int) {
	for id := range s.Alive {
		if _, ok := s.MafiaIDs[id]; ok {
			mafia++
		} else {
			others++
		}
	}
	return mafia, others
}

func (s *Session) aliveNames() []string {
	names := make([]string, 0, len(s.Alive))
	for _, p := range s.Players {
		if p.Alive {
			names = append(names, p.Name)
		}
	}
	return names
}
