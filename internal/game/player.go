package game

import "time"

// Conn is the transport handle the room uses to reach one client. The server
// layer wraps the websocket behind this so the game package stays
// transport-free.
type Conn interface {
	// Send delivers one typed event to the client. Errors are per-recipient;
	// callers log and move on.
	Send(eventType string, payload any) error
	// Close tears the connection down with a reason shown to the client.
	Close(reason string)
}

// Player is one session in a room, keyed by username. The session outlives
// the websocket: Conn is nil while the player is disconnected and is rebound
// on reconnect, preserving score and wins.
type Player struct {
	Username string
	Conn     Conn

	Score int
	Wins  int

	// Per-round state; at most one of HasAnswered/GaveUp is set.
	HasAnswered bool
	GaveUp      bool
	GuessTime   time.Duration
}

func NewPlayer(username string, conn Conn) *Player {
	return &Player{
		Username: username,
		Conn:     conn,
	}
}

func (p *Player) resetForNewRound() {
	p.HasAnswered = false
	p.GaveUp = false
	p.GuessTime = 0
}

func (p *Player) resetForNewGame() {
	p.resetForNewRound()
	p.Score = 0
}

// decided reports whether the player is done with the current round.
func (p *Player) decided() bool {
	return p.HasAnswered || p.GaveUp
}

// Info is the wire representation of a player.
type Info struct {
	Username    string   `json:"username"`
	Score       int      `json:"score"`
	Wins        int      `json:"wins"`
	HasAnswered bool     `json:"has_answered"`
	GaveUp      bool     `json:"gave_up"`
	GuessTime   *float64 `json:"guess_time"`
}

func (p *Player) info() Info {
	info := Info{
		Username:    p.Username,
		Score:       p.Score,
		Wins:        p.Wins,
		HasAnswered: p.HasAnswered,
		GaveUp:      p.GaveUp,
	}
	if p.HasAnswered {
		seconds := p.GuessTime.Seconds()
		info.GuessTime = &seconds
	}
	return info
}
