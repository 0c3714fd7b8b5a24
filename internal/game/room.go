package game

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"songguess-server/internal/audio"
	"songguess-server/internal/playlist"
)

type State string

const (
	StateLobby     State = "LOBBY"
	StatePlaying   State = "PLAYING"
	StateRoundOver State = "ROUND_OVER"
	StateGameOver  State = "GAME_OVER"
)

const audioRefPrefix = "/static/audio/"

// Settings are the host-chosen game parameters. TotalRounds is clamped down
// to the number of unplayed tracks at preparation time; the clamp sticks for
// the rest of the game.
type Settings struct {
	RoundDuration int // seconds
	TotalRounds   int
}

// timing holds the fixed pauses of the round loop. Tests shrink these.
type timing struct {
	countdown      time.Duration // pause between round_countdown and start_round
	reveal         time.Duration // pause after round_result
	skip           time.Duration // pause after a skipped round
	grace          time.Duration // answer window beyond the round duration
	firstTrackWait time.Duration // cap on waiting for the first track in start
}

func defaultTiming() timing {
	return timing{
		countdown:      3 * time.Second,
		reveal:         3 * time.Second,
		skip:           3 * time.Second,
		grace:          2 * time.Second,
		firstTrackWait: 120 * time.Second,
	}
}

// Room is one game session: it owns the players, the prepared track queue
// and the round loop. All mutable state is guarded by mu; broadcasts happen
// from a snapshot, never while holding the lock.
type Room struct {
	Code string

	playlists *playlist.CachedService
	audio     audio.Fetcher

	ctx    context.Context // room lifetime
	cancel context.CancelFunc

	mu           sync.Mutex
	hostUsername string
	players      map[string]*Player
	settings     Settings
	state        State

	playlistID   string
	playlistMeta *playlist.Playlist

	tracks          []*Track
	allTitles       []string
	playedTrackIDs  map[string]struct{}
	firstTrackReady bool

	currentRound int
	currentTrack *Track
	roundStart   time.Time
	roundDone    chan struct{} // non-nil only while a round accepts answers

	prepDone     chan struct{}
	prepFinished bool
	prepCtx      context.Context
	prepCancel   context.CancelFunc

	gameCancel  context.CancelFunc
	loopRunning bool
	starting    bool

	timing timing
}

func newRoom(code, hostUsername, playlistID string, settings Settings, playlists *playlist.CachedService, fetcher audio.Fetcher) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	prepCtx, prepCancel := context.WithCancel(ctx)

	r := &Room{
		Code:           code,
		playlists:      playlists,
		audio:          fetcher,
		ctx:            ctx,
		cancel:         cancel,
		hostUsername:   hostUsername,
		players:        make(map[string]*Player),
		settings:       settings,
		state:          StateLobby,
		playlistID:     playlistID,
		playedTrackIDs: make(map[string]struct{}),
		prepDone:       make(chan struct{}),
		prepCtx:        prepCtx,
		prepCancel:     prepCancel,
		timing:         defaultTiming(),
	}

	// The host's session exists from creation; the connection binds later.
	r.players[hostUsername] = NewPlayer(hostUsername, nil)
	return r
}

// Close tears the room down: cancels the round loop and any outstanding
// acquisitions. Cancellation is best-effort and not awaited.
func (r *Room) Close() {
	r.mu.Lock()
	r.state = StateGameOver
	r.mu.Unlock()
	r.cancel()
}

func (r *Room) HostUsername() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostUsername
}

// IsUsernameOnline reports whether a session under this username currently
// holds a live connection. The server rejects a second concurrent connection
// while this is true.
func (r *Room) IsUsernameOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[username]
	return ok && p.Conn != nil
}

// JoinedEvent builds the initial state snapshot sent to a connecting client.
func (r *Room) JoinedEvent(username string) RoomJoinedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := RoomJoinedEvent{
		RoomCode:     r.Code,
		IsHost:       username == r.hostUsername,
		HostUsername: r.hostUsername,
		Players:      r.playerInfosLocked(),
	}
	if r.playlistMeta != nil {
		meta := r.playlistDetailsLocked()
		ev.PlaylistMetadata = &meta
	}
	return ev
}

// AddPlayer inserts a new session or rebinds an existing one to a fresh
// connection. Reconnection is idempotent: score, wins and round state are
// preserved. A late or reconnecting client is brought up to date with the
// playlist details and prepared-titles events (plus the host-ready notice
// for the host) before the room-wide player list broadcast.
func (r *Room) AddPlayer(username string, conn Conn) {
	r.mu.Lock()
	if p, exists := r.players[username]; exists {
		p.Conn = conn
	} else {
		r.players[username] = NewPlayer(username, conn)
	}

	prepFinished := r.prepFinished
	isHost := username == r.hostUsername
	hostReady := r.firstTrackReady
	titles := r.allTitles
	hasMeta := r.playlistMeta != nil
	var meta PlaylistDetailsEvent
	if hasMeta {
		meta = r.playlistDetailsLocked()
	}
	r.mu.Unlock()

	if prepFinished {
		if hasMeta {
			if err := conn.Send(EventPlaylistDetails, meta); err != nil {
				log.Printf("room=%s player=%s initial details send failed: %v", r.Code, username, err)
			}
		}
		if err := conn.Send(EventGamePrepared, GamePreparedEvent{Titles: titles}); err != nil {
			log.Printf("room=%s player=%s prepared titles send failed: %v", r.Code, username, err)
		}
		if isHost && hostReady {
			if err := conn.Send(EventHostReady, struct{}{}); err != nil {
				log.Printf("room=%s host ready notice send failed: %v", r.Code, err)
			}
		}
	}

	r.broadcastPlayers()
}

// MarkDisconnected nulls the player's connection but keeps the session so a
// reconnect under the same username resumes where it left off. Returns the
// number of players still connected; the registry tears the room down once
// that reaches zero.
func (r *Room) MarkDisconnected(username string) int {
	r.mu.Lock()
	p, ok := r.players[username]
	if !ok {
		connected := r.connectedCountLocked()
		r.mu.Unlock()
		return connected
	}
	p.Conn = nil
	r.completeRoundIfDecidedLocked()
	connected := r.connectedCountLocked()
	r.mu.Unlock()

	r.broadcastPlayers()
	return connected
}

// RemovePlayer drops a session entirely. Losing the host or the last player
// forces GAME_OVER and best-effort-cancels the round loop and outstanding
// acquisitions.
func (r *Room) RemovePlayer(username string) {
	r.mu.Lock()
	if _, ok := r.players[username]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.players, username)

	if len(r.players) == 0 || username == r.hostUsername {
		r.forceGameOverLocked()
		r.mu.Unlock()
		if username == r.hostUsername {
			r.broadcast(EventSystemMessage, SystemMessageEvent{
				Message: "The host left the room. Game over.",
				Level:   "error",
			})
		}
		return
	}
	r.completeRoundIfDecidedLocked()
	r.mu.Unlock()

	r.broadcastPlayers()
}

// ConnectedCount returns how many sessions hold a live connection.
func (r *Room) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectedCountLocked()
}

func (r *Room) connectedCountLocked() int {
	n := 0
	for _, p := range r.players {
		if p.Conn != nil {
			n++
		}
	}
	return n
}

// StartGame begins play. Host-only, valid from the lobby. Blocks until
// preparation completes and the first track's acquisition settles; falls back
// to LOBBY with an error broadcast if either failed.
func (r *Room) StartGame(requester string) {
	r.mu.Lock()
	if requester != r.hostUsername || r.state != StateLobby {
		r.mu.Unlock()
		return
	}
	if r.starting || r.loopRunning {
		r.mu.Unlock()
		return
	}
	r.starting = true
	prepDone := r.prepDone
	firstTrackWait := r.timing.firstTrackWait
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
	}()

	r.broadcast(EventSystemMessage, SystemMessageEvent{
		Message: "Starting game, preparing first round...",
		Level:   "info",
	})

	select {
	case <-prepDone:
	case <-r.ctx.Done():
		return
	}

	r.mu.Lock()
	if len(r.tracks) == 0 {
		r.state = StateLobby
		r.mu.Unlock()
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: "Could not prepare any tracks for the game.",
			Level:   "error",
		})
		return
	}
	first := r.tracks[0]
	resolved := first.resolved()
	r.mu.Unlock()

	if !resolved {
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: "Downloading the first song to begin...",
			Level:   "info",
		})
		select {
		case <-first.done:
		case <-time.After(firstTrackWait):
			log.Printf("room=%s timed out waiting for first track %q", r.Code, first.Title)
		case <-r.ctx.Done():
			return
		}
	}

	r.mu.Lock()
	if first.Status != TrackDownloaded {
		r.state = StateLobby
		r.mu.Unlock()
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: "Failed to download the first song. Please try again.",
			Level:   "error",
		})
		return
	}

	for _, p := range r.players {
		p.resetForNewGame()
	}
	r.currentRound = 0
	for _, t := range r.tracks {
		r.playedTrackIDs[t.ID] = struct{}{}
	}
	r.state = StatePlaying
	r.loopRunning = true
	gameCtx, gameCancel := context.WithCancel(r.ctx)
	r.gameCancel = gameCancel
	r.mu.Unlock()

	r.broadcastPlayers()
	r.broadcast(EventSystemMessage, SystemMessageEvent{
		Message: "Game is about to start!",
		Level:   "info",
	})

	go r.gameLoop(gameCtx)
}

// gameLoop drives rounds sequentially until the queue is exhausted or the
// game is torn down. There is never more than one of these per room.
func (r *Room) gameLoop(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.loopRunning = false
		r.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return // torn down; no game_over broadcast of our own
		default:
		}

		r.mu.Lock()
		done := r.currentRound >= r.settings.TotalRounds
		r.mu.Unlock()
		if done {
			break
		}

		if !r.runNextRound(ctx) {
			return
		}
	}

	// loopRunning must clear before the game_over broadcast; play_again can
	// arrive the moment a client sees it.
	r.mu.Lock()
	r.loopRunning = false
	r.mu.Unlock()

	r.endGame()
}

// runNextRound plays one round. Returns false only when the game context was
// cancelled mid-round.
func (r *Room) runNextRound(ctx context.Context) bool {
	r.mu.Lock()
	r.currentRound++
	round := r.currentRound
	total := r.settings.TotalRounds
	duration := time.Duration(r.settings.RoundDuration) * time.Second
	track := r.tracks[round-1]
	r.currentTrack = track
	resolved := track.resolved()
	r.mu.Unlock()

	if !resolved {
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: fmt.Sprintf("Downloading song for round %d... please wait.", round),
			Level:   "info",
		})
		select {
		case <-track.done:
		case <-ctx.Done():
			return false
		}
	}

	r.mu.Lock()
	failed := track.Status != TrackDownloaded
	r.mu.Unlock()

	if failed {
		// Skip the round: no scoring, the round index stays consumed.
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: "Could not download the song for this round, skipping...",
			Level:   "error",
		})
		return r.pause(ctx, r.timing.skip)
	}

	r.mu.Lock()
	for _, p := range r.players {
		p.resetForNewRound()
	}
	r.mu.Unlock()

	r.broadcastPlayers()
	r.broadcast(EventRoundCountdown, struct{}{})
	if !r.pause(ctx, r.timing.countdown) {
		return false
	}

	// Arm the round: guesses count from here until resolution.
	r.mu.Lock()
	roundDone := make(chan struct{})
	r.roundDone = roundDone
	r.roundStart = time.Now()
	r.mu.Unlock()

	r.broadcast(EventStartRound, StartRoundEvent{
		Round:       round,
		TotalRounds: total,
		Duration:    int(duration.Seconds()),
		AudioRef:    audioRefPrefix + track.File,
	})

	select {
	case <-roundDone:
	case <-time.After(duration + r.timing.grace):
	case <-ctx.Done():
		return false
	}

	r.resolveRound(track, duration)
	if !r.pause(ctx, r.timing.reveal) {
		return false
	}

	r.mu.Lock()
	if r.state == StateRoundOver {
		r.state = StatePlaying
	}
	r.mu.Unlock()
	return true
}

// resolveRound scores every answerer in rank order and reveals the song.
func (r *Room) resolveRound(track *Track, duration time.Duration) {
	r.mu.Lock()
	r.state = StateRoundOver
	r.roundDone = nil

	answers := make([]answer, 0, len(r.players))
	for _, p := range r.players {
		if p.HasAnswered {
			answers = append(answers, answer{username: p.Username, elapsed: p.GuessTime})
		}
	}
	awards := roundAwards(answers, duration, len(r.players))
	for _, a := range awards {
		r.players[a.Username].Score += a.Points
	}
	r.mu.Unlock()

	for _, a := range awards {
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: fmt.Sprintf("%s earned %d points!", a.Username, a.Points),
			Level:   "info",
		})
	}
	r.broadcastPlayers()
	r.broadcast(EventRoundResult, RoundResultEvent{
		CorrectTitle:  track.Title,
		CorrectArtist: track.Artist,
	})
}

// HandleGuess checks one guess against the current song. Wrong guesses get a
// private reply and cost nothing; attempts are unlimited until the player
// answers or gives up. Messages outside an armed round are silently ignored
// to tolerate benign client races.
func (r *Room) HandleGuess(username, guess string) {
	r.mu.Lock()
	p, ok := r.players[username]
	if r.state != StatePlaying || !ok || p.decided() || r.roundDone == nil || r.currentTrack == nil {
		r.mu.Unlock()
		return
	}

	if Normalize(guess) != Normalize(r.currentTrack.Title) {
		conn := p.Conn
		r.mu.Unlock()
		if conn != nil {
			if err := conn.Send(EventGuessResult, GuessResultEvent{
				Correct: false,
				Message: "Wrong guess, try again!",
			}); err != nil {
				log.Printf("room=%s player=%s guess feedback send failed: %v", r.Code, username, err)
			}
		}
		return
	}

	elapsed := time.Since(r.roundStart)
	p.HasAnswered = true
	p.GuessTime = elapsed
	r.completeRoundIfDecidedLocked()
	r.mu.Unlock()

	r.broadcast(EventSystemMessage, SystemMessageEvent{
		Message: fmt.Sprintf("✅ %s got it in %.1fs!", username, elapsed.Seconds()),
		Level:   "info",
	})
	r.broadcastPlayers()
}

// HandleGiveUp marks the player out of the current round only; they are back
// in for the next one.
func (r *Room) HandleGiveUp(username string) {
	r.mu.Lock()
	p, ok := r.players[username]
	if r.state != StatePlaying || !ok || p.decided() || r.roundDone == nil {
		r.mu.Unlock()
		return
	}
	p.GaveUp = true
	r.completeRoundIfDecidedLocked()
	r.mu.Unlock()

	r.broadcast(EventSystemMessage, SystemMessageEvent{
		Message: fmt.Sprintf("⚠️ %s gave up this round!", username),
		Level:   "info",
	})
	r.broadcastPlayers()
}

// completeRoundIfDecidedLocked fires the round-complete signal once every
// connected player has answered or given up, short-circuiting the timeout.
// Callers must hold mu.
func (r *Room) completeRoundIfDecidedLocked() {
	if r.state != StatePlaying || r.roundDone == nil {
		return
	}
	for _, p := range r.players {
		if p.Conn != nil && !p.decided() {
			return
		}
	}
	close(r.roundDone)
	r.roundDone = nil
}

// endGame closes out the game: records played tracks, crowns the winner and
// publishes the final scoreboard. Ties on top score go to the
// lexicographically smallest username.
func (r *Room) endGame() {
	r.mu.Lock()
	r.state = StateGameOver
	for _, t := range r.tracks {
		r.playedTrackIDs[t.ID] = struct{}{}
	}

	var winner *Player
	for _, p := range r.players {
		if winner == nil || p.Score > winner.Score ||
			(p.Score == winner.Score && p.Username < winner.Username) {
			winner = p
		}
	}

	ev := GameOverEvent{}
	if winner != nil {
		winner.Wins++
		info := winner.info()
		ev.Winner = &info
	}
	ev.Scoreboard = r.playerInfosLocked()
	r.mu.Unlock()

	log.Printf("room=%s game over", r.Code)
	r.broadcast(EventGameOver, ev)
}

// PlayAgain is the host-initiated rematch: re-prepares with played tracks
// excluded (or with a fresh playlist) and auto-starts once preparation
// completes, without a separate start command.
func (r *Room) PlayAgain(requester, newPlaylistID string) {
	r.mu.Lock()
	if requester != r.hostUsername || r.state != StateGameOver {
		r.mu.Unlock()
		return
	}

	// Stop any stragglers still downloading the old selection.
	r.prepCancel()

	if newPlaylistID != "" && newPlaylistID != r.playlistID {
		r.playlists.Invalidate(r.playlistID)
		r.playlistID = newPlaylistID
		r.playedTrackIDs = make(map[string]struct{})
	}

	r.tracks = nil
	r.allTitles = nil
	r.currentTrack = nil
	r.currentRound = 0
	r.firstTrackReady = false
	r.prepFinished = false
	r.prepDone = make(chan struct{})
	r.prepCtx, r.prepCancel = context.WithCancel(r.ctx)
	r.state = StateLobby

	for _, p := range r.players {
		p.resetForNewGame()
	}
	host := r.hostUsername
	r.mu.Unlock()

	r.broadcast(EventRematch, RematchEvent{Message: "Host started a rematch, picking new songs..."})
	r.broadcastPlayers()

	go func() {
		r.prepareGame(true)
		r.StartGame(host)
	}()
}

// forceGameOverLocked ends the game immediately (host departure, teardown).
// Callers must hold mu.
func (r *Room) forceGameOverLocked() {
	r.state = StateGameOver
	if r.gameCancel != nil {
		r.gameCancel()
	}
	r.prepCancel()
}

// pause sleeps for d unless the game is cancelled first.
func (r *Room) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// broadcast sends one event to every connected player. Send failures are
// logged per recipient and never abort the rest of the broadcast.
func (r *Room) broadcast(eventType string, payload any) {
	type target struct {
		username string
		conn     Conn
	}

	r.mu.Lock()
	targets := make([]target, 0, len(r.players))
	for _, p := range r.players {
		if p.Conn != nil {
			targets = append(targets, target{username: p.Username, conn: p.Conn})
		}
	}
	r.mu.Unlock()

	for _, t := range targets {
		if err := t.conn.Send(eventType, payload); err != nil {
			log.Printf("room=%s player=%s send %s failed: %v", r.Code, t.username, eventType, err)
		}
	}
}

// broadcastPlayers pushes the score-sorted player list to everyone.
func (r *Room) broadcastPlayers() {
	r.mu.Lock()
	ev := UpdatePlayersEvent{
		Players:      r.playerInfosLocked(),
		HostUsername: r.hostUsername,
	}
	r.mu.Unlock()

	r.broadcast(EventUpdatePlayers, ev)
}

// playerInfosLocked snapshots all players sorted by score descending.
// Callers must hold mu.
func (r *Room) playerInfosLocked() []Info {
	infos := make([]Info, 0, len(r.players))
	for _, p := range r.players {
		infos = append(infos, p.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Score != infos[j].Score {
			return infos[i].Score > infos[j].Score
		}
		return infos[i].Username < infos[j].Username
	})
	return infos
}

func (r *Room) playlistDetailsLocked() PlaylistDetailsEvent {
	return PlaylistDetailsEvent{
		PlaylistName:          r.playlistMeta.Name,
		PlaylistOwnerName:     r.playlistMeta.OwnerName,
		PlaylistCoverImageURL: r.playlistMeta.CoverImageURL,
	}
}
