package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songguess-server/internal/playlist"
)

type fakePlaylistService struct {
	mu       sync.Mutex
	playlist *playlist.Playlist
	err      error
	calls    int
}

func (f *fakePlaylistService) Fetch(ctx context.Context, playlistID string) (*playlist.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.playlist, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	failIDs map[string]bool
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, query, trackID string, durationSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, trackID)
	if f.failIDs[trackID] {
		return fmt.Errorf("simulated download failure for %s", trackID)
	}
	return nil
}

func (f *fakeFetcher) Exists(trackID string) bool { return false }

func (f *fakeFetcher) Path(trackID string) string { return trackID + ".mp3" }

func (f *fakeFetcher) fetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type sentEvent struct {
	Type    string
	Payload any
}

type fakeConn struct {
	mu     sync.Mutex
	events []sentEvent
}

func (c *fakeConn) Send(eventType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{Type: eventType, Payload: payload})
	return nil
}

func (c *fakeConn) Close(reason string) {}

func (c *fakeConn) countOf(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// waitForN polls until the connection has seen eventType n times.
func (c *fakeConn) waitForN(t *testing.T, eventType string, n int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.countOf(eventType) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (c *fakeConn) waitFor(t *testing.T, eventType string, timeout time.Duration) bool {
	t.Helper()
	return c.waitForN(t, eventType, 1, timeout)
}

func (c *fakeConn) lastOf(eventType string) (sentEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == eventType {
			return c.events[i], true
		}
	}
	return sentEvent{}, false
}

func testPlaylist(trackCount int) *playlist.Playlist {
	p := &playlist.Playlist{
		ID:        "pl-1",
		Name:      "Test Mix",
		OwnerName: "tester",
	}
	for i := 0; i < trackCount; i++ {
		p.Tracks = append(p.Tracks, playlist.Track{
			ID:     fmt.Sprintf("track-%d", i),
			Title:  fmt.Sprintf("Song %d", i),
			Artist: "Artist",
		})
	}
	return p
}

func fastTiming() timing {
	return timing{
		countdown:      10 * time.Millisecond,
		reveal:         10 * time.Millisecond,
		skip:           10 * time.Millisecond,
		grace:          50 * time.Millisecond,
		firstTrackWait: 2 * time.Second,
	}
}

func newTestRoom(t *testing.T, svc *fakePlaylistService, fetcher *fakeFetcher, settings Settings) *Room {
	t.Helper()
	cached := playlist.NewCachedService(svc, playlist.NewCache(time.Minute))
	r := newRoom("TESTR", "host", "pl-1", settings, cached, fetcher)
	r.timing = fastTiming()
	t.Cleanup(r.Close)
	return r
}

func (r *Room) stateNow() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) playerScore(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players[username].Score
}

func (r *Room) currentTitle() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentTrack == nil {
		return ""
	}
	return r.currentTrack.Title
}

func TestPrepareClampsRoundsToUnplayedTracks(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(3)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 10})

	r.prepareGame(false)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 3, r.settings.TotalRounds)
	assert.Len(t, r.tracks, 3)
	assert.True(t, r.prepFinished)
}

func TestPrepareReportsEmptyPlaylist(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(0)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 5})

	host := &fakeConn{}
	r.AddPlayer("host", host)
	r.prepareGame(false)

	require.True(t, host.waitFor(t, EventSystemMessage, time.Second))
	ev, ok := host.lastOf(EventSystemMessage)
	require.True(t, ok)
	assert.Equal(t, "error", ev.Payload.(SystemMessageEvent).Level)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.tracks)
	assert.True(t, r.prepFinished)
}

func TestPrepareNotifiesHostWhenFirstTrackReady(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(2)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 2})

	host := &fakeConn{}
	r.AddPlayer("host", host)
	r.prepareGame(false)

	assert.True(t, host.waitFor(t, EventHostReady, time.Second))
}

func TestStartGameFallsBackToLobbyOnFirstTrackFailure(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	fetcher := &fakeFetcher{failIDs: map[string]bool{"track-0": true}}
	r := newTestRoom(t, svc, fetcher, Settings{RoundDuration: 30, TotalRounds: 1})

	host := &fakeConn{}
	r.AddPlayer("host", host)
	r.prepareGame(false)

	r.StartGame("host")

	assert.Equal(t, StateLobby, r.stateNow())
	ev, ok := host.lastOf(EventSystemMessage)
	require.True(t, ok)
	assert.Equal(t, "error", ev.Payload.(SystemMessageEvent).Level)
}

func TestStartGameRejectsNonHost(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 1})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)
	r.prepareGame(false)

	r.StartGame("guest")
	assert.Equal(t, StateLobby, r.stateNow())
}

func TestFullGameFlow(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(2)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 2})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)
	r.prepareGame(false)

	r.StartGame("host")

	for round := 1; round <= 2; round++ {
		require.True(t, host.waitForN(t, EventStartRound, round, 2*time.Second),
			"round %d never started", round)

		// Host answers correctly, guest sits the round out.
		r.HandleGuess("host", r.currentTitle())
		r.HandleGiveUp("guest")
	}

	require.True(t, host.waitFor(t, EventGameOver, 2*time.Second))
	ev, ok := host.lastOf(EventGameOver)
	require.True(t, ok)
	over := ev.Payload.(GameOverEvent)

	require.NotNil(t, over.Winner)
	assert.Equal(t, "host", over.Winner.Username)
	assert.Equal(t, 1, over.Winner.Wins)
	assert.Len(t, over.Scoreboard, 2)
	assert.Greater(t, r.playerScore("host"), 0)
	assert.Equal(t, 0, r.playerScore("guest"))
	assert.Equal(t, StateGameOver, r.stateNow())

	// Both clients saw every round.
	assert.Equal(t, 2, guest.countOf(EventStartRound))
	assert.Equal(t, 2, guest.countOf(EventRoundResult))
}

func TestRoundShortCircuitsWhenEveryoneDecides(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 60, TotalRounds: 1})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)
	r.prepareGame(false)

	r.StartGame("host")
	require.True(t, host.waitFor(t, EventStartRound, 2*time.Second))

	started := time.Now()
	r.HandleGiveUp("host")
	r.HandleGiveUp("guest")

	require.True(t, host.waitFor(t, EventRoundResult, 2*time.Second))
	// Nowhere near the 60 second round duration.
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestWrongGuessGetsPrivateFeedbackAndNoPoints(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 60, TotalRounds: 1})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)
	r.prepareGame(false)

	r.StartGame("host")
	require.True(t, guest.waitFor(t, EventStartRound, 2*time.Second))

	r.HandleGuess("guest", "definitely not the song")

	require.True(t, guest.waitFor(t, EventGuessResult, time.Second))
	ev, _ := guest.lastOf(EventGuessResult)
	assert.False(t, ev.Payload.(GuessResultEvent).Correct)
	assert.Equal(t, 0, host.countOf(EventGuessResult), "wrong guess feedback must stay private")
	assert.Equal(t, 0, r.playerScore("guest"))

	// Wrong guesses do not lock the player out.
	r.HandleGuess("guest", r.currentTitle())
	require.True(t, guest.waitFor(t, EventRoundResult, 2*time.Second))
	assert.Greater(t, r.playerScore("guest"), 0)
}

func TestGuessIgnoredOutsideArmedRound(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 1})

	host := &fakeConn{}
	r.AddPlayer("host", host)
	r.prepareGame(false)

	// Still in the lobby.
	r.HandleGuess("host", "Song 0")
	assert.Equal(t, 0, r.playerScore("host"))
	assert.Equal(t, 0, host.countOf(EventGuessResult))
}

func TestDisconnectPreservesSessionAndReconnectRebinds(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 1})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)

	r.mu.Lock()
	r.players["guest"].Score = 42
	r.players["guest"].Wins = 2
	r.mu.Unlock()

	connected := r.MarkDisconnected("guest")
	assert.Equal(t, 1, connected)
	assert.False(t, r.IsUsernameOnline("guest"))

	fresh := &fakeConn{}
	r.AddPlayer("guest", fresh)
	assert.True(t, r.IsUsernameOnline("guest"))

	r.mu.Lock()
	assert.Equal(t, 42, r.players["guest"].Score)
	assert.Equal(t, 2, r.players["guest"].Wins)
	r.mu.Unlock()
}

func TestLateJoinerGetsPreparedState(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(2)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 2})

	host := &fakeConn{}
	r.AddPlayer("host", host)
	r.prepareGame(false)

	late := &fakeConn{}
	r.AddPlayer("late", late)

	assert.Equal(t, 1, late.countOf(EventPlaylistDetails))
	assert.Equal(t, 1, late.countOf(EventGamePrepared))
	// Host-only notice never goes to a guest.
	assert.Equal(t, 0, late.countOf(EventHostReady))
}

func TestHostRemovalForcesGameOver(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 1})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)

	r.RemovePlayer("host")
	assert.Equal(t, StateGameOver, r.stateNow())
}

func TestRoundCompletesWhenLastUndecidedPlayerDisconnects(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 60, TotalRounds: 1})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)
	r.prepareGame(false)

	r.StartGame("host")
	require.True(t, host.waitFor(t, EventStartRound, 2*time.Second))

	r.HandleGuess("host", r.currentTitle())
	r.MarkDisconnected("guest")

	require.True(t, host.waitFor(t, EventRoundResult, 2*time.Second))
}

func TestRematchResetsScoresKeepsWinsAndAvoidsPlayedTracks(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(4)}
	fetcher := &fakeFetcher{}
	r := newTestRoom(t, svc, fetcher, Settings{RoundDuration: 30, TotalRounds: 2})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)
	r.prepareGame(false)

	r.StartGame("host")
	for round := 1; round <= 2; round++ {
		require.True(t, host.waitForN(t, EventStartRound, round, 2*time.Second))
		r.HandleGuess("host", r.currentTitle())
		r.HandleGiveUp("guest")
	}
	require.True(t, host.waitFor(t, EventGameOver, 2*time.Second))

	r.PlayAgain("host", "")

	require.True(t, guest.waitFor(t, EventRematch, 2*time.Second))

	// Rematch auto-starts once preparation completes.
	require.True(t, host.waitForN(t, EventStartRound, 3, 5*time.Second))

	r.mu.Lock()
	assert.Equal(t, 1, r.players["host"].Wins)
	r.mu.Unlock()

	for round := 3; round <= 4; round++ {
		require.True(t, host.waitForN(t, EventStartRound, round, 2*time.Second))
		r.HandleGiveUp("host")
		r.HandleGiveUp("guest")
	}
	require.True(t, host.waitForN(t, EventGameOver, 2, 2*time.Second))

	// All four playlist tracks were selected exactly once across both games.
	ids := fetcher.fetchedIDs()
	seen := make(map[string]int)
	for _, id := range ids {
		seen[id]++
	}
	assert.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, "track %s fetched more than once", id)
	}
}

func TestPlayAgainRejectedOutsideGameOver(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 1})

	host := &fakeConn{}
	r.AddPlayer("host", host)
	r.prepareGame(false)

	r.PlayAgain("host", "")
	assert.Equal(t, 0, host.countOf(EventRematch))
}

func TestFailedMidGameTrackSkipsRound(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(2)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 60, TotalRounds: 2})

	host := &fakeConn{}
	r.AddPlayer("host", host)
	r.prepareGame(false)

	r.mu.Lock()
	tracks := append([]*Track(nil), r.tracks...)
	r.mu.Unlock()
	for _, tr := range tracks {
		<-tr.done
	}
	r.mu.Lock()
	tracks[1].Status = TrackFailed
	r.mu.Unlock()

	r.StartGame("host")
	require.True(t, host.waitFor(t, EventStartRound, 2*time.Second))
	r.HandleGuess("host", r.currentTitle())

	// Round two is skipped, the game still finishes.
	require.True(t, host.waitFor(t, EventGameOver, 3*time.Second))
	assert.Equal(t, 1, host.countOf(EventStartRound))
	assert.Equal(t, 1, host.countOf(EventRoundResult))
}

func TestJoinedEventSnapshot(t *testing.T) {
	svc := &fakePlaylistService{playlist: testPlaylist(1)}
	r := newTestRoom(t, svc, &fakeFetcher{}, Settings{RoundDuration: 30, TotalRounds: 1})

	host := &fakeConn{}
	guest := &fakeConn{}
	r.AddPlayer("host", host)
	r.AddPlayer("guest", guest)
	r.prepareGame(false)

	ev := r.JoinedEvent("guest")
	assert.Equal(t, "TESTR", ev.RoomCode)
	assert.False(t, ev.IsHost)
	assert.Equal(t, "host", ev.HostUsername)
	assert.Len(t, ev.Players, 2)
	require.NotNil(t, ev.PlaylistMetadata)
	assert.Equal(t, "Test Mix", ev.PlaylistMetadata.PlaylistName)

	hostView := r.JoinedEvent("host")
	assert.True(t, hostView.IsHost)
}
