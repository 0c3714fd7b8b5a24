package game

import (
	"context"
	"log"
	"math/rand"

	"songguess-server/internal/audio"
	"songguess-server/internal/playlist"
)

// prepareGame runs the track preparation pipeline in the background: resolve
// the playlist through the cache, select a random unplayed subset, and start
// acquiring every selected track immediately. The preparation-complete signal
// fires once selection is finalized; downloads keep running after it.
//
// On a rematch the caller auto-starts the game afterwards, so the host-ready
// notification is skipped.
func (r *Room) prepareGame(isRematch bool) {
	r.mu.Lock()
	ctx := r.prepCtx
	prepDone := r.prepDone
	playlistID := r.playlistID
	desiredRounds := r.settings.TotalRounds
	duration := r.settings.RoundDuration
	r.mu.Unlock()

	finish := func() {
		r.mu.Lock()
		r.prepFinished = true
		r.mu.Unlock()
		close(prepDone)
	}

	log.Printf("room=%s starting background preparation playlist=%s", r.Code, playlistID)

	p, err := r.playlists.Fetch(ctx, playlistID)
	if err != nil {
		log.Printf("room=%s playlist fetch failed: %v", r.Code, err)
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: "Error fetching the playlist.",
			Level:   "error",
		})
		finish()
		return
	}

	r.mu.Lock()
	r.playlistMeta = p
	r.mu.Unlock()

	r.broadcast(EventPlaylistDetails, PlaylistDetailsEvent{
		PlaylistName:          p.Name,
		PlaylistOwnerName:     p.OwnerName,
		PlaylistCoverImageURL: p.CoverImageURL,
	})

	r.mu.Lock()
	unplayed := make([]playlist.Track, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		if _, played := r.playedTrackIDs[t.ID]; !played {
			unplayed = append(unplayed, t)
		}
	}

	if len(unplayed) == 0 {
		r.mu.Unlock()
		log.Printf("room=%s no unplayed tracks left in playlist %s", r.Code, playlistID)
		r.broadcast(EventSystemMessage, SystemMessageEvent{
			Message: "No unplayed tracks found in this playlist.",
			Level:   "error",
		})
		finish()
		return
	}

	rand.Shuffle(len(unplayed), func(i, j int) {
		unplayed[i], unplayed[j] = unplayed[j], unplayed[i]
	})

	rounds := min(desiredRounds, len(unplayed))
	// The clamp sticks for the rest of the game.
	r.settings.TotalRounds = rounds
	selected := unplayed[:rounds]

	titles := make([]string, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		titles = append(titles, t.Title)
	}
	r.allTitles = titles

	tracks := make([]*Track, 0, len(selected))
	for _, st := range selected {
		tracks = append(tracks, newTrack(st.ID, st.Title, st.Artist))
	}
	r.tracks = tracks
	r.mu.Unlock()

	for _, t := range tracks {
		if r.audio.Exists(t.ID) {
			r.mu.Lock()
			t.Status = TrackDownloaded
			close(t.done)
			r.mu.Unlock()
			continue
		}
		go r.downloadTrack(ctx, t, duration)
	}

	finish()
	log.Printf("room=%s preparation finished, %d tracks selected", r.Code, len(tracks))

	r.broadcast(EventGamePrepared, GamePreparedEvent{Titles: titles})

	if !isRematch {
		go r.watchFirstTrack(tracks[0])
	}
}

// downloadTrack runs one acquisition to completion and settles the track's
// status. The fetcher bounds how many of these run real work at once.
func (r *Room) downloadTrack(ctx context.Context, t *Track, durationSeconds int) {
	r.mu.Lock()
	t.Status = TrackDownloading
	r.mu.Unlock()

	err := r.audio.Fetch(ctx, audio.SearchQuery(t.Artist, t.Title), t.ID, durationSeconds)

	r.mu.Lock()
	if err != nil {
		t.Status = TrackFailed
	} else {
		t.Status = TrackDownloaded
	}
	close(t.done)
	r.mu.Unlock()

	if err != nil {
		log.Printf("room=%s track %q acquisition failed: %v", r.Code, t.Title, err)
	}
}

// watchFirstTrack waits for the first selected track's acquisition and, on
// success, tells the host (and only the host) that play can begin. This is
// what unlocks Start before the rest of the songs are ready.
func (r *Room) watchFirstTrack(t *Track) {
	select {
	case <-t.done:
	case <-r.ctx.Done():
		return
	}

	r.mu.Lock()
	if t.Status != TrackDownloaded {
		r.mu.Unlock()
		return
	}
	r.firstTrackReady = true
	var hostConn Conn
	if host, ok := r.players[r.hostUsername]; ok {
		hostConn = host.Conn
	}
	r.mu.Unlock()

	if hostConn != nil {
		if err := hostConn.Send(EventHostReady, struct{}{}); err != nil {
			log.Printf("room=%s failed to notify host: %v", r.Code, err)
		}
	}
}
