package game

type TrackStatus string

const (
	TrackPending     TrackStatus = "pending"
	TrackDownloading TrackStatus = "downloading"
	TrackDownloaded  TrackStatus = "downloaded"
	TrackFailed      TrackStatus = "failed"
)

// Track is one selected song for a game. Status is guarded by the owning
// room's mutex; done is the acquisition handle, closed exactly once when the
// status settles on downloaded or failed.
type Track struct {
	ID     string
	Title  string
	Artist string
	File   string

	Status TrackStatus
	done   chan struct{}
}

func newTrack(id, title, artist string) *Track {
	return &Track{
		ID:     id,
		Title:  title,
		Artist: artist,
		File:   id + ".mp3",
		Status: TrackPending,
		done:   make(chan struct{}),
	}
}

// resolved reports whether acquisition has finished either way.
// Callers must hold the room mutex.
func (t *Track) resolved() bool {
	return t.Status == TrackDownloaded || t.Status == TrackFailed
}
