package playlist

import "context"

// Track is one entry of a playlist as returned by the metadata service.
type Track struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// Playlist carries display metadata plus the ordered track list.
type Playlist struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	OwnerName     string  `json:"owner_name"`
	CoverImageURL string  `json:"cover_image_url"`
	Tracks        []Track `json:"tracks"`
}

// Service resolves a playlist identifier to its metadata and track list.
type Service interface {
	Fetch(ctx context.Context, playlistID string) (*Playlist, error)
}
