package playlist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyAPIBase  = "https://api.spotify.com/v1"
)

// SpotifyService implements Service against the Spotify Web API using the
// client-credentials flow. Safe for concurrent use.
type SpotifyService struct {
	clientID     string
	clientSecret string
	client       *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewSpotifyService(clientID, clientSecret string) *SpotifyService {
	return &SpotifyService{
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SpotifyService) Fetch(ctx context.Context, playlistID string) (*Playlist, error) {
	meta, err := s.fetchMetadata(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	tracks, err := s.fetchTracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	meta.Tracks = tracks
	return meta, nil
}

type spotifyPlaylistResponse struct {
	Name  string `json:"name"`
	Owner struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

type spotifyTracksPage struct {
	Items []struct {
		Track *struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

func (s *SpotifyService) fetchMetadata(ctx context.Context, playlistID string) (*Playlist, error) {
	endpoint := fmt.Sprintf("%s/playlists/%s?fields=name,owner(display_name),images", spotifyAPIBase, url.PathEscape(playlistID))

	var resp spotifyPlaylistResponse
	if err := s.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch playlist %s: %w", playlistID, err)
	}

	p := &Playlist{
		ID:        playlistID,
		Name:      resp.Name,
		OwnerName: resp.Owner.DisplayName,
	}
	if len(resp.Images) > 0 {
		p.CoverImageURL = resp.Images[0].URL
	}
	return p, nil
}

func (s *SpotifyService) fetchTracks(ctx context.Context, playlistID string) ([]Track, error) {
	next := fmt.Sprintf("%s/playlists/%s/tracks?limit=100", spotifyAPIBase, url.PathEscape(playlistID))

	var tracks []Track
	for next != "" {
		var page spotifyTracksPage
		if err := s.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch tracks for %s: %w", playlistID, err)
		}

		for _, item := range page.Items {
			t := item.Track
			// Local files and removed tracks come back without an id.
			if t == nil || t.ID == "" || t.Name == "" {
				continue
			}
			names := make([]string, 0, len(t.Artists))
			for _, a := range t.Artists {
				names = append(names, a.Name)
			}
			tracks = append(tracks, Track{
				ID:     t.ID,
				Title:  t.Name,
				Artist: strings.Join(names, ", "),
			})
		}

		next = page.Next
	}

	return tracks, nil
}

func (s *SpotifyService) getJSON(ctx context.Context, endpoint string, out any) error {
	token, err := s.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("spotify API returned %d for %s", resp.StatusCode, endpoint)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// token returns a cached client-credentials token, refreshing when it is
// within 30 seconds of expiry.
func (s *SpotifyService) token(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if s.accessToken != "" && time.Until(s.tokenExpiry) > 30*time.Second {
		return s.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spotifyTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify token request returned %d, check client credentials", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	s.accessToken = body.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return s.accessToken, nil
}
