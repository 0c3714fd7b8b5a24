package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"songguess-server/internal/audio"
	"songguess-server/internal/game"
	"songguess-server/internal/playlist"
)

type Server struct {
	port        int
	audioDir    string
	registry    *game.Registry
	rateLimiter *RateLimiter
}

func NewServer() *http.Server {
	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}

	clientID := os.Getenv("SPOTIFY_CLIENT_ID")
	clientSecret := os.Getenv("SPOTIFY_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET must be set")
	}

	audioDir := os.Getenv("AUDIO_DIR")
	if audioDir == "" {
		audioDir = "./audio_cache"
	}

	ytdlpPath := os.Getenv("YTDLP_PATH")
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}

	maxDownloads, _ := strconv.Atoi(os.Getenv("MAX_CONCURRENT_DOWNLOADS"))
	if maxDownloads <= 0 {
		maxDownloads = 4
	}

	fetcher, err := audio.NewYTDLP(ytdlpPath, audioDir, int64(maxDownloads))
	if err != nil {
		log.Fatalf("Failed to set up audio cache directory: %v", err)
	}

	playlists := playlist.NewCachedService(
		playlist.NewSpotifyService(clientID, clientSecret),
		playlist.NewCache(playlist.DefaultTTL),
	)

	srv := &Server{
		port:        port,
		audioDir:    audioDir,
		registry:    game.NewRegistry(playlists, fetcher),
		rateLimiter: NewRateLimiter(10, time.Second),
	}

	go srv.rateLimiterCleanupTask()

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.port),
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// rateLimiterCleanupTask prunes rate limit state for idle connections.
func (s *Server) rateLimiterCleanupTask() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.rateLimiter.Cleanup()
	}
}
