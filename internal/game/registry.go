package game

import (
	"errors"
	"math/rand"
	"strings"
	"sync"

	"songguess-server/internal/audio"
	"songguess-server/internal/playlist"
)

// Room codes skip visually ambiguous characters (I, O, 0, 1).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const roomCodeLength = 5

// Registry owns every live room and the shared collaborators rooms need.
type Registry struct {
	playlists *playlist.CachedService
	audio     audio.Fetcher

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(playlists *playlist.CachedService, fetcher audio.Fetcher) *Registry {
	return &Registry{
		playlists: playlists,
		audio:     fetcher,
		rooms:     make(map[string]*Room),
	}
}

// CreateRoom allocates a room under a fresh code and kicks off track
// preparation in the background. The host's connection binds later over the
// websocket route.
func (reg *Registry) CreateRoom(hostUsername, playlistID string, settings Settings) *Room {
	reg.mu.Lock()
	code := reg.generateCodeLocked()
	room := newRoom(code, hostUsername, playlistID, settings, reg.playlists, reg.audio)
	reg.rooms[code] = room
	reg.mu.Unlock()

	go room.prepareGame(false)
	return room
}

func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[NormalizeRoomCode(code)]
	return room, ok
}

// Remove tears the room down and frees its code.
func (reg *Registry) Remove(code string) {
	reg.mu.Lock()
	room, ok := reg.rooms[code]
	if ok {
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()

	if ok {
		room.Close()
	}
}

func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

func (reg *Registry) generateCodeLocked() string {
	for {
		code := make([]byte, roomCodeLength)
		for i := range code {
			code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
		}
		if _, taken := reg.rooms[string(code)]; !taken {
			return string(code)
		}
	}
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidateRoomCode(code string) error {
	if len(code) != roomCodeLength {
		return errors.New("INVALID_ROOM_CODE: room code must be exactly 5 characters")
	}
	for _, ch := range code {
		if !strings.ContainsRune(roomCodeAlphabet, ch) {
			return errors.New("INVALID_ROOM_CODE: room code contains invalid characters")
		}
	}
	return nil
}
