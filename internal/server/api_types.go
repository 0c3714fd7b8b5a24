package server

import (
	"errors"
	"fmt"
)

type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type CreateRoomRequest struct {
	Username      string `json:"username"`
	PlaylistID    string `json:"playlist_id"`
	RoundDuration int    `json:"round_duration"`
	TotalRounds   int    `json:"total_rounds"`
}

type CreateRoomResponse struct {
	RoomCode string `json:"room_code"`
}

type SubmitGuessRequest struct {
	Guess string `json:"guess"`
}

type PlayAgainRequest struct {
	PlaylistID string `json:"playlist_id,omitempty"`
}

const (
	defaultRoundDuration = 30
	defaultTotalRounds   = 10
	maxTotalRounds       = 50
)

var allowedRoundDurations = map[int]bool{
	15: true,
	20: true,
	30: true,
	60: true,
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return errors.New("USERNAME_INVALID: Username cannot be empty")
	}
	if len(username) > 20 {
		return errors.New("USERNAME_INVALID: Username too long (max 20 characters)")
	}
	return nil
}

// validateCreateRoom checks the request and fills in defaults for omitted
// settings.
func validateCreateRoom(req *CreateRoomRequest) error {
	if err := ValidateUsername(req.Username); err != nil {
		return err
	}
	if req.PlaylistID == "" {
		return errors.New("PLAYLIST_INVALID: Playlist ID cannot be empty")
	}
	if req.RoundDuration == 0 {
		req.RoundDuration = defaultRoundDuration
	}
	if !allowedRoundDurations[req.RoundDuration] {
		return fmt.Errorf("ROUND_DURATION_INVALID: Round duration must be 15, 20, 30 or 60 seconds, got %d", req.RoundDuration)
	}
	if req.TotalRounds == 0 {
		req.TotalRounds = defaultTotalRounds
	}
	if req.TotalRounds < 1 || req.TotalRounds > maxTotalRounds {
		return fmt.Errorf("TOTAL_ROUNDS_INVALID: Total rounds must be between 1 and %d", maxTotalRounds)
	}
	return nil
}
