package game

// Server → client event types. The server layer wraps payloads in its
// message envelope; the room only picks the type and payload.
const (
	EventRoomJoined      = "room_joined"
	EventUpdatePlayers   = "update_players"
	EventPlaylistDetails = "playlist_details_updated"
	EventGamePrepared    = "game_prepared"
	EventHostReady       = "host_ready_to_start"
	EventRematch         = "rematch_initiated"
	EventRoundCountdown  = "round_countdown"
	EventStartRound      = "start_round"
	EventGuessResult     = "guess_result"
	EventRoundResult     = "round_result"
	EventGameOver        = "game_over"
	EventSystemMessage   = "system_message"
	EventError           = "error"
)

// RoomJoinedEvent is the state snapshot handed to a client the moment its
// connection binds into a room.
type RoomJoinedEvent struct {
	RoomCode         string                `json:"room_code"`
	IsHost           bool                  `json:"is_host"`
	HostUsername     string                `json:"host_username"`
	Players          []Info                `json:"players"`
	PlaylistMetadata *PlaylistDetailsEvent `json:"playlist_metadata"`
}

type UpdatePlayersEvent struct {
	Players      []Info `json:"players"`
	HostUsername string `json:"host_username"`
}

type PlaylistDetailsEvent struct {
	PlaylistName          string `json:"playlist_name"`
	PlaylistOwnerName     string `json:"playlist_owner_name"`
	PlaylistCoverImageURL string `json:"playlist_cover_image_url"`
}

type GamePreparedEvent struct {
	Titles []string `json:"titles"`
}

type RematchEvent struct {
	Message string `json:"message"`
}

type StartRoundEvent struct {
	Round       int    `json:"round"`
	TotalRounds int    `json:"total_rounds"`
	Duration    int    `json:"duration"`
	AudioRef    string `json:"audio_ref"`
}

type GuessResultEvent struct {
	Correct bool   `json:"correct"`
	Message string `json:"message"`
}

type RoundResultEvent struct {
	CorrectTitle  string `json:"correct_title"`
	CorrectArtist string `json:"correct_artist"`
}

type GameOverEvent struct {
	Scoreboard []Info `json:"scoreboard"`
	Winner     *Info  `json:"winner"`
}

type SystemMessageEvent struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
