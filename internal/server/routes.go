package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"songguess-server/internal/game"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/create-room", s.createRoomHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/ws/{room}/{username}", s.websocketHandler).Methods(http.MethodGet)

	// Round audio is served straight from the download cache.
	r.PathPrefix("/static/audio/").Handler(
		http.StripPrefix("/static/audio/", http.FileServer(http.Dir(s.audioDir))))

	return s.corsMiddleware(r)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(map[string]any{
		"status": "ok",
		"rooms":  s.registry.Count(),
	})
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := validateCreateRoom(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	room := s.registry.CreateRoom(req.Username, req.PlaylistID, game.Settings{
		RoundDuration: req.RoundDuration,
		TotalRounds:   req.TotalRounds,
	})

	log.Printf("room=%s created host=%s playlist=%s rounds=%d duration=%ds",
		room.Code, req.Username, req.PlaylistID, req.TotalRounds, req.RoundDuration)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(CreateRoomResponse{RoomCode: room.Code}); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorMessage{Message: message}); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := game.NormalizeRoomCode(vars["room"])
	username := vars["username"]

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()
	conn := &wsConn{socket: socket}

	if err := game.ValidateRoomCode(roomCode); err != nil {
		s.rejectConnection(conn, err.Error())
		return
	}
	if err := ValidateUsername(username); err != nil {
		s.rejectConnection(conn, err.Error())
		return
	}

	room, ok := s.registry.Get(roomCode)
	if !ok {
		s.rejectConnection(conn, "ROOM_NOT_FOUND: No room with that code")
		return
	}
	if room.IsUsernameOnline(username) {
		s.rejectConnection(conn, "USERNAME_TAKEN: That name is already connected in this room")
		return
	}

	connectionID := uuid.New().String()
	log.Printf("room=%s player=%s connected (%s)", roomCode, username, connectionID)

	if err := conn.Send(game.EventRoomJoined, room.JoinedEvent(username)); err != nil {
		log.Printf("room=%s player=%s initial snapshot send failed: %v", roomCode, username, err)
		return
	}
	room.AddPlayer(username, conn)

	defer func() {
		s.rateLimiter.RemoveConnection(connectionID)
		connected := room.MarkDisconnected(username)
		log.Printf("room=%s player=%s disconnected (%s)", roomCode, username, connectionID)
		if connected == 0 {
			log.Printf("room=%s empty, tearing down", roomCode)
			s.registry.Remove(room.Code)
		}
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.Printf("room=%s player=%s read error: %v", roomCode, username, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("room=%s player=%s non-text input", roomCode, username)
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(conn, "RATE_LIMITED: Too many messages, slow down")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("room=%s player=%s invalid JSON: %v", roomCode, username, err)
			s.sendError(conn, "Invalid JSON")
			continue
		}

		switch msg.Type {
		case "ping":
			if err := conn.Send("pong", struct{}{}); err != nil {
				log.Printf("room=%s player=%s pong failed: %v", roomCode, username, err)
			}

		case "start_game":
			// Blocks until the first track settles, so off the read loop.
			go room.StartGame(username)

		case "submit_guess":
			var req SubmitGuessRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				s.sendError(conn, "Invalid submit_guess payload")
				continue
			}
			room.HandleGuess(username, req.Guess)

		case "give_up":
			room.HandleGiveUp(username)

		case "leave_room":
			room.RemovePlayer(username)
			conn.Close("Left the room")
			return

		case "play_again":
			var req PlayAgainRequest
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &req); err != nil {
					s.sendError(conn, "Invalid play_again payload")
					continue
				}
			}
			room.PlayAgain(username, req.PlaylistID)

		default:
			log.Printf("room=%s player=%s unknown message type %q", roomCode, username, msg.Type)
			s.sendError(conn, fmt.Sprintf("Unknown message type: %s", msg.Type))
		}
	}
}

// rejectConnection tells the client why before closing, so browsers see more
// than a bare close frame.
func (s *Server) rejectConnection(conn *wsConn, reason string) {
	s.sendError(conn, reason)
	conn.Close(reason)
}

func (s *Server) sendError(conn *wsConn, message string) {
	if err := conn.Send(game.EventError, ErrorMessage{Message: message}); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}
