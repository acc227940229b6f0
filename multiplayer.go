// Songdle multiplayer
//
// Two to six players race to identify a secret target song drawn from a
// rhythm-game tracklist, Wordle-style: every guess earns per-field
// feedback (exact match, higher/lower, close, older/newer) until someone
// names the song or runs out of guesses.
//
// Features:
// - Single WebSocket per client at /ws; rooms act as broadcast groups
// - Short 6-char room codes via crypto/rand, with collision check
// - Public rooms joinable at random, private rooms by code only
// - Host starts the game once all other players have readied up
// - Best-of-N matches (1/3/5/7/9); first to the majority of rounds wins
// - First correct guess ends the round for everyone at once
// - Players who leave mid-match forfeit; the last player standing wins
// - Departed players stay in the final results via participant snapshots
// - Global room cap with live room-count broadcasts to all clients
// - In-browser QR button to share a room's join link, backed by go-qrcode
//
// The hub processes every inbound event to completion before the next,
// so room state needs no further locking: whichever correct guess the
// hub sees first wins the round, regardless of wire-level timing.

package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// ClientMessage is the envelope for every client -> server event.
type ClientMessage struct {
	Type     string        `json:"type"`                // see dispatch in Hub.handle
	RoomID   string        `json:"roomId,omitempty"`    // everything room-scoped
	Nickname string        `json:"nickname,omitempty"`  // create_room / join_room / join_random_room
	Settings *GameSettings `json:"settings,omitempty"`  // create_room
	BestOf   int           `json:"bestOf,omitempty"`    // create_room
	Songs    []Song        `json:"songs,omitempty"`     // create_room (the client-side catalog)
	IsPublic bool          `json:"isPublic,omitempty"`  // create_room
	PlayerID string        `json:"playerId,omitempty"`  // remove_player
	Song     *Song         `json:"song,omitempty"`      // make_guess
}

// RoomCreatedMessage confirms creation to the host only.
type RoomCreatedMessage struct {
	Type   string `json:"type"` // "room_created"
	RoomID string `json:"roomId"`
	Room   *Room  `json:"room"`
}

// RoomStateMessage carries a full room snapshot; used for room_joined,
// host_changed, game_started, game_updated and next_round_started.
type RoomStateMessage struct {
	Type string `json:"type"`
	Room *Room  `json:"room"`
}

// PlayerEventMessage announces a player joining, readying or leaving.
type PlayerEventMessage struct {
	Type       string `json:"type"` // "player_joined", "player_ready", "player_left", "player_removed"
	Room       *Room  `json:"room"`
	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
}

// RoundEndedMessage closes out a round, revealing the target. Forfeit
// rounds carry a human-readable reason.
type RoundEndedMessage struct {
	Type        string `json:"type"` // "round_ended"
	Room        *Room  `json:"room"`
	RoundWinner string `json:"roundWinner,omitempty"`
	MatchWinner string `json:"matchWinner,omitempty"`
	TargetSong  Song   `json:"targetSong"`
	Forfeit     bool   `json:"forfeit,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ErrorMessage is sent only to the offending client.
type ErrorMessage struct {
	Type    string `json:"type"` // "room_error" or "guess_error"
	Message string `json:"message"`
}

// RoomCountMessage reports presence: total rooms, and public rooms still
// accepting players.
type RoomCountMessage struct {
	Type        string `json:"type"` // "room_count_update"
	Count       int    `json:"count"`
	PublicCount int    `json:"publicCount"`
}

type Client struct {
	conn   *websocket.Conn
	send   chan any
	id     string
	roomID string
}

type clientEvent struct {
	client *Client
	msg    ClientMessage
}

// Hub owns all room state. Its run loop is the only goroutine that
// touches the RoomManager.
type Hub struct {
	cfg     *Config
	rooms   *RoomManager
	clients map[string]*Client

	register chan *Client
	unreg    chan *Client
	events   chan clientEvent
}

func newHub(cfg *Config) *Hub {
	return &Hub{
		cfg:      cfg,
		rooms:    newRoomManager(cfg.maxRooms, cfg.maxPlayers),
		clients:  make(map[string]*Client),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		events:   make(chan clientEvent),
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.sendCounts(c)

		case c := <-h.unreg:
			if cur, ok := h.clients[c.id]; ok && cur == c {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.leaveRoom(c)

		case ev := <-h.events:
			h.handle(ev.client, ev.msg)
		}
	}
}

// handle dispatches one inbound event. Runs to completion before the hub
// picks up the next event.
func (h *Hub) handle(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "create_room":
		h.handleCreateRoom(c, msg)
	case "join_room":
		h.handleJoinRoom(c, msg)
	case "join_random_room":
		h.handleJoinRandomRoom(c, msg)
	case "toggle_ready":
		if room, ok := h.rooms.ToggleReady(msg.RoomID, c.id); ok {
			h.broadcastRoom(room, PlayerEventMessage{Type: "player_ready", Room: room, PlayerID: c.id})
		}
	case "remove_player":
		h.handleRemovePlayer(c, msg)
	case "start_game":
		h.handleStartGame(c, msg)
	case "make_guess":
		h.handleMakeGuess(c, msg)
	case "give_up":
		if room, end := h.rooms.GiveUp(msg.RoomID, c.id); room != nil {
			h.finishRound(room, end)
			h.broadcastRoom(room, RoomStateMessage{Type: "game_updated", Room: room})
		}
	case "ready_next_round":
		h.handleReadyNextRound(c, msg)
	case "leave_room":
		h.leaveRoom(c)
	case "get_room_count":
		h.sendCounts(c)
	default:
		// ignore unknown types
	}
}

func (h *Hub) handleCreateRoom(c *Client, msg ClientMessage) {
	if msg.Settings == nil || msg.Nickname == "" {
		return
	}

	// A connection occupies at most one room.
	h.leaveRoom(c)

	room, err := h.rooms.CreateRoom(c.id, msg.Nickname, *msg.Settings, msg.BestOf, msg.Songs, msg.IsPublic)
	if err != nil {
		h.sendError(c, "room_error", err)
		return
	}

	c.roomID = room.ID
	h.send(c, RoomCreatedMessage{Type: "room_created", RoomID: room.ID, Room: room})
	logf(h.cfg, "ROOMS: Room %s created by %q (public: %t, pool: %d songs)",
		room.ID, msg.Nickname, room.IsPublic, len(room.FilteredSongs))

	h.broadcastCounts()
}

func (h *Hub) handleJoinRoom(c *Client, msg ClientMessage) {
	if msg.Nickname == "" {
		return
	}

	h.leaveRoom(c)

	room, err := h.rooms.JoinRoom(msg.RoomID, c.id, msg.Nickname)
	if err != nil {
		h.sendError(c, "room_error", err)
		return
	}

	c.roomID = room.ID
	h.send(c, RoomStateMessage{Type: "room_joined", Room: room})
	h.broadcastRoom(room, PlayerEventMessage{Type: "player_joined", Room: room, PlayerID: c.id})
	logf(h.cfg, "ROOMS: Player %q joined room %s", msg.Nickname, room.ID)

	h.broadcastCounts()
}

func (h *Hub) handleJoinRandomRoom(c *Client, msg ClientMessage) {
	if msg.Nickname == "" {
		return
	}

	h.leaveRoom(c)

	room, err := h.rooms.JoinRandomRoom(c.id, msg.Nickname)
	if err != nil {
		h.sendError(c, "room_error", err)
		return
	}

	c.roomID = room.ID
	h.send(c, RoomStateMessage{Type: "room_joined", Room: room})
	h.broadcastRoom(room, PlayerEventMessage{Type: "player_joined", Room: room, PlayerID: c.id})
	logf(h.cfg, "ROOMS: Player %q randomly joined room %s", msg.Nickname, room.ID)

	h.broadcastCounts()
}

func (h *Hub) handleRemovePlayer(c *Client, msg ClientMessage) {
	room, target, err := h.rooms.RemovePlayer(msg.RoomID, c.id, msg.PlayerID)
	if err != nil {
		h.sendError(c, "room_error", err)
		return
	}
	if target == nil {
		return
	}

	removed := PlayerEventMessage{
		Type:       "player_removed",
		Room:       room,
		PlayerID:   target.ID,
		PlayerName: target.Nickname,
	}

	// The target is no longer in the room's player map, so address them
	// directly before telling everyone else.
	if targetClient, ok := h.clients[target.ID]; ok {
		targetClient.roomID = ""
		h.send(targetClient, removed)
	}
	h.broadcastRoom(room, removed)
	logf(h.cfg, "ROOMS: Player %q removed from room %s by host", target.Nickname, room.ID)
}

func (h *Hub) handleStartGame(c *Client, msg ClientMessage) {
	room, err := h.rooms.StartGame(msg.RoomID, c.id)
	if err != nil {
		h.sendError(c, "room_error", err)
		return
	}

	h.broadcastRoom(room, RoomStateMessage{Type: "game_started", Room: room})
	logf(h.cfg, "GAME: Started in room %s with %d players", room.ID, len(room.Players))

	// Starting removes the room from the public joinable count.
	h.broadcastCounts()
}

func (h *Hub) handleMakeGuess(c *Client, msg ClientMessage) {
	if msg.Song == nil {
		return
	}

	room, end, err := h.rooms.MakeGuess(msg.RoomID, c.id, *msg.Song)
	if err != nil {
		h.sendError(c, "guess_error", err)
		return
	}
	if room == nil {
		return
	}

	h.finishRound(room, end)
	h.broadcastRoom(room, RoomStateMessage{Type: "game_updated", Room: room})
}

func (h *Hub) handleReadyNextRound(c *Client, msg ClientMessage) {
	room, started := h.rooms.ReadyNextRound(msg.RoomID, c.id)
	if room == nil {
		return
	}

	if started {
		h.broadcastRoom(room, RoomStateMessage{Type: "next_round_started", Room: room})
		logf(h.cfg, "GAME: Round %d started in room %s", room.CurrentRound, room.ID)
	} else {
		h.broadcastRoom(room, PlayerEventMessage{Type: "player_ready", Room: room})
	}
}

// finishRound broadcasts the round_ended notification if the round just
// completed.
func (h *Hub) finishRound(room *Room, end *RoundEnd) {
	if end == nil {
		return
	}

	h.broadcastRoom(room, RoundEndedMessage{
		Type:        "round_ended",
		Room:        room,
		RoundWinner: end.RoundWinner,
		MatchWinner: end.MatchWinner,
		TargetSong:  end.Target,
		Forfeit:     end.Forfeit,
		Message:     end.Message,
	})

	if end.MatchWinner != "" {
		logf(h.cfg, "GAME: Match in room %s won by %s", room.ID, end.MatchWinner)
	}
}

// leaveRoom funnels explicit leave_room and transport disconnects through
// the registry's forfeit semantics.
func (h *Hub) leaveRoom(c *Client) {
	if c.roomID == "" {
		return
	}

	roomID := c.roomID
	c.roomID = ""

	res := h.rooms.Leave(roomID, c.id)
	if res == nil {
		return
	}

	logf(h.cfg, "ROOMS: Player %q left room %s", res.PlayerName, roomID)

	if res.RoomDeleted {
		logf(h.cfg, "ROOMS: Room %s deleted", roomID)
		h.broadcastCounts()
		return
	}

	if res.Forfeit != nil {
		h.finishRound(res.Room, res.Forfeit)
	} else {
		h.broadcastRoom(res.Room, PlayerEventMessage{
			Type:       "player_left",
			Room:       res.Room,
			PlayerID:   res.PlayerID,
			PlayerName: res.PlayerName,
		})
	}

	if res.HostChanged {
		h.broadcastRoom(res.Room, RoomStateMessage{Type: "host_changed", Room: res.Room})
	}
}

// send enqueues a message for one client, evicting it if its buffer is
// full. Eviction closes the send channel, which tears the connection
// down through the write pump.
func (h *Hub) send(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		if cur, ok := h.clients[c.id]; ok && cur == c {
			delete(h.clients, c.id)
			close(c.send)
		}
	}
}

// broadcastRoom fans a message out to every player in the room.
func (h *Hub) broadcastRoom(room *Room, msg any) {
	for id := range room.Players {
		if c, ok := h.clients[id]; ok {
			h.send(c, msg)
		}
	}
}

func (h *Hub) sendCounts(c *Client) {
	total, public := h.rooms.Counts()
	h.send(c, RoomCountMessage{Type: "room_count_update", Count: total, PublicCount: public})
}

// broadcastCounts updates every connected client whenever a room is
// created, deleted, or starts playing.
func (h *Hub) broadcastCounts() {
	total, public := h.rooms.Counts()
	msg := RoomCountMessage{Type: "room_count_update", Count: total, PublicCount: public}
	for _, c := range h.clients {
		h.send(c, msg)
	}
}

func (h *Hub) sendError(c *Client, kind string, err error) {
	h.send(c, ErrorMessage{Type: kind, Message: err.Error()})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection and runs the client pumps. Each
// connection gets a fresh transient identity.
func serveWS(hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
			id:   uuid.NewString(),
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.events <- clientEvent{
			client: c,
			msg:    msg,
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// qrHandler generates a PNG QR code for a room's join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../room/:roomid/qr; strip trailing "/qr" to get the
	// join URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerMultiplayer sets up routes so that:
//   - $prefix/ws               → WebSocket for all game events
//   - $prefix/room/:roomid/qr  → PNG QR code for that room's join URL
func registerMultiplayer(cfg *Config, mux *httprouter.Router) *Hub {
	hub := newHub(cfg)
	go hub.run()

	mux.GET(cfg.prefix+"/ws", serveWS(hub))
	mux.GET(cfg.prefix+"/room/:roomid/qr", qrHandler)

	return hub
}
