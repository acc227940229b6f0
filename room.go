package main

import (
	"crypto/rand"
	"errors"
)

// Room lifecycle states. Transitions are one-way:
// waiting -> playing -> finished.
const (
	statusWaiting  = "waiting"
	statusPlaying  = "playing"
	statusFinished = "finished"
)

const avatarCount = 6

var (
	errRoomCapacity     = errors.New("the server is at its room limit, please try again later")
	errNoEligibleSongs  = errors.New("no songs match the current settings, please adjust them")
	errRoomNotFound     = errors.New("room does not exist")
	errRoomStarted      = errors.New("the game has already started")
	errRoomFull         = errors.New("room is full")
	errNoPublicRoom     = errors.New("no public rooms are available, please create one or try again later")
	errNotHost          = errors.New("only the host can do that")
	errNotEnoughPlayers = errors.New("at least two players are needed to start")
	errPlayersNotReady  = errors.New("waiting for all players to ready up")
	errDuplicateGuess   = errors.New("you already guessed that song this round")
)

// RoundState is a player's record for the round in progress.
type RoundState struct {
	Guesses       []Guess `json:"guesses"`
	GameOver      bool    `json:"gameOver"`
	Won           bool    `json:"won"`
	RemainingTime int     `json:"remainingTime"`
}

// Player is the server-side state for one connected participant.
type Player struct {
	ID                string     `json:"id"`
	Nickname          string     `json:"nickname"`
	Score             int        `json:"score"`
	CurrentRound      RoundState `json:"currentRound"`
	IsReady           bool       `json:"isReady"`
	ReadyForNextRound bool       `json:"readyForNextRound"`

	joinedAt int
}

// Participant is the durable snapshot kept in allParticipants, so players
// who disconnect mid-match still appear in final results.
type Participant struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
	AvatarID int    `json:"avatarId"`
}

// Room is the aggregate for one match. The target song and pool never
// leave the server; everything else is broadcast verbatim.
type Room struct {
	ID              string                 `json:"id"`
	Host            string                 `json:"host"`
	Players         map[string]*Player     `json:"players"`
	Settings        GameSettings           `json:"settings"`
	BestOf          int                    `json:"bestOf"`
	CurrentRound    int                    `json:"currentRound"`
	MaxRounds       int                    `json:"maxRounds"`
	RoundsWon       map[string]int         `json:"roundsWon"`
	TargetSong      Song                   `json:"-"`
	FilteredSongs   []Song                 `json:"-"`
	Status          string                 `json:"status"`
	Winner          string                 `json:"winner,omitempty"`
	IsPublic        bool                   `json:"isPublic"`
	PlayerAvatars   map[string]int         `json:"playerAvatars"`
	AllParticipants map[string]Participant `json:"allParticipants"`

	joinSeq int
}

func newRoundState(settings GameSettings) RoundState {
	return RoundState{
		Guesses:       []Guess{},
		RemainingTime: settings.TimeLimit,
	}
}

// updateParticipant refreshes (or creates) a player's durable snapshot.
// Entries are never removed once written.
func (r *Room) updateParticipant(playerID string) {
	player, ok := r.Players[playerID]
	if !ok {
		return
	}

	avatarID := r.PlayerAvatars[playerID]
	if avatarID == 0 {
		avatarID = 1
	}

	r.AllParticipants[playerID] = Participant{
		ID:       player.ID,
		Nickname: player.Nickname,
		Score:    player.Score,
		AvatarID: avatarID,
	}
}

// nextAvatarID assigns the lowest unused avatar slot, wrapping to 1 when
// every slot is taken.
func (r *Room) nextAvatarID() int {
	used := make(map[int]bool, len(r.PlayerAvatars))
	for _, id := range r.PlayerAvatars {
		used[id] = true
	}

	for id := 1; id <= avatarCount; id++ {
		if !used[id] {
			return id
		}
	}

	return 1
}

func (r *Room) winThreshold() int {
	return (r.MaxRounds + 1) / 2
}

// RoomManager is the registry of live rooms. It is not internally locked:
// all mutation goes through the hub's event loop, which processes one
// event at a time.
type RoomManager struct {
	rooms      map[string]*Room
	maxRooms   int
	maxPlayers int
}

func newRoomManager(maxRooms, maxPlayers int) *RoomManager {
	return &RoomManager{
		rooms:      make(map[string]*Room),
		maxRooms:   maxRooms,
		maxPlayers: maxPlayers,
	}
}

// Room code alphabet skips easily-confused characters (I/O/0/1).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newRoomCode generates a crypto-random 6-character code, retrying on
// collision with live rooms.
func (rm *RoomManager) newRoomCode() string {
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 6)
		for i := range out {
			out[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
		}
		code := string(out)

		if _, exists := rm.rooms[code]; !exists {
			return code
		}
	}
}

// Counts returns the total live room count and how many rooms are public
// and still joinable.
func (rm *RoomManager) Counts() (total, public int) {
	total = len(rm.rooms)
	for _, room := range rm.rooms {
		if room.IsPublic && room.Status == statusWaiting {
			public++
		}
	}
	return total, public
}

func (rm *RoomManager) Room(roomID string) *Room {
	return rm.rooms[roomID]
}

// CreateRoom registers a fresh room with the caller as host. The host is
// exempt from the ready requirement.
func (rm *RoomManager) CreateRoom(hostID, nickname string, settings GameSettings, bestOf int, songs []Song, isPublic bool) (*Room, error) {
	if len(rm.rooms) >= rm.maxRooms {
		return nil, errRoomCapacity
	}

	filtered := filterSongs(songs, settings)
	if len(filtered) == 0 {
		return nil, errNoEligibleSongs
	}

	if bestOf < 1 || bestOf > 9 || bestOf%2 == 0 {
		bestOf = 3
	}

	room := &Room{
		ID:   rm.newRoomCode(),
		Host: hostID,
		Players: map[string]*Player{
			hostID: {
				ID:           hostID,
				Nickname:     nickname,
				CurrentRound: newRoundState(settings),
			},
		},
		Settings:        settings,
		BestOf:          bestOf,
		CurrentRound:    1,
		MaxRounds:       bestOf,
		RoundsWon:       make(map[string]int),
		TargetSong:      randomSong(filtered),
		FilteredSongs:   filtered,
		Status:          statusWaiting,
		IsPublic:        isPublic,
		PlayerAvatars:   map[string]int{hostID: randomIndex(avatarCount) + 1},
		AllParticipants: make(map[string]Participant),
	}

	rm.rooms[room.ID] = room

	return room, nil
}

// JoinRoom admits a player into a waiting room.
func (rm *RoomManager) JoinRoom(roomID, playerID, nickname string) (*Room, error) {
	room, ok := rm.rooms[roomID]
	if !ok {
		return nil, errRoomNotFound
	}

	if room.Status != statusWaiting {
		return nil, errRoomStarted
	}

	if len(room.Players) >= rm.maxPlayers {
		return nil, errRoomFull
	}

	room.joinSeq++
	room.PlayerAvatars[playerID] = room.nextAvatarID()
	room.Players[playerID] = &Player{
		ID:           playerID,
		Nickname:     nickname,
		CurrentRound: newRoundState(room.Settings),
		joinedAt:     room.joinSeq,
	}

	return room, nil
}

// JoinRandomRoom picks uniformly among public waiting rooms with space.
func (rm *RoomManager) JoinRandomRoom(playerID, nickname string) (*Room, error) {
	available := make([]*Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		if room.IsPublic && room.Status == statusWaiting && len(room.Players) < rm.maxPlayers {
			available = append(available, room)
		}
	}

	if len(available) == 0 {
		return nil, errNoPublicRoom
	}

	room := available[randomIndex(len(available))]

	return rm.JoinRoom(room.ID, playerID, nickname)
}

// ToggleReady flips a player's lobby ready flag. The host and any room no
// longer waiting are no-ops.
func (rm *RoomManager) ToggleReady(roomID, playerID string) (*Room, bool) {
	room, ok := rm.rooms[roomID]
	if !ok || room.Status != statusWaiting {
		return nil, false
	}

	player, ok := room.Players[playerID]
	if !ok || playerID == room.Host {
		return nil, false
	}

	player.IsReady = !player.IsReady

	return room, true
}

// RemovePlayer kicks a player on the host's behalf.
func (rm *RoomManager) RemovePlayer(roomID, callerID, targetID string) (*Room, *Player, error) {
	room, ok := rm.rooms[roomID]
	if !ok {
		return nil, nil, errRoomNotFound
	}

	if callerID != room.Host {
		return nil, nil, errNotHost
	}

	// The host leaves via leave_room, not by kicking themselves.
	if targetID == callerID {
		return nil, nil, nil
	}

	target, ok := room.Players[targetID]
	if !ok {
		return nil, nil, nil
	}

	delete(room.Players, targetID)
	delete(room.PlayerAvatars, targetID)

	return room, target, nil
}

// LeaveResult reports everything the gateway needs to broadcast after a
// player leaves or disconnects.
type LeaveResult struct {
	Room        *Room
	PlayerID    string
	PlayerName  string
	RoomDeleted bool
	HostChanged bool
	Forfeit     *RoundEnd
}

// Leave removes a player, funneling explicit leave_room and transport
// disconnect through the same forfeit semantics.
func (rm *RoomManager) Leave(roomID, playerID string) *LeaveResult {
	room, ok := rm.rooms[roomID]
	if !ok {
		return nil
	}

	player, ok := room.Players[playerID]
	if !ok {
		return nil
	}

	// Capture the final score before removal so match-result views keep
	// the departed player.
	if room.Status == statusPlaying || room.Status == statusFinished {
		room.updateParticipant(playerID)
	}

	wasPlaying := room.Status == statusPlaying

	delete(room.Players, playerID)
	delete(room.PlayerAvatars, playerID)

	result := &LeaveResult{
		Room:       room,
		PlayerID:   playerID,
		PlayerName: player.Nickname,
	}

	if wasPlaying && len(room.Players) == 1 {
		result.Forfeit = room.forfeitTo(soleRemainingPlayer(room))
	}

	if len(room.Players) == 0 {
		delete(rm.rooms, roomID)
		result.RoomDeleted = true
		return result
	}

	if playerID == room.Host {
		room.Host = earliestPlayer(room)
		result.HostChanged = true
	}

	return result
}

// forfeitTo ends the match immediately in favor of the last player
// standing, forcing their score up to the clinching threshold.
func (r *Room) forfeitTo(winnerID string) *RoundEnd {
	r.Status = statusFinished
	r.Winner = winnerID

	threshold := r.winThreshold()
	r.RoundsWon[winnerID] = threshold
	if winner, ok := r.Players[winnerID]; ok {
		winner.Score = threshold
	}
	r.updateParticipant(winnerID)

	nickname := winnerID
	if winner, ok := r.Players[winnerID]; ok {
		nickname = winner.Nickname
	}

	return &RoundEnd{
		RoundWinner: winnerID,
		MatchWinner: winnerID,
		Target:      r.TargetSong,
		Forfeit:     true,
		Message:     "All other players have left the game. " + nickname + " wins!",
	}
}

func soleRemainingPlayer(room *Room) string {
	for id := range room.Players {
		return id
	}
	return ""
}

// earliestPlayer picks the successor host: the remaining player who
// joined first.
func earliestPlayer(room *Room) string {
	best := ""
	bestSeq := 0
	for id, player := range room.Players {
		if best == "" || player.joinedAt < bestSeq {
			best = id
			bestSeq = player.joinedAt
		}
	}
	return best
}
