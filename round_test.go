package main

import (
	"errors"
	"fmt"
	"testing"
)

// startTestMatch creates a room, admits extra players, readies everyone,
// and starts the game.
func startTestMatch(t *testing.T, rm *RoomManager, bestOf, players int) *Room {
	t.Helper()

	room, err := rm.CreateRoom("p1", "p1", testSettings(), bestOf, testSongs(), false)
	if err != nil {
		t.Fatal(err)
	}

	for i := 2; i <= players; i++ {
		id := fmt.Sprintf("p%d", i)
		if _, err := rm.JoinRoom(room.ID, id, id); err != nil {
			t.Fatal(err)
		}
		room.Players[id].IsReady = true
	}

	if _, err := rm.StartGame(room.ID, "p1"); err != nil {
		t.Fatal(err)
	}

	return room
}

// wrongSong returns a pool song that is not the room's current target.
func wrongSong(t *testing.T, room *Room) Song {
	t.Helper()

	for _, song := range room.FilteredSongs {
		if song.ID != room.TargetSong.ID {
			return song
		}
	}
	t.Fatal("pool has no song besides the target")
	return Song{}
}

// winRound has the given player guess the current target correctly.
func winRound(t *testing.T, rm *RoomManager, room *Room, playerID string) *RoundEnd {
	t.Helper()

	_, end, err := rm.MakeGuess(room.ID, playerID, room.TargetSong)
	if err != nil {
		t.Fatal(err)
	}
	return end
}

func TestStartGameValidation(t *testing.T) {
	rm := newRoomManager(10, 6)

	room, _ := rm.CreateRoom("p1", "p1", testSettings(), 3, testSongs(), false)

	if _, err := rm.StartGame(room.ID, "p1"); !errors.Is(err, errNotEnoughPlayers) {
		t.Errorf("expected errNotEnoughPlayers, got %v", err)
	}

	rm.JoinRoom(room.ID, "p2", "p2")

	if _, err := rm.StartGame(room.ID, "p2"); !errors.Is(err, errNotHost) {
		t.Errorf("expected errNotHost, got %v", err)
	}

	if _, err := rm.StartGame(room.ID, "p1"); !errors.Is(err, errPlayersNotReady) {
		t.Errorf("expected errPlayersNotReady, got %v", err)
	}

	room.Players["p2"].IsReady = true

	if _, err := rm.StartGame(room.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	if room.Status != statusPlaying {
		t.Errorf("status = %s, want playing", room.Status)
	}
	if len(room.AllParticipants) != 2 {
		t.Errorf("all current players should be snapshotted, got %d", len(room.AllParticipants))
	}
}

func TestFirstCorrectGuessWinsExclusively(t *testing.T) {
	rm := newRoomManager(10, 6)
	room := startTestMatch(t, rm, 5, 3)

	end := winRound(t, rm, room, "p2")
	if end == nil {
		t.Fatal("a correct guess with all rounds forced over must finalize the round")
	}
	if end.RoundWinner != "p2" || end.MatchWinner != "" {
		t.Fatalf("end = %+v", end)
	}

	if !room.Players["p2"].CurrentRound.Won {
		t.Error("the winning player's round must record the win")
	}
	for _, id := range []string{"p1", "p3"} {
		p := room.Players[id]
		if !p.CurrentRound.GameOver || p.CurrentRound.Won {
			t.Errorf("player %s should be force-ended as a loss: %+v", id, p.CurrentRound)
		}
	}

	// A second "correct" guess for the same round is a no-op.
	if gotRoom, gotEnd, err := rm.MakeGuess(room.ID, "p3", room.TargetSong); gotRoom != nil || gotEnd != nil || err != nil {
		t.Error("guessing after the round is over must be ignored")
	}

	wins := 0
	for _, w := range room.RoundsWon {
		wins += w
	}
	if wins != 1 {
		t.Errorf("exactly one round win should be recorded, got %d", wins)
	}
}

func TestGuessDeduplication(t *testing.T) {
	rm := newRoomManager(10, 6)
	room := startTestMatch(t, rm, 3, 2)

	song := wrongSong(t, room)

	if _, _, err := rm.MakeGuess(room.ID, "p1", song); err != nil {
		t.Fatal(err)
	}
	if _, _, err := rm.MakeGuess(room.ID, "p1", song); !errors.Is(err, errDuplicateGuess) {
		t.Fatalf("expected errDuplicateGuess, got %v", err)
	}

	if got := len(room.Players["p1"].CurrentRound.Guesses); got != 1 {
		t.Errorf("duplicate guess must not be appended; have %d", got)
	}
}

func TestGuessExhaustionEndsOnlyOwnRound(t *testing.T) {
	rm := newRoomManager(10, 6)

	room, _ := rm.CreateRoom("p1", "p1", testSettings(), 3, testSongs(), false)
	room.Settings.MaxGuesses = 1
	rm.JoinRoom(room.ID, "p2", "p2")
	room.Players["p2"].IsReady = true
	rm.StartGame(room.ID, "p1")

	_, end, err := rm.MakeGuess(room.ID, "p1", wrongSong(t, room))
	if err != nil {
		t.Fatal(err)
	}
	if end != nil {
		t.Fatal("round must stay open while p2 can still guess")
	}

	if !room.Players["p1"].CurrentRound.GameOver {
		t.Error("p1 exhausted their guesses")
	}
	if room.Players["p2"].CurrentRound.GameOver {
		t.Error("p2's round must be unaffected")
	}
}

func TestRoundWithNoWinner(t *testing.T) {
	rm := newRoomManager(10, 6)
	room := startTestMatch(t, rm, 3, 2)

	if _, end := rm.GiveUp(room.ID, "p1"); end != nil {
		t.Fatal("round should still be open")
	}
	room2, end := rm.GiveUp(room.ID, "p2")
	if room2 == nil || end == nil {
		t.Fatal("all players done must finalize the round")
	}

	if end.RoundWinner != "" || end.MatchWinner != "" {
		t.Errorf("nobody won this round: %+v", end)
	}
	if end.Target.ID != room.TargetSong.ID {
		t.Error("round end must reveal the target")
	}
	if room.Status != statusPlaying {
		t.Errorf("an undecided match must keep playing, got %s", room.Status)
	}

	wins := 0
	for _, w := range room.RoundsWon {
		wins += w
	}
	if wins != 0 {
		t.Errorf("no round wins should be recorded, got %d", wins)
	}
}

func TestRoundResetFidelity(t *testing.T) {
	rm := newRoomManager(10, 6)
	room := startTestMatch(t, rm, 5, 2)

	rm.MakeGuess(room.ID, "p2", wrongSong(t, room))
	winRound(t, rm, room, "p1")

	if _, started := rm.ReadyNextRound(room.ID, "p1"); started {
		t.Fatal("next round must wait for every player")
	}
	_, started := rm.ReadyNextRound(room.ID, "p2")
	if !started {
		t.Fatal("all players ready must start the next round")
	}

	if room.CurrentRound != 2 {
		t.Errorf("currentRound = %d, want 2", room.CurrentRound)
	}
	for id, p := range room.Players {
		if len(p.CurrentRound.Guesses) != 0 || p.CurrentRound.GameOver || p.CurrentRound.Won {
			t.Errorf("player %s round not reset: %+v", id, p.CurrentRound)
		}
		if p.ReadyForNextRound {
			t.Errorf("player %s readyForNextRound not cleared", id)
		}
	}
}

func TestBestOfThreeMatch(t *testing.T) {
	rm := newRoomManager(10, 6)
	room := startTestMatch(t, rm, 3, 2)

	// Round 1: p1 misses once, then takes the round.
	rm.MakeGuess(room.ID, "p1", wrongSong(t, room))
	end := winRound(t, rm, room, "p1")
	if end.RoundWinner != "p1" || end.MatchWinner != "" {
		t.Fatalf("round 1: %+v", end)
	}
	if room.RoundsWon["p1"] != 1 || room.Status != statusPlaying {
		t.Fatalf("after round 1: roundsWon=%v status=%s", room.RoundsWon, room.Status)
	}

	rm.ReadyNextRound(room.ID, "p1")
	rm.ReadyNextRound(room.ID, "p2")

	// Round 2: p2 takes it on the first attempt.
	end = winRound(t, rm, room, "p2")
	if end.RoundWinner != "p2" || end.MatchWinner != "" {
		t.Fatalf("round 2: %+v", end)
	}
	if room.RoundsWon["p1"] != 1 || room.RoundsWon["p2"] != 1 {
		t.Fatalf("after round 2: roundsWon=%v", room.RoundsWon)
	}

	rm.ReadyNextRound(room.ID, "p1")
	rm.ReadyNextRound(room.ID, "p2")

	// Round 3: p1 clinches the match.
	end = winRound(t, rm, room, "p1")
	if end.RoundWinner != "p1" || end.MatchWinner != "p1" {
		t.Fatalf("round 3: %+v", end)
	}
	if room.Status != statusFinished || room.Winner != "p1" {
		t.Fatalf("match should be finished with p1 as winner: status=%s winner=%s", room.Status, room.Winner)
	}

	// Final scores are locked into the participant snapshots.
	if room.AllParticipants["p1"].Score != 2 || room.AllParticipants["p2"].Score != 1 {
		t.Errorf("snapshots = %+v", room.AllParticipants)
	}

	// Finished rooms accept no further play.
	if gotRoom, gotEnd, err := rm.MakeGuess(room.ID, "p2", room.TargetSong); gotRoom != nil || gotEnd != nil || err != nil {
		t.Error("a finished room must ignore guesses")
	}
	if _, started := rm.ReadyNextRound(room.ID, "p2"); started {
		t.Error("a finished room must not start another round")
	}
}

func TestForfeitPromotion(t *testing.T) {
	rm := newRoomManager(10, 6)
	room := startTestMatch(t, rm, 3, 3)

	res := rm.Leave(room.ID, "p3")
	if res == nil || res.Forfeit != nil {
		t.Fatal("two players remain; the match must continue")
	}
	if room.Status != statusPlaying {
		t.Fatalf("status = %s, want playing", room.Status)
	}

	res = rm.Leave(room.ID, "p2")
	if res == nil || res.Forfeit == nil {
		t.Fatal("one player remains; the match must end as a forfeit")
	}
	if !res.Forfeit.Forfeit || res.Forfeit.MatchWinner != "p1" || res.Forfeit.Message == "" {
		t.Fatalf("forfeit = %+v", res.Forfeit)
	}
	if room.Status != statusFinished || room.Winner != "p1" {
		t.Fatalf("status=%s winner=%s", room.Status, room.Winner)
	}
	if room.RoundsWon["p1"] < room.winThreshold() {
		t.Errorf("forfeit winner must reach the clinching threshold: %v", room.RoundsWon)
	}

	// The departed players survive in the participant history.
	for _, id := range []string{"p2", "p3"} {
		if _, ok := room.AllParticipants[id]; !ok {
			t.Errorf("participant snapshot for %s lost on leave", id)
		}
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	rm := newRoomManager(10, 6)
	room := startTestMatch(t, rm, 1, 2)

	winRound(t, rm, room, "p1")
	if room.Status != statusFinished {
		t.Fatalf("bestOf=1 ends after one round, got %s", room.Status)
	}

	// No coordinator entry point may move a finished room backwards.
	rm.ReadyNextRound(room.ID, "p1")
	rm.ReadyNextRound(room.ID, "p2")
	rm.GiveUp(room.ID, "p2")
	if _, ok := rm.ToggleReady(room.ID, "p2"); ok {
		t.Error("toggle_ready must not touch a finished room")
	}
	if room.Status != statusFinished {
		t.Errorf("status regressed to %s", room.Status)
	}
}
