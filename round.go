package main

// RoundEnd describes a completed round: who took it, whether the match is
// decided, and the revealed target. Forfeit rounds carry a reason.
type RoundEnd struct {
	RoundWinner string
	MatchWinner string
	Target      Song
	Forfeit     bool
	Message     string
}

// StartGame moves a waiting room into play. Only the host may start, at
// least two players must be present, and every non-host player must be
// ready. Every current player is snapshotted into allParticipants so the
// final results survive later disconnects.
func (rm *RoomManager) StartGame(roomID, callerID string) (*Room, error) {
	room, ok := rm.rooms[roomID]
	if !ok {
		return nil, errRoomNotFound
	}

	if callerID != room.Host {
		return nil, errNotHost
	}

	if len(room.Players) < 2 {
		return nil, errNotEnoughPlayers
	}

	for id, player := range room.Players {
		if id != room.Host && !player.IsReady {
			return nil, errPlayersNotReady
		}
	}

	room.Status = statusPlaying

	for id := range room.Players {
		room.updateParticipant(id)
	}

	return room, nil
}

// MakeGuess records one guess. A correct guess ends the round for every
// player at once, so ties are impossible: whichever guess is processed
// first takes the round. Exhausting maxGuesses ends only the guesser's
// round. Returns a non-nil RoundEnd when the whole round finished.
func (rm *RoomManager) MakeGuess(roomID, playerID string, song Song) (*Room, *RoundEnd, error) {
	room, ok := rm.rooms[roomID]
	if !ok || room.Status != statusPlaying {
		return nil, nil, nil
	}

	player, ok := room.Players[playerID]
	if !ok || player.CurrentRound.GameOver {
		return nil, nil, nil
	}

	for _, g := range player.CurrentRound.Guesses {
		if g.Song.ID == song.ID {
			return nil, nil, errDuplicateGuess
		}
	}

	guess := processGuess(song, room.TargetSong)
	player.CurrentRound.Guesses = append(player.CurrentRound.Guesses, guess)

	var end *RoundEnd

	switch {
	case isGuessCorrect(guess, room.TargetSong):
		player.CurrentRound.GameOver = true
		player.CurrentRound.Won = true

		// Force every other player's round closed as a loss.
		for id, p := range room.Players {
			if id != playerID {
				p.CurrentRound.GameOver = true
				p.CurrentRound.Won = false
			}
		}

		end = room.checkRoundEnd()

	case len(player.CurrentRound.Guesses) >= room.Settings.MaxGuesses:
		player.CurrentRound.GameOver = true
		player.CurrentRound.Won = false

		end = room.checkRoundEnd()
	}

	return room, end, nil
}

// GiveUp is a guess-exhaustion loss without appending a guess. Clients
// also emit it when their countdown expires.
func (rm *RoomManager) GiveUp(roomID, playerID string) (*Room, *RoundEnd) {
	room, ok := rm.rooms[roomID]
	if !ok || room.Status != statusPlaying {
		return nil, nil
	}

	player, ok := room.Players[playerID]
	if !ok || player.CurrentRound.GameOver {
		return nil, nil
	}

	player.CurrentRound.GameOver = true
	player.CurrentRound.Won = false

	return room, room.checkRoundEnd()
}

// ReadyNextRound marks a player ready for the next round, and starts it
// once everyone is. The second return reports whether the round started.
func (rm *RoomManager) ReadyNextRound(roomID, playerID string) (*Room, bool) {
	room, ok := rm.rooms[roomID]
	if !ok || room.Status != statusPlaying {
		return nil, false
	}

	player, ok := room.Players[playerID]
	if !ok {
		return nil, false
	}

	player.ReadyForNextRound = true

	for _, p := range room.Players {
		if !p.ReadyForNextRound {
			return room, false
		}
	}

	room.startNextRound()

	return room, true
}

// checkRoundEnd finalizes the round once every player's round is over:
// credits the (at most one) winner, finishes the match when the win
// threshold is reached, and resets the next-round ready flags.
func (r *Room) checkRoundEnd() *RoundEnd {
	for _, player := range r.Players {
		if !player.CurrentRound.GameOver {
			return nil
		}
	}

	end := &RoundEnd{Target: r.TargetSong}

	for id, player := range r.Players {
		if player.CurrentRound.Won {
			end.RoundWinner = id
			break
		}
	}

	if end.RoundWinner != "" {
		r.RoundsWon[end.RoundWinner]++
		r.Players[end.RoundWinner].Score++
		r.updateParticipant(end.RoundWinner)
	}

	for id, wins := range r.RoundsWon {
		if wins >= r.winThreshold() {
			r.Status = statusFinished
			r.Winner = id

			// Lock in everyone's final score, not just the winner's.
			for playerID := range r.Players {
				r.updateParticipant(playerID)
			}
			break
		}
	}
	end.MatchWinner = r.Winner

	for _, player := range r.Players {
		player.ReadyForNextRound = false
	}

	return end
}

// startNextRound draws a fresh target and resets every player's round.
func (r *Room) startNextRound() {
	r.CurrentRound++
	r.TargetSong = randomSong(r.FilteredSongs)

	for _, player := range r.Players {
		player.CurrentRound = newRoundState(r.Settings)
		player.ReadyForNextRound = false
	}
}
