package main

import (
	"math"
	"strconv"
)

// Per-field feedback directions.
const (
	directionHigher = "higher"
	directionLower  = "lower"
	directionEqual  = "equal"
	directionNewer  = "newer"
	directionOlder  = "older"
)

// FieldResult carries match feedback for a numeric field: exact match,
// which way the guess missed, and whether it was close.
type FieldResult struct {
	Value     bool   `json:"value"`
	Direction string `json:"direction"`
	Close     bool   `json:"close"`
}

// GuessResult is the per-field feedback for one guess against the target.
type GuessResult struct {
	Title            bool        `json:"title"`
	Type             bool        `json:"type"`
	Artist           bool        `json:"artist"`
	BPM              FieldResult `json:"bpm"`
	Genre            bool        `json:"genre"`
	MasterLevel      FieldResult `json:"masterLevel"`
	MasterDesigner   bool        `json:"masterDesigner"`
	RemasterLevel    FieldResult `json:"remasterLevel"`
	RemasterDesigner bool        `json:"remasterDesigner"`
	Version          FieldResult `json:"version"`
}

// Guess pairs a submitted song with its computed feedback.
type Guess struct {
	Song   Song        `json:"song"`
	Result GuessResult `json:"result"`
}

// compareBPM parses both values as integers. A miss within 20 BPM counts
// as close. Unparseable values fail closed.
func compareBPM(guess, target string) FieldResult {
	if guess == "" || target == "" {
		return FieldResult{Direction: directionEqual}
	}

	guessValue, err := strconv.Atoi(guess)
	if err != nil {
		return FieldResult{Direction: directionEqual}
	}
	targetValue, err := strconv.Atoi(target)
	if err != nil {
		return FieldResult{Direction: directionEqual}
	}

	result := FieldResult{
		Value: guessValue == targetValue,
		Close: intAbs(guessValue-targetValue) <= 20,
	}
	switch {
	case guessValue > targetValue:
		result.Direction = directionHigher
	case guessValue < targetValue:
		result.Direction = directionLower
	default:
		result.Direction = directionEqual
	}

	return result
}

// compareLevels handles chart levels, where a miss within 0.7 (one "+"
// step) counts as close.
func compareLevels(guess, target string) FieldResult {
	result := FieldResult{
		Value:     guess == target,
		Direction: directionEqual,
	}

	guessValue, guessOK := parseLevel(guess)
	targetValue, targetOK := parseLevel(target)
	if !guessOK || !targetOK {
		return result
	}

	result.Close = math.Abs(guessValue-targetValue) <= 0.7
	if guessValue > targetValue {
		result.Direction = directionHigher
	} else if guessValue < targetValue {
		result.Direction = directionLower
	}

	return result
}

// compareVersions walks the release-era table. Adjacent eras count as close.
func compareVersions(guess, target string) FieldResult {
	guessValue := versionValue(guess)
	targetValue := versionValue(target)

	result := FieldResult{
		Value:     guess == target,
		Direction: directionEqual,
		Close:     intAbs(guessValue-targetValue) == 1,
	}
	if guessValue > targetValue {
		result.Direction = directionNewer
	} else if guessValue < targetValue {
		result.Direction = directionOlder
	}

	return result
}

// processGuess computes the full per-field feedback for one guess.
func processGuess(song, target Song) Guess {
	remasterDesigner := song.Charts.Remaster == nil && target.Charts.Remaster == nil
	if song.Charts.Remaster != nil && target.Charts.Remaster != nil {
		remasterDesigner = song.Charts.Remaster.Designer == target.Charts.Remaster.Designer
	}

	return Guess{
		Song: song,
		Result: GuessResult{
			Title:            song.Title == target.Title,
			Type:             song.Type == target.Type,
			Artist:           song.Artist == target.Artist,
			BPM:              compareBPM(song.BPM, target.BPM),
			Genre:            song.Genre == target.Genre,
			MasterLevel:      compareLevels(song.LevelMaster, target.LevelMaster),
			MasterDesigner:   song.Charts.Master.Designer == target.Charts.Master.Designer,
			RemasterLevel:    compareLevels(song.LevelRemaster, target.LevelRemaster),
			RemasterDesigner: remasterDesigner,
			Version:          compareVersions(song.Version, target.Version),
		},
	}
}

// isGuessCorrect reports a full match. Re:Master fields only count when
// the target itself has a Re:Master chart.
func isGuessCorrect(guess Guess, target Song) bool {
	r := guess.Result

	if !(r.Title && r.Type && r.Artist && r.BPM.Value && r.Genre &&
		r.MasterLevel.Value && r.MasterDesigner && r.Version.Value) {
		return false
	}

	if target.hasRemaster() {
		return r.RemasterLevel.Value && r.RemasterDesigner
	}

	return true
}

func intAbs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
