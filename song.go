package main

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
)

// Song mirrors one record of the upstream tracklist. Field names follow
// the catalog JSON so clients can submit songs unmodified.
type Song struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Type          string  `json:"type"`
	Artist        string  `json:"artist"`
	Genre         string  `json:"genre"`
	BPM           string  `json:"bpm"`
	Version       string  `json:"version"`
	LevelMaster   string  `json:"level_master"`
	LevelRemaster string  `json:"level_remaster,omitempty"`
	Charts        Charts  `json:"charts"`
	WinRate       float64 `json:"win_rate,omitempty"`
}

type Charts struct {
	Master   Chart  `json:"master"`
	Remaster *Chart `json:"remaster,omitempty"`
}

type Chart struct {
	Designer string `json:"designer"`
}

// hasRemaster reports whether the song carries a Re:Master chart.
func (s *Song) hasRemaster() bool {
	return s.LevelRemaster != ""
}

type StringRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// GameSettings is fixed at room creation and re-applied when drawing
// targets for each round.
type GameSettings struct {
	VersionRange     StringRange `json:"versionRange"`
	Genres           []string    `json:"genres"`
	MasterLevelRange StringRange `json:"masterLevelRange"`
	MaxGuesses       int         `json:"maxGuesses"`
	TimeLimit        int         `json:"timeLimit"`
	PopularityTopN   int         `json:"popularityTopN,omitempty"`
}

// versionOrdinals orders release eras. The ordinals define "older/newer"
// feedback, so the table must not be reordered. Unknown versions map to 0,
// which fails any range with a nonzero floor.
var versionOrdinals = map[string]int{
	"maimai":            1,
	"maimai PLUS":       2,
	"maimai GreeN":      3,
	"maimai GreeN PLUS": 4,
	"maimai ORANGE":     5,
	"maimai ORANGE PLUS": 6,
	"maimai PiNK":        7,
	"maimai PiNK PLUS":   8,
	"maimai MURASAKi":    9,
	"maimai MURASAKi PLUS": 10,
	"maimai MiLK":          11,
	"maimai MiLK PLUS":     12,
	"maimai FiNALE":        13,
	"舞萌DX":                 14,
	"舞萌DX 2021":            15,
	"舞萌DX 2022":            16,
	"舞萌DX 2023":            17,
	"舞萌DX 2024":            18,
}

func versionValue(version string) int {
	return versionOrdinals[version]
}

// parseLevel converts a chart level like "12" or "12+" to its numeric
// value, mapping a trailing "+" to ".7" (so "12+" parses as 12.7).
func parseLevel(level string) (float64, bool) {
	if level == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.Replace(level, "+", ".7", 1), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// filterSongs applies room settings to the catalog, producing the pool
// targets are drawn from. Fails closed: any song with an unparseable level
// is excluded rather than matched loosely.
func filterSongs(songs []Song, settings GameSettings) []Song {
	if settings.PopularityTopN > 0 && len(songs) > settings.PopularityTopN {
		ranked := make([]Song, len(songs))
		copy(ranked, songs)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].WinRate > ranked[j].WinRate
		})
		songs = ranked[:settings.PopularityTopN]
	}

	minVersion := versionValue(settings.VersionRange.Min)
	maxVersion := versionValue(settings.VersionRange.Max)
	minLevel, minOK := parseLevel(settings.MasterLevelRange.Min)
	maxLevel, maxOK := parseLevel(settings.MasterLevelRange.Max)

	filtered := make([]Song, 0, len(songs))

	for _, song := range songs {
		version := versionValue(song.Version)
		if version < minVersion || version > maxVersion {
			continue
		}

		if len(settings.Genres) > 0 && !containsString(settings.Genres, song.Genre) {
			continue
		}

		if song.LevelMaster == "" {
			continue
		}

		level, ok := parseLevel(song.LevelMaster)
		if !ok {
			continue
		}
		if minOK && level < minLevel {
			continue
		}
		if maxOK && level > maxLevel {
			continue
		}

		filtered = append(filtered, song)
	}

	return filtered
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// randomIndex returns a crypto-random index in [0, n).
func randomIndex(n int) int {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return int(binary.BigEndian.Uint32(buf[:]) % uint32(n))
}

func randomSong(songs []Song) Song {
	return songs[randomIndex(len(songs))]
}
