package models

import "fmt"

// Settings are the user-facing knobs that shape a session.
type Settings struct {
	Difficulty Difficulty `json:"difficulty" mapstructure:"difficulty"`
	Candles    int        `json:"candles" mapstructure:"candles"`
	Horizon    int        `json:"horizon" mapstructure:"horizon"`
}

// Normalized returns a copy with candles and horizon clamped and an
// unknown difficulty mapped to Medium.
func (s Settings) Normalized() Settings {
	return Settings{
		Difficulty: ParseDifficulty(string(s.Difficulty)),
		Candles:    ClampCandles(s.Candles),
		Horizon:    ClampHorizon(s.Horizon),
	}
}

// Key is the semantic string a session hash is derived from.
func (s Settings) Key() string {
	n := s.Normalized()
	return fmt.Sprintf("difficulty=%s|candles=%d|horizon=%d", n.Difficulty, n.Candles, n.Horizon)
}
