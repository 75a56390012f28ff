package domain

import "time"

// Ticker is a consolidated 24h price snapshot for one symbol.
type Ticker struct {
	Symbol    string // Canonical symbol
	Price     float64
	High24h   float64
	Low24h    float64
	Volume    float64 // Quote volume over 24h
	Timestamp time.Time
}
