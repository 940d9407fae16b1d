package model

import "time"

type User struct {
	ID            string
	WalletAddress string
	CreatedAt     time.Time
}

type Place struct {
	ID        string
	PlaceName string
	Latitude  float64
	Longitude float64
	UserID    string
	Disabled  bool
	CreatedAt time.Time
}

type AirQuality struct {
	ID         string
	PlaceID    string
	AQI        int
	PM25       float64
	PM10       float64
	RecordedAt time.Time
}

// PlaceDetail is a place joined with its air-quality reading, if one exists.
type PlaceDetail struct {
	Place
	AirQuality *AirQuality
}
