package models

import "time"

// User is a notification recipient, identified by their chat id.
type User struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chatId"`
	Username  string    `json:"username,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserPreference is one saved search filter for a user. A listing matches a
// preference when every set field matches; zero-valued fields are wildcards.
type UserPreference struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"userId"`
	City         string       `json:"city,omitempty"`
	MinPrice     int          `json:"minPrice,omitempty"`
	MaxPrice     int          `json:"maxPrice,omitempty"`
	MinArea      int          `json:"minArea,omitempty"`
	MinRooms     int          `json:"minRooms,omitempty"`
	PropertyType PropertyType `json:"propertyType,omitempty"`
	Enabled      bool         `json:"enabled"`
}
