package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Fullname  string    `json:"fullname"`
	CreatedAt time.Time `json:"createdAt"`
}

// LegacyOwnerID owns notes created before notes had owners.
const LegacyOwnerID = "old_notes"
