package models

// Collaboration grants a non-owner access to a note.
type Collaboration struct {
	ID     string `json:"id"`
	NoteID string `json:"noteId"`
	UserID string `json:"userId"`
}
