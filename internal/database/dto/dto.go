package dto

type LoginCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Fullname string `json:"fullname"`
}

type NotePayload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// NotePatch carries a partial update; nil fields are left unchanged.
type NotePatch struct {
	Title *string   `json:"title"`
	Body  *string   `json:"body"`
	Tags  *[]string `json:"tags"`
}

type CollaborationPayload struct {
	NoteID string `json:"noteId"`
	UserID string `json:"userId"`
}

type ExportPayload struct {
	TargetEmail string `json:"targetEmail"`
}
