package models

type SearchResult struct {
	Notes []Note `json:"notes"`
}
