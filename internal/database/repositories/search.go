package repositories

import (
	"context"
	"database/sql"
	"notehub/internal/database/models"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

type SearchRepository interface {
	SearchQuery(ctx context.Context, query string, userID string) (*models.SearchResult, error)
}

type searchRepository struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewSearchRepository(db *sql.DB) SearchRepository {
	return &searchRepository{db: db, types: pgtype.NewMap()}
}

// SearchQuery matches title and body against query, limited to notes the
// user owns or collaborates on.
func (s *searchRepository) SearchQuery(ctx context.Context, query string, userID string) (*models.SearchResult, error) {
	tsQuery := "to_tsquery('english', $1)"
	notesQuery := `
   	SELECT DISTINCT n.id, n.title, n.body, n.tags, n.owner, n.created_at, n.updated_at,
   	       ts_rank(to_tsvector('english', n.title || ' ' || n.body), ` + tsQuery + `) AS rank
   	FROM notes n
   	LEFT JOIN collaborations c ON c.note_id = n.id
   	WHERE (n.owner = $2 OR c.user_id = $2) AND
   	      (to_tsvector('english', n.title) @@ ` + tsQuery + ` OR
   	       to_tsvector('english', n.body) @@ ` + tsQuery + `)
   	ORDER BY rank DESC
   `

	formattedQuery := formatTsQuery(query)
	if formattedQuery == "" {
		return &models.SearchResult{Notes: []models.Note{}}, nil
	}

	notesRows, err := s.db.QueryContext(ctx, notesQuery, formattedQuery, userID)
	if err != nil {
		return &models.SearchResult{}, err
	}
	defer notesRows.Close()

	notes := []models.Note{}
	for notesRows.Next() {
		var note models.Note
		var rank float32
		if err := notesRows.Scan(
			&note.ID,
			&note.Title,
			&note.Body,
			s.types.SQLScanner(&note.Tags),
			&note.Owner,
			&note.CreatedAt,
			&note.UpdatedAt,
			&rank,
		); err != nil {
			return &models.SearchResult{}, err
		}
		notes = append(notes, note)
	}

	if err := notesRows.Err(); err != nil {
		return &models.SearchResult{}, err
	}
	return &models.SearchResult{Notes: notes}, nil
}

func formatTsQuery(query string) string {
	// Split the query into words
	words := strings.Fields(query)

	terms := make([]string, 0, len(words))
	for _, word := range words {
		// Strip tsquery operators so user input cannot alter the expression
		word = strings.Map(func(r rune) rune {
			switch r {
			case '\'', '&', '|', '!', ':', '(', ')', '*', '<', '>', '\\':
				return -1
			}
			return r
		}, word)
		if word == "" {
			continue
		}
		// Add prefix matching
		terms = append(terms, word+":*")
	}

	// Join with & for AND operations
	return strings.Join(terms, " & ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
