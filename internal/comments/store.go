// Package comments persists whiteboard comments and announces every change to
// the whiteboard's live room.
package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("comment not found")

type Comment struct {
	ID           string    `json:"id"`
	WhiteboardID string    `json:"whiteboardId"`
	AuthorID     string    `json:"authorId"`
	Body         string    `json:"body"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Patch holds the optional fields of an update.
type Patch struct {
	Body     *string
	Resolved *bool
}

type Store interface {
	List(ctx context.Context, whiteboardID string, limit, offset int) ([]Comment, error)
	Create(ctx context.Context, c *Comment) error
	// Update and Delete only touch comments written by authorID.
	Update(ctx context.Context, whiteboardID, commentID, authorID string, p Patch) (*Comment, error)
	Delete(ctx context.Context, whiteboardID, commentID, authorID string) error
}

type sqlStore struct {
	db *sql.DB
}

var _ Store = (*sqlStore)(nil)

func NewStore(db *sql.DB) Store { return &sqlStore{db: db} }

const columns = `id, whiteboard_id, author_id, body, resolved, created_at, updated_at`

func scan(row interface{ Scan(...any) error }, c *Comment) error {
	return row.Scan(&c.ID, &c.WhiteboardID, &c.AuthorID, &c.Body, &c.Resolved, &c.CreatedAt, &c.UpdatedAt)
}

func (s *sqlStore) List(ctx context.Context, whiteboardID string, limit, offset int) ([]Comment, error) {
	if limit == 0 {
		limit = 50
	}
	const q = `SELECT ` + columns + `
	             FROM whiteboard_comments
	            WHERE whiteboard_id = $1
	         ORDER BY created_at, id
	            LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, whiteboardID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Comment, 0, limit)
	for rows.Next() {
		var c Comment
		if err := scan(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) Create(ctx context.Context, c *Comment) error {
	const q = `
	  INSERT INTO whiteboard_comments (id, whiteboard_id, author_id, body, resolved, created_at, updated_at)
	       VALUES ($1, $2, $3, $4, false, now(), now())
	    RETURNING ` + columns
	return scan(s.db.QueryRowContext(ctx, q, c.ID, c.WhiteboardID, c.AuthorID, c.Body), c)
}

func (s *sqlStore) Update(ctx context.Context, whiteboardID, commentID, authorID string, p Patch) (*Comment, error) {
	const q = `
	  UPDATE whiteboard_comments
	     SET body       = COALESCE($4, body),
	         resolved   = COALESCE($5, resolved),
	         updated_at = now()
	   WHERE whiteboard_id = $1 AND id = $2 AND author_id = $3
	RETURNING ` + columns

	var c Comment
	err := scan(s.db.QueryRowContext(ctx, q, whiteboardID, commentID, authorID, p.Body, p.Resolved), &c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqlStore) Delete(ctx context.Context, whiteboardID, commentID, authorID string) error {
	const q = `DELETE FROM whiteboard_comments WHERE whiteboard_id = $1 AND id = $2 AND author_id = $3`
	res, err := s.db.ExecContext(ctx, q, whiteboardID, commentID, authorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	return nil
}
