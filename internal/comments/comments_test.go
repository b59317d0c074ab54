package comments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboardsync/internal/protocol"
)

var commentCols = []string{"id", "whiteboard_id", "author_id", "body", "resolved", "created_at", "updated_at"}

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM whiteboard_comments").
		WithArgs("wb-1", 50, 0).
		WillReturnRows(sqlmock.NewRows(commentCols).
			AddRow("c1", "wb-1", "alice", "first", false, ts, ts).
			AddRow("c2", "wb-1", "bob", "second", true, ts, ts))

	out, err := store.List(context.Background(), "wb-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Body)
	assert.True(t, out[1].Resolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO whiteboard_comments").
		WithArgs("c1", "wb-1", "alice", "hello").
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow("c1", "wb-1", "alice", "hello", false, ts, ts))

	c := &Comment{ID: "c1", WhiteboardID: "wb-1", AuthorID: "alice", Body: "hello"}
	require.NoError(t, store.Create(context.Background(), c))
	assert.Equal(t, ts, c.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	body := "edited"

	mock.ExpectQuery("UPDATE whiteboard_comments").
		WithArgs("wb-1", "c1", "mallory", body, nil).
		WillReturnRows(sqlmock.NewRows(commentCols))

	_, err := store.Update(context.Background(), "wb-1", "c1", "mallory", Patch{Body: &body})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM whiteboard_comments").
		WithArgs("wb-1", "c1", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM whiteboard_comments").
		WithArgs("wb-1", "c1", "alice").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Delete(context.Background(), "wb-1", "c1", "alice"))
	assert.ErrorIs(t, store.Delete(context.Background(), "wb-1", "c1", "alice"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPublisher_Publish(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	pub := NewRedisPublisher(rdc)

	msg := protocol.CommentDeleted("c1")
	mock.ExpectPublish(protocol.EventsChannel("wb-1"), protocol.MustEncode(msg)).SetVal(1)

	require.NoError(t, pub.Publish(context.Background(), "wb-1", msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ───────────────────────────── service tests ────────────────────────────────

type memStore struct {
	comments map[string]Comment
	err      error
}

func (m *memStore) List(_ context.Context, wb string, _, _ int) ([]Comment, error) {
	var out []Comment
	for _, c := range m.comments {
		if c.WhiteboardID == wb {
			out = append(out, c)
		}
	}
	return out, m.err
}

func (m *memStore) Create(_ context.Context, c *Comment) error {
	if m.err != nil {
		return m.err
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.comments[c.ID] = *c
	return nil
}

func (m *memStore) Update(_ context.Context, wb, id, author string, p Patch) (*Comment, error) {
	c, ok := m.comments[id]
	if !ok || c.WhiteboardID != wb || c.AuthorID != author {
		return nil, ErrNotFound
	}
	if p.Body != nil {
		c.Body = *p.Body
	}
	if p.Resolved != nil {
		c.Resolved = *p.Resolved
	}
	m.comments[id] = c
	return &c, nil
}

func (m *memStore) Delete(_ context.Context, wb, id, author string) error {
	c, ok := m.comments[id]
	if !ok || c.WhiteboardID != wb || c.AuthorID != author {
		return ErrNotFound
	}
	delete(m.comments, id)
	return nil
}

type recordingPublisher struct {
	whiteboards []string
	msgs        []*protocol.Message
	err         error
}

func (p *recordingPublisher) Publish(_ context.Context, wb string, msg *protocol.Message) error {
	p.whiteboards = append(p.whiteboards, wb)
	p.msgs = append(p.msgs, msg)
	return p.err
}

func newTestService() (IService, *memStore, *recordingPublisher) {
	store := &memStore{comments: map[string]Comment{}}
	pub := &recordingPublisher{}
	return NewService(store, pub), store, pub
}

func TestService_CreatePublishes(t *testing.T) {
	svc, store, pub := newTestService()

	c, err := svc.Create(context.Background(), "wb-1", "alice", "  looks good  ")
	require.NoError(t, err)
	assert.Equal(t, "looks good", c.Body)
	assert.Len(t, c.ID, 36)
	assert.Contains(t, store.comments, c.ID)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, []string{"wb-1"}, pub.whiteboards)
	assert.Equal(t, protocol.TypeCommentCreated, pub.msgs[0].Type)

	var sent Comment
	require.NoError(t, json.Unmarshal(pub.msgs[0].Comment, &sent))
	assert.Equal(t, c.ID, sent.ID)
}

func TestService_CreateRejectsEmptyBody(t *testing.T) {
	svc, _, pub := newTestService()

	_, err := svc.Create(context.Background(), "wb-1", "alice", "   ")
	assert.ErrorIs(t, err, ErrEmptyBody)
	assert.Empty(t, pub.msgs)
}

func TestService_StoreFailureIsNotPublished(t *testing.T) {
	svc, store, pub := newTestService()
	store.err = errors.New("db down")

	_, err := svc.Create(context.Background(), "wb-1", "alice", "hi")
	assert.Error(t, err)
	assert.Empty(t, pub.msgs)
}

func TestService_PublishFailureDoesNotFailRequest(t *testing.T) {
	svc, _, pub := newTestService()
	pub.err = errors.New("redis down")

	c, err := svc.Create(context.Background(), "wb-1", "alice", "hi")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestService_UpdateAndDelete(t *testing.T) {
	svc, _, pub := newTestService()
	c, err := svc.Create(context.Background(), "wb-1", "alice", "draft")
	require.NoError(t, err)

	resolved := true
	updated, err := svc.Update(context.Background(), "wb-1", c.ID, "alice", Patch{Resolved: &resolved})
	require.NoError(t, err)
	assert.True(t, updated.Resolved)
	assert.Equal(t, "draft", updated.Body)

	_, err = svc.Update(context.Background(), "wb-1", c.ID, "bob", Patch{Resolved: &resolved})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Delete(context.Background(), "wb-1", c.ID, "alice"))
	assert.ErrorIs(t, svc.Delete(context.Background(), "wb-1", c.ID, "alice"), ErrNotFound)

	types := make([]protocol.Type, 0, len(pub.msgs))
	for _, m := range pub.msgs {
		types = append(types, m.Type)
	}
	assert.Equal(t, []protocol.Type{
		protocol.TypeCommentCreated,
		protocol.TypeCommentUpdated,
		protocol.TypeCommentDeleted,
	}, types)
	assert.Equal(t, c.ID, pub.msgs[2].CommentID)
}
