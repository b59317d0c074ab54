package comments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"whiteboardsync/internal/protocol"
)

var ErrEmptyBody = errors.New("comment body is empty")

// Publisher announces a comment frame to every instance serving the
// whiteboard's room.
type Publisher interface {
	Publish(ctx context.Context, whiteboardID string, msg *protocol.Message) error
}

type RedisPublisher struct {
	rdc *redis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(rdc *redis.Client) *RedisPublisher { return &RedisPublisher{rdc: rdc} }

func (p *RedisPublisher) Publish(ctx context.Context, whiteboardID string, msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return p.rdc.Publish(ctx, protocol.EventsChannel(whiteboardID), data).Err()
}

type IService interface {
	List(ctx context.Context, whiteboardID string, limit, offset int) ([]Comment, error)
	Create(ctx context.Context, whiteboardID, authorID, body string) (*Comment, error)
	Update(ctx context.Context, whiteboardID, commentID, authorID string, p Patch) (*Comment, error)
	Delete(ctx context.Context, whiteboardID, commentID, authorID string) error
}

type service struct {
	store Store
	pub   Publisher
}

var _ IService = (*service)(nil)

func NewService(store Store, pub Publisher) IService {
	return &service{store: store, pub: pub}
}

func (svc *service) List(ctx context.Context, whiteboardID string, limit, offset int) ([]Comment, error) {
	return svc.store.List(ctx, whiteboardID, limit, offset)
}

func (svc *service) Create(ctx context.Context, whiteboardID, authorID, body string) (*Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	c := &Comment{
		ID:           uuid.NewString(),
		WhiteboardID: whiteboardID,
		AuthorID:     authorID,
		Body:         body,
	}
	if err := svc.store.Create(ctx, c); err != nil {
		return nil, err
	}
	svc.announce(ctx, whiteboardID, protocol.CommentCreated(mustJSON(c)))
	return c, nil
}

func (svc *service) Update(ctx context.Context, whiteboardID, commentID, authorID string, p Patch) (*Comment, error) {
	if p.Body != nil {
		trimmed := strings.TrimSpace(*p.Body)
		if trimmed == "" {
			return nil, ErrEmptyBody
		}
		p.Body = &trimmed
	}
	c, err := svc.store.Update(ctx, whiteboardID, commentID, authorID, p)
	if err != nil {
		return nil, err
	}
	svc.announce(ctx, whiteboardID, protocol.CommentUpdated(mustJSON(c)))
	return c, nil
}

func (svc *service) Delete(ctx context.Context, whiteboardID, commentID, authorID string) error {
	if err := svc.store.Delete(ctx, whiteboardID, commentID, authorID); err != nil {
		return err
	}
	svc.announce(ctx, whiteboardID, protocol.CommentDeleted(commentID))
	return nil
}

// announce only logs publish failures; the change is already persisted.
func (svc *service) announce(ctx context.Context, whiteboardID string, msg *protocol.Message) {
	if err := svc.pub.Publish(ctx, whiteboardID, msg); err != nil {
		zap.L().Warn("comments.publish",
			zap.String("whiteboard", whiteboardID),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

func mustJSON(c *Comment) json.RawMessage {
	b, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	return b
}
