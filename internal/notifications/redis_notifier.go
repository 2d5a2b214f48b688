package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "impacthub:notifications:"

// Message is what dashboards receive on the user's channel.
type Message struct {
	Kind          string    `json:"kind"`
	ActivityID    string    `json:"activityId"`
	ActivityTitle string    `json:"activityTitle,omitempty"`
	Credits       int       `json:"credits"`
	Reason        string    `json:"reason,omitempty"`
	SentAt        time.Time `json:"sentAt"`
}

// RedisNotifier publishes to a per-user pub/sub channel.
type RedisNotifier struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisNotifier(rdb redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, now: time.Now}
}

func Channel(userID string) string {
	return channelPrefix + userID
}

func (n *RedisNotifier) SendCreditAwarded(ctx context.Context, in CreditInput) error {
	return n.publish(ctx, "credit.awarded", in)
}

func (n *RedisNotifier) SendCreditRevoked(ctx context.Context, in CreditInput) error {
	return n.publish(ctx, "credit.revoked", in)
}

func (n *RedisNotifier) publish(ctx context.Context, kind string, in CreditInput) error {
	b, err := json.Marshal(Message{
		Kind:          kind,
		ActivityID:    in.ActivityID,
		ActivityTitle: in.ActivityTitle,
		Credits:       in.Credits,
		Reason:        in.Reason,
		SentAt:        n.now().UTC(),
	})
	if err != nil {
		return err
	}

	return n.rdb.Publish(ctx, Channel(in.UserID), b).Err()
}
