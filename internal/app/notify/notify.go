package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"unifarm-app/internal/model"
)

// Publisher pushes confirmed transactions onto a redis pub/sub channel for
// the mini-app's real-time balance updates. Best effort only: the ledger
// logs and drops publish failures.
type Publisher struct {
	cli     *redis.Client
	channel string
}

// New returns nil when no redis client is configured; the ledger treats a
// nil notifier as "no push".
func New(cli *redis.Client, channel string) *Publisher {
	if cli == nil {
		return nil
	}
	return &Publisher{cli: cli, channel: channel}
}

func (p *Publisher) Publish(t model.Transaction) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.cli.Publish(ctx, p.channel, payload).Err()
}
