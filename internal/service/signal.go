package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/totegamma/agrichain/internal/domain"
)

const productChannel = "agrichain:products"

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, event domain.ProductEvent) error {
	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.rdb.Publish(ctx, productChannel, jsonstr).Err()
}

// Realtime forwards product events to output until ctx is done or input is
// closed. Each value received on input replaces the product filter; an empty
// filter passes every event.
func (s *SignalService) Realtime(ctx context.Context, input <-chan []string, output chan<- domain.ProductEvent) {
	pubsub := s.rdb.Subscribe(ctx, productChannel)
	defer pubsub.Close()

	messages := pubsub.Channel()
	filter := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return
		case ids, ok := <-input:
			if !ok {
				return
			}
			filter = make(map[string]bool, len(ids))
			for _, id := range ids {
				filter[id] = true
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event domain.ProductEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.WarnContext(ctx, "malformed product event", "err", err)
				continue
			}
			if len(filter) > 0 && !filter[event.ProductID] {
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
