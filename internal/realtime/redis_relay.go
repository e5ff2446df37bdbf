package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "chat:events"

type relayEnvelope struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// RedisRelay publishes events through Redis so that every instance
// subscribed to the channel delivers them to its own connections.  Local
// delivery happens only when the event comes back from Redis, so each
// instance delivers each event once.  The connection registry stays local.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	local   *Hub
	log     zerolog.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, local *Hub) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		local:   local,
		log:     log.With().Str("module", "realtime.relay").Logger(),
	}
}

// Publish implements the event publisher.  If Redis is unreachable the
// event is delivered locally only.
func (r *RedisRelay) Publish(dest string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Str("destination", dest).Msg("marshal event")
		return
	}
	msg, err := json.Marshal(relayEnvelope{Destination: dest, Body: body})
	if err != nil {
		r.log.Error().Err(err).Msg("marshal envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.log.Warn().Err(err).Str("destination", dest).Msg("relay publish failed, delivering locally")
		r.local.Deliver(dest, body)
	}
}

// Run forwards relayed events to the local hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				r.log.Warn().Err(err).Msg("bad relay payload")
				continue
			}
			r.local.Deliver(env.Destination, env.Body)
		}
	}
}
