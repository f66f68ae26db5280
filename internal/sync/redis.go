// Package sync is the cluster-sync component: a Redis-backed directory of
// which connection IDs are owned by which endpoint process, for a fleet of
// processes sharing one Redis (see SPEC_FULL.md §4.9). Adapted from the
// teacher's RedisSync (internal/sync/redis.go), which persisted and
// pub/sub'd FQDN-to-target routes; this persists and pub/sub's
// connection-ID-to-process-address ownership claims instead.
package sync

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"

	"github.com/ewancrowle/quicd/internal/config"
)

const ownersHashKey = "quicd:owners"

// Ownership is one connection-ID-to-process-address claim.
type Ownership struct {
	ConnectionID string `json:"connection_id"` // hex-encoded
	ProcessAddr  string `json:"process_addr"`
}

type RedisSync struct {
	client      *redis.Client
	channel     string
	processAddr string
}

// NewRedisSync returns nil if cluster sync is disabled in config, the same
// nil-object pattern the teacher used so callers can unconditionally defer
// to its methods.
func NewRedisSync(cfg *config.Config, processAddr string) *RedisSync {
	if !cfg.Cluster.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cluster.Address,
		Password: cfg.Cluster.Password,
		DB:       cfg.Cluster.DB,
	})

	return &RedisSync{client: client, channel: cfg.Cluster.Channel, processAddr: processAddr}
}

// LoadInitialOwners returns the full ownership hash as it stood at startup,
// keyed by raw connection ID bytes.
func (s *RedisSync) LoadInitialOwners(ctx context.Context) (map[string]string, error) {
	if s == nil {
		return nil, nil
	}

	raw, err := s.client.HGetAll(ctx, ownersHashKey).Result()
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string, len(raw))
	for hexCID, addr := range raw {
		cid, err := hex.DecodeString(hexCID)
		if err != nil {
			log.Warnf("sync: ignoring malformed connection id in owners hash: %q", hexCID)
			continue
		}
		owners[string(cid)] = addr
	}
	return owners, nil
}

// PublishOwnership claims cid for this process: persists it in the shared
// hash and announces it on the pub/sub channel so peer processes update
// their local view without re-polling Redis.
func (s *RedisSync) PublishOwnership(ctx context.Context, cid []byte) error {
	if s == nil {
		return nil
	}

	hexCID := hex.EncodeToString(cid)
	if err := s.client.HSet(ctx, ownersHashKey, hexCID, s.processAddr).Err(); err != nil {
		return err
	}

	data, err := json.Marshal(Ownership{ConnectionID: hexCID, ProcessAddr: s.processAddr})
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// ReleaseOwnership removes cid from the shared hash when its connection
// closes.
func (s *RedisSync) ReleaseOwnership(ctx context.Context, cid []byte) error {
	if s == nil {
		return nil
	}
	return s.client.HDel(ctx, ownersHashKey, hex.EncodeToString(cid)).Err()
}

// Subscribe blocks, invoking onClaim for every ownership announcement from
// any process (including this one) until ctx is canceled.
func (s *RedisSync) Subscribe(ctx context.Context, onClaim func(cid []byte, processAddr string)) {
	if s == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()
	go func() {
		// Closing the PubSub closes its channel, ending the loop below.
		<-ctx.Done()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for msg := range ch {
		var o Ownership
		if err := json.Unmarshal([]byte(msg.Payload), &o); err != nil {
			log.Warnf("sync: malformed ownership message: %v", err)
			continue
		}
		cid, err := hex.DecodeString(o.ConnectionID)
		if err != nil {
			log.Warnf("sync: malformed connection id in ownership message: %q", o.ConnectionID)
			continue
		}
		onClaim(cid, o.ProcessAddr)
	}
}
