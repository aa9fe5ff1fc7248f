package state

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow backs the sliding hit window with a Redis sorted set per
// signature, scored by visit time. Lets a fleet of engine replicas share
// one reputation view. Any Redis failure degrades to an empty history so
// the pipeline keeps its latency budget; reputation simply abstains.
type RedisWindow struct {
	client *redis.Client
	span   time.Duration
}

const redisOpTimeout = 25 * time.Millisecond

// NewRedisWindow connects to Redis at url (redis:// form). The initial
// ping is the only blocking call; returns an error so the caller can fall
// back to the in-process window.
func NewRedisWindow(url string, span time.Duration) (*RedisWindow, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	log.Printf("[State] hit window backed by redis at %s", opts.Addr)
	return &RedisWindow{client: client, span: span}, nil
}

func (w *RedisWindow) key(signature string) string {
	return "botshield:window:" + signature
}

// Record pushes the visit and trims the set to the window span.
func (w *RedisWindow) Record(signature string, v Visit) {
	if v.UnixMs == 0 {
		v.UnixMs = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := w.key(signature)
	pipe := w.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(v.UnixMs), Member: string(payload)})
	pipe.ZRemRangeByScore(ctx, key, "0", formatMs(v.UnixMs-w.span.Milliseconds()))
	pipe.Expire(ctx, key, w.span+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[State] redis window record failed: %v", err)
	}
}

// History reads the signature's window, oldest first.
func (w *RedisWindow) History(signature string) History {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	cutoff := time.Now().UnixMilli() - w.span.Milliseconds()
	members, err := w.client.ZRangeByScore(ctx, w.key(signature), &redis.ZRangeBy{
		Min: formatMs(cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[State] redis window read failed: %v", err)
		}
		return History{}
	}

	h := History{}
	for _, m := range members {
		var v Visit
		if err := json.Unmarshal([]byte(m), &v); err != nil {
			continue
		}
		h.Visits = append(h.Visits, v)
		h.Hits++
		if v.IsBot {
			h.BotCount++
		}
	}
	return h
}

func formatMs(ms int64) string {
	// strconv-free integer formatting keeps the import list short; scores
	// are always non-negative epoch millis.
	if ms <= 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for ms > 0 {
		i--
		buf[i] = byte('0' + ms%10)
		ms /= 10
	}
	return string(buf[i:])
}
