// Package telemetry publishes operation outcomes to an external Redis
// bus so a dashboard process can show live flashing progress without
// being wired directly into the protocol code. This is an optional sink:
// every action in pkg/actions works fine with a nil *Sink.
//
// Adapted from the teacher's pkg/redis/client.go, which published
// vehicle/battery state to a dashboard over the same
// hash-write-then-publish-then-list-push pattern used here for
// OperationResult records instead.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bf-radio-tools/flashcore/pkg/result"
)

// Keys used on the Redis bus, named the way the teacher's
// pkg/service/constants.go names its hash/channel keys.
const (
	KeyLastResult    = "flashcore:last_result"
	ChannelResults   = "flashcore:results"
	ListResultLog    = "flashcore:result_log"
	resultLogMaxLen  = 200
)

// Sink is a thin wrapper over a go-redis client exposing only what the
// flashing actions need: publish a result, append it to a bounded log.
type Sink struct {
	client *redis.Client
	ctx    context.Context
}

// NewSink connects to addr and verifies connectivity with a ping, the
// same fail-fast behavior as the teacher's redis.New.
func NewSink(addr, password string, db int) (*Sink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to telemetry Redis: %w", err)
	}
	return &Sink{client: client, ctx: ctx}, nil
}

// PublishResult writes r as the last-known result hash, publishes it on
// ChannelResults for live subscribers, and appends it to a bounded
// recent-history list.
func (s *Sink) PublishResult(r *result.OperationResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode operation result: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(s.ctx, KeyLastResult, "operation", r.Operation, "ok", r.Ok, "payload", payload)
	pipe.Publish(s.ctx, ChannelResults, payload)
	pipe.LPush(s.ctx, ListResultLog, payload)
	pipe.LTrim(s.ctx, ListResultLog, 0, resultLogMaxLen-1)
	_, err = pipe.Exec(s.ctx)
	return err
}

// PublishLog publishes a single free-text progress line on ChannelResults,
// for dashboards that want a scrolling log in addition to structured
// results. The line is not stored in ListResultLog.
func (s *Sink) PublishLog(operation, line string) error {
	entry := fmt.Sprintf("%s:%s", operation, line)
	return s.client.Publish(s.ctx, ChannelResults, entry).Err()
}

// RecentResults returns up to n of the most recently published results,
// newest first, for a dashboard's history view.
func (s *Sink) RecentResults(n int) ([]string, error) {
	return s.client.LRange(s.ctx, ListResultLog, 0, int64(n-1)).Result()
}

// Close releases the underlying connection.
func (s *Sink) Close() error { return s.client.Close() }
