package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

var (
	_ monitor.WorkLog        = (*WorkLog)(nil)
	_ monitor.PendingClaimer = (*WorkLog)(nil)
)

// WorkLogConfig names the stream and bounds its growth.
type WorkLogConfig struct {
	Stream string
	// MaxLen caps the stream approximately (MAXLEN ~). Zero leaves it uncapped.
	MaxLen int64
	// Block is how long XREADGROUP waits for new entries. Negative disables
	// blocking; zero is treated the same way since BLOCK 0 waits forever.
	Block time.Duration
}

// WorkLog is a Redis Stream used as the dispatch work log. Each region reads
// through its own consumer group.
type WorkLog struct {
	client goredis.UniversalClient
	cfg    WorkLogConfig
}

// NewWorkLog wraps an existing client.
func NewWorkLog(client goredis.UniversalClient, cfg WorkLogConfig) (*WorkLog, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if cfg.Block == 0 {
		cfg.Block = -1
	}
	return &WorkLog{client: client, cfg: cfg}, nil
}

// Append adds one entry for site and returns the stream-assigned id.
func (l *WorkLog) Append(ctx context.Context, site monitor.Site) (string, error) {
	args := &goredis.XAddArgs{
		Stream: l.cfg.Stream,
		ID:     "*",
		Values: []any{monitor.FieldSiteID, site.ID, monitor.FieldURL, site.URL},
	}
	if l.cfg.MaxLen > 0 {
		args.MaxLen = l.cfg.MaxLen
		args.Approx = true
	}
	id, err := l.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", l.cfg.Stream, err)
	}
	return id, nil
}

// CreateGroup creates groupID at the start of the stream, creating the stream
// if needed. An existing group is left untouched.
func (l *WorkLog) CreateGroup(ctx context.Context, groupID string) error {
	err := l.client.XGroupCreateMkStream(ctx, l.cfg.Stream, groupID, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("xgroup create %s: %w", groupID, err)
	}
	return nil
}

// Claim reads up to maxCount never-delivered entries for consumerID.
func (l *WorkLog) Claim(ctx context.Context, groupID, consumerID string, maxCount int) ([]monitor.RawEntry, error) {
	return l.readGroup(ctx, groupID, consumerID, ">", maxCount, l.cfg.Block)
}

// ClaimOwnPending re-reads entries delivered to consumerID but never acked,
// starting after the entry id after.
func (l *WorkLog) ClaimOwnPending(
	ctx context.Context,
	groupID, consumerID, after string,
	maxCount int,
) ([]monitor.RawEntry, error) {
	if after == "" {
		after = "0"
	}
	return l.readGroup(ctx, groupID, consumerID, after, maxCount, -1)
}

// ClaimStale takes over entries pending on any consumer for longer than minIdle.
func (l *WorkLog) ClaimStale(
	ctx context.Context,
	groupID, consumerID string,
	minIdle time.Duration,
	maxCount int,
) ([]monitor.RawEntry, error) {
	msgs, _, err := l.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   l.cfg.Stream,
		Group:    groupID,
		Consumer: consumerID,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(maxCount),
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s: %w", groupID, err)
	}
	return l.live(ctx, groupID, msgs)
}

// Acknowledge removes entryID from the group's pending set.
func (l *WorkLog) Acknowledge(ctx context.Context, groupID, entryID string) error {
	if err := l.client.XAck(ctx, l.cfg.Stream, groupID, entryID).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", entryID, err)
	}
	return nil
}

func (l *WorkLog) readGroup(
	ctx context.Context,
	groupID, consumerID, start string,
	maxCount int,
	block time.Duration,
) ([]monitor.RawEntry, error) {
	streams, err := l.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    groupID,
		Consumer: consumerID,
		Streams:  []string{l.cfg.Stream, start},
		Count:    int64(maxCount),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", groupID, consumerID, err)
	}
	for _, s := range streams {
		if s.Stream != l.cfg.Stream {
			continue
		}
		return l.live(ctx, groupID, s.Messages)
	}
	return nil, nil
}

// live converts messages and acks the ones whose payload has already been
// trimmed from the stream. Those can never be processed and would otherwise
// be redelivered forever.
func (l *WorkLog) live(ctx context.Context, groupID string, msgs []goredis.XMessage) ([]monitor.RawEntry, error) {
	out := make([]monitor.RawEntry, 0, len(msgs))
	var gone []string
	for _, m := range msgs {
		if m.Values == nil {
			gone = append(gone, m.ID)
			continue
		}
		out = append(out, monitor.RawEntry{ID: m.ID, Fields: m.Values})
	}
	if len(gone) > 0 {
		if err := l.client.XAck(ctx, l.cfg.Stream, groupID, gone...).Err(); err != nil {
			return nil, fmt.Errorf("xack trimmed entries: %w", err)
		}
	}
	return out, nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
