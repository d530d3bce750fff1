package redis

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"tradechart/internal/model"
)

// Reader reads bars back from the streams written by Writer. It satisfies
// model.BarSource, so a store can warm-start from Redis when SQLite is off.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps an existing client, usually Writer.Client().
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// Symbols lists the symbols that have a bar stream.
func (r *Reader) Symbols(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "bar:*", 200).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis scan bar streams")
		}
		for _, k := range keys {
			if strings.HasPrefix(k, "bar:latest:") {
				continue
			}
			out = append(out, strings.TrimPrefix(k, "bar:"))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadBars reads the retained bars of symbol, oldest first.
func (r *Reader) ReadBars(ctx context.Context, symbol string) ([]model.Bar, error) {
	msgs, err := r.client.XRange(ctx, streamKey(symbol), "-", "+").Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "redis xrange %s", symbol)
	}
	return decodeStream(msgs)
}

// decodeStream turns stream entries into bars, skipping entries that do not
// decode and any entry not strictly after the previous one.
func decodeStream(msgs []goredis.XMessage) ([]model.Bar, error) {
	bars := make([]model.Bar, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var b model.Bar
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			continue
		}
		if n := len(bars); n > 0 && !b.Time.After(bars[n-1].Time) {
			continue
		}
		bars = append(bars, b)
	}
	return bars, nil
}
