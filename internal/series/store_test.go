package series

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechart/internal/model"
)

var t0 = time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)

func dayBar(i int, c float64) model.Bar {
	return model.Bar{Time: t0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c}
}

type memSource struct {
	data map[string][]model.Bar
	err  error
}

func (m *memSource) Symbols(context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out, nil
}

func (m *memSource) ReadBars(_ context.Context, sym string) ([]model.Bar, error) {
	return m.data[sym], nil
}

func TestStore_LoadAndGet(t *testing.T) {
	s := NewStore()
	bars := []model.Bar{dayBar(0, 10), dayBar(1, 11), dayBar(2, 9)}

	require.NoError(t, s.Load("eurusd", bars))

	got, ok := s.Get("EURUSD")
	require.True(t, ok)
	assert.Equal(t, bars, got)

	_, ok = s.Get("GBPJPY")
	assert.False(t, ok)
}

func TestStore_LoadReplaces(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("EURUSD", []model.Bar{dayBar(0, 1), dayBar(1, 2)}))
	require.NoError(t, s.Load("EURUSD", []model.Bar{dayBar(5, 3)}))

	got, _ := s.Get("EURUSD")
	assert.Equal(t, []model.Bar{dayBar(5, 3)}, got)
}

func TestStore_LoadRejectsUnordered(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("EURUSD", []model.Bar{dayBar(0, 1)}))

	err := s.Load("EURUSD", []model.Bar{dayBar(1, 1), dayBar(1, 2)})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	got, _ := s.Get("EURUSD")
	assert.Equal(t, []model.Bar{dayBar(0, 1)}, got, "failed load must not touch existing series")
}

func TestStore_AppendOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Load("EURUSD", []model.Bar{dayBar(0, 1), dayBar(1, 2)}))

	tests := []struct {
		name string
		bar  model.Bar
	}{
		{"duplicate", dayBar(1, 5)},
		{"earlier", dayBar(0, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Append(ctx, "EURUSD", tt.bar)
			assert.ErrorIs(t, err, ErrOutOfOrder)
			assert.Equal(t, 2, s.Len("EURUSD"))
			last, _ := s.Last("EURUSD")
			assert.Equal(t, dayBar(1, 2), last)
		})
	}

	require.NoError(t, s.Append(ctx, "EURUSD", dayBar(2, 3)))
	assert.Equal(t, 3, s.Len("EURUSD"))
}

func TestStore_AppendCreatesSeries(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(context.Background(), "btcusdt", dayBar(0, 100)))
	assert.Equal(t, []string{"BTCUSDT"}, s.Symbols())
}

func TestStore_EmptySymbol(t *testing.T) {
	s := NewStore()
	assert.ErrorIs(t, s.Load("  ", nil), ErrEmptySymbol)
	assert.ErrorIs(t, s.Append(context.Background(), "", dayBar(0, 1)), ErrEmptySymbol)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load("EURUSD", []model.Bar{dayBar(0, 1)}))

	got, _ := s.Get("EURUSD")
	got[0].Close = 999

	again, _ := s.Get("EURUSD")
	assert.Equal(t, 1.0, again[0].Close)
}

func TestStore_SymbolsSorted(t *testing.T) {
	s := NewStore()
	for _, sym := range []string{"USDJPY", "EURUSD", "GBPJPY"} {
		require.NoError(t, s.Load(sym, nil))
	}
	assert.Equal(t, []string{"EURUSD", "GBPJPY", "USDJPY"}, s.Symbols())
}

func TestStore_SinkReceivesAppends(t *testing.T) {
	var (
		mu  sync.Mutex
		got []model.Bar
	)
	sink := model.BarSinkFunc(func(_ context.Context, sym string, b model.Bar) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "EURUSD", sym)
		got = append(got, b)
		return nil
	})

	s := NewStore(WithSink(sink))
	require.NoError(t, s.Load("EURUSD", []model.Bar{dayBar(0, 1)}))
	require.NoError(t, s.Append(context.Background(), "EURUSD", dayBar(1, 2)))
	assert.Error(t, s.Append(context.Background(), "EURUSD", dayBar(1, 2)))

	assert.Equal(t, []model.Bar{dayBar(1, 2)}, got, "only accepted appends reach the sink")
}

func TestStore_SinkFailureKeepsBar(t *testing.T) {
	sink := model.BarSinkFunc(func(context.Context, string, model.Bar) error {
		return errors.New("redis down")
	})
	s := NewStore(WithSink(sink))
	require.NoError(t, s.Append(context.Background(), "EURUSD", dayBar(0, 1)))
	assert.Equal(t, 1, s.Len("EURUSD"))
}

func TestStore_Warm(t *testing.T) {
	src := &memSource{data: map[string][]model.Bar{
		"EURUSD": {dayBar(0, 1), dayBar(1, 2)},
		"EMPTY":  nil,
	}}
	s := NewStore()
	n, err := s.Warm(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"EURUSD"}, s.Symbols())

	_, err = NewStore().Warm(context.Background(), &memSource{err: errors.New("boom")})
	assert.Error(t, err)
}

func TestStore_ConcurrentAppendAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Append(ctx, "EURUSD", dayBar(i, float64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			bars, _ := s.Get("EURUSD")
			for j := 1; j < len(bars); j++ {
				if !bars[j].Time.After(bars[j-1].Time) {
					t.Errorf("snapshot out of order at %d", j)
					return
				}
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 500, s.Len("EURUSD"))
}
