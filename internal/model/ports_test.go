package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

func TestMultiSink_CallsEverySink(t *testing.T) {
	var got []string
	ok := BarSinkFunc(func(_ context.Context, sym string, _ Bar) error {
		got = append(got, "ok:"+sym)
		return nil
	})
	bad := BarSinkFunc(func(_ context.Context, sym string, _ Bar) error {
		got = append(got, "bad:"+sym)
		return assert.AnError
	})

	sink := MultiSink{bad, ok, bad}
	err := sink.SaveBar(context.Background(), "EURUSD", Bar{Time: time.Unix(0, 0)})

	assert.Equal(t, []string{"bad:EURUSD", "ok:EURUSD", "bad:EURUSD"}, got)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestMultiSink_Empty(t *testing.T) {
	assert.NoError(t, MultiSink(nil).SaveBar(context.Background(), "X", Bar{}))
}
