package sentry_transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingOp(release <-chan struct{}) func() (*Response, error) {
	return func() (*Response, error) {
		<-release
		return &Response{Status: StatusSuccess}, nil
	}
}

func TestRequestBufferRejectsBeyondLimit(t *testing.T) {
	for _, limit := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			b := NewRequestBuffer(limit)

			releases := make([]chan struct{}, limit)
			pending := make([]*Pending, limit)
			for i := range releases {
				releases[i] = make(chan struct{})
				p, err := b.Add(blockingOp(releases[i]))
				require.NoError(t, err)
				pending[i] = p
			}
			assert.Equal(t, limit, b.Len())

			_, err := b.Add(blockingOp(nil))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBufferFull))

			var full *BufferFullError
			require.True(t, errors.As(err, &full))
			assert.Equal(t, limit, full.Limit)
			assert.Equal(t, limit, b.Len())

			close(releases[0])
			<-pending[0].Done()
			assert.Equal(t, limit-1, b.Len())

			last := make(chan struct{})
			p, err := b.Add(blockingOp(last))
			require.NoError(t, err)

			close(last)
			for _, r := range releases[1:] {
				close(r)
			}

			resp, err := p.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, resp.Status)
			assert.True(t, b.Drain(time.Second))
			assert.Equal(t, 0, b.Len())
		})
	}
}

func TestRequestBufferDefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultBufferSize, NewRequestBuffer(0).Limit())
	assert.Equal(t, DefaultBufferSize, NewRequestBuffer(-5).Limit())
	assert.Equal(t, 7, NewRequestBuffer(7).Limit())
}

func TestRequestBufferMirrorsOutcome(t *testing.T) {
	b := NewRequestBuffer(2)
	cause := errors.New("boom")

	p, err := b.Add(func() (*Response, error) { return nil, cause })
	require.NoError(t, err)

	resp, err := p.Wait(context.Background())
	assert.Nil(t, resp)
	assert.Same(t, cause, err)
	assert.Equal(t, 0, b.Len())
}

func TestRequestBufferReleasesSlotOnPanic(t *testing.T) {
	b := NewRequestBuffer(1)

	p, err := b.Add(func() (*Response, error) { panic("kaboom") })
	require.NoError(t, err)

	_, err = p.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, b.Len())

	_, err = b.Add(func() (*Response, error) { return nil, nil })
	assert.NoError(t, err)
}

func TestRequestBufferDrain(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		b := NewRequestBuffer(1)
		assert.True(t, b.Drain(0))
		assert.True(t, b.Drain(time.Millisecond))
	})

	t.Run("timeout leaves operations running", func(t *testing.T) {
		b := NewRequestBuffer(2)
		release := make(chan struct{})

		p, err := b.Add(blockingOp(release))
		require.NoError(t, err)

		assert.False(t, b.Drain(20*time.Millisecond))
		assert.Equal(t, 1, b.Len())

		select {
		case <-p.Done():
			t.Fatal("operation must not be cancelled by a drain timeout")
		default:
		}

		close(release)
		resp, err := p.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, resp.Status)
		assert.True(t, b.Drain(time.Second))
	})

	t.Run("no timeout waits", func(t *testing.T) {
		b := NewRequestBuffer(2)
		release := make(chan struct{})

		_, err := b.Add(blockingOp(release))
		require.NoError(t, err)

		drained := make(chan bool)
		go func() { drained <- b.Drain(0) }()

		time.AfterFunc(10*time.Millisecond, func() { close(release) })

		select {
		case ok := <-drained:
			assert.True(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("drain did not return")
		}
	})
}

func TestPendingWaitAbandonsOnContext(t *testing.T) {
	b := NewRequestBuffer(1)
	release := make(chan struct{})

	p, err := b.Add(blockingOp(release))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, b.Len())

	close(release)
	resp, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
}
