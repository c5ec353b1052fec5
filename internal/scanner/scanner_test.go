package scanner

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestListen_EmitsTrimmedCodes(t *testing.T) {
	var got []string
	err := Listen(context.Background(), strings.NewReader("4001\r\n\n  TEE-M \n\t\nbad\n8800"), zaptest.NewLogger(t),
		func(_ context.Context, code string) error {
			got = append(got, code)
			if code == "bad" {
				return errors.New("unknown code")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"4001", "TEE-M", "bad", "8800"}, got)
}

func TestListen_StopsOnContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())

	seen := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, pr, zaptest.NewLogger(t), func(_ context.Context, code string) error {
			seen <- code
			return nil
		})
	}()

	_, err := pw.Write([]byte("123\n"))
	require.NoError(t, err)
	assert.Equal(t, "123", <-seen)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListen_ClosesDeviceOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, pr, zaptest.NewLogger(t), func(context.Context, string) error { return nil })
	}()

	// nothing is written, so the read loop is parked in Read
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	_, err := pw.Write([]byte("late\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe, "device must be closed once the listener returns")
}
