package network

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/banshee-data/facetrack/internal/face/landmarks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPSourceDecodesFrames(t *testing.T) {
	sock := NewMockUDPSocket(
		[]byte(`{"index":5,"width":640,"height":480,"faces":[[{"x":1,"y":2}]]}`),
		[]byte(`not json`),
		[]byte(`{"width":640,"height":480,"faces":[]}`),
	)
	src := NewUDPSource(UDPSourceConfig{
		Address: "127.0.0.1:0",
		RcvBuf:  1 << 20,
		Factory: &MockUDPSocketFactory{Socket: sock},
	})

	ctx, cancel := context.WithCancel(context.Background())
	listenErr := make(chan error, 1)
	go func() { listenErr <- src.Listen(ctx) }()

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()

	f, err := src.Next(readCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.Index)
	assert.Len(t, f.Faces, 1)
	assert.False(t, f.Timestamp.IsZero())

	f, err = src.Next(readCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), f.Index, "frames without an index continue the count")
	assert.False(t, f.HasFace())

	cancel()
	assert.ErrorIs(t, <-listenErr, context.Canceled)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	st := src.Stats()
	assert.Equal(t, uint64(3), st.Packets)
	assert.Equal(t, uint64(1), st.DecodeErrors)
	assert.Equal(t, 1<<20, sock.ReadBufferSize)
	assert.True(t, sock.Closed)
	assert.NotNil(t, src.LocalAddr())
}

func TestUDPSourceDropsWhenBehind(t *testing.T) {
	packets := make([][]byte, 5)
	for i := range packets {
		packets[i] = []byte(`{"width":640,"height":480}`)
	}
	src := NewUDPSource(UDPSourceConfig{
		Address: "127.0.0.1:0",
		Buffer:  2,
		Factory: &MockUDPSocketFactory{Socket: NewMockUDPSocket(packets...)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Listen(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.Stats().Packets == 5 }, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, uint64(3), src.Stats().Dropped)

	// Queued frames are still delivered before EOF.
	for i := 0; i < 2; i++ {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestUDPSourceListenError(t *testing.T) {
	src := NewUDPSource(UDPSourceConfig{
		Address: "127.0.0.1:0",
		Factory: &MockUDPSocketFactory{Error: errors.New("address in use")},
	})
	err := src.Listen(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestUDPSourceNextHonoursContext(t *testing.T) {
	src := NewUDPSource(UDPSourceConfig{Address: "127.0.0.1:0"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUDPSourceRealSocket(t *testing.T) {
	src := NewUDPSource(UDPSourceConfig{Address: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Listen(ctx)

	require.Eventually(t, func() bool { return src.LocalAddr() != nil }, 5*time.Second, time.Millisecond)

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(`{"index":1,"width":320,"height":240}`))
	require.NoError(t, err)

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	f, err := src.Next(readCtx)
	require.NoError(t, err)
	assert.Equal(t, landmarks.Frame{Index: 1, Width: 320, Height: 240, Timestamp: f.Timestamp}, f)
}
