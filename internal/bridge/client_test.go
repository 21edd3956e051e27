package bridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/relay/internal/chat"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/history"
)

func startRelay(t *testing.T) string {
	t.Helper()
	h := chat.NewHub(history.New(t.TempDir()))
	srv := chat.NewServer(h, 6000, config.DefaultMaxVoiceBytes, 4)
	require.NoError(t, srv.Listen(0))
	go srv.Serve()
	t.Cleanup(func() {
		srv.Close()
		h.CloseAll()
		srv.Wait()
	})
	return fmt.Sprintf("127.0.0.1:%d", srv.Port())
}

func TestDialRelayLearnsID(t *testing.T) {
	addr := startRelay(t)

	c1, err := dialRelay(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c1.Close() })
	c2, err := dialRelay(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c2.Close() })

	assert.Equal(t, 1, c1.ID())
	assert.Equal(t, 2, c2.ID())
}

func TestClientTextRoundTrip(t *testing.T) {
	addr := startRelay(t)

	c1, err := dialRelay(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c1.Close() })
	c2, err := dialRelay(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c2.Close() })

	require.NoError(t, c1.SendCommand("/msg 2 hola desde el puente"))

	frame, err := c2.ReadFrame()
	require.NoError(t, err)
	assert.False(t, frame.Voice)
	assert.Equal(t, "[Privado] de 1: hola desde el puente", frame.Line)
}

func TestClientVoiceNoteRoundTrip(t *testing.T) {
	addr := startRelay(t)

	c1, err := dialRelay(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c1.Close() })
	c2, err := dialRelay(addr)
	require.NoError(t, err)
	t.Cleanup(func() { c2.Close() })

	payload := []byte{0x01, 0x02, 0x00, 0xff}
	require.NoError(t, c1.SendVoiceNote("voicenoteUser", "2", "clip.wav", payload))

	frame, err := c2.ReadFrame()
	require.NoError(t, err)
	assert.True(t, frame.Voice)
	assert.Equal(t, "1", frame.From)
	assert.Equal(t, "clip.wav", frame.Filename)
	assert.Equal(t, payload, frame.Data)
}
