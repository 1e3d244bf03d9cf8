package peer_test

import (
	"context"
	"io"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/meeting-signaling/internal/handlers"
	"github.com/mossy-p/meeting-signaling/internal/media"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/peer"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/mossy-p/meeting-signaling/internal/transport"
	"github.com/pion/logging"
	"github.com/stretchr/testify/require"
)

func quietLoggers() *logging.DefaultLoggerFactory {
	factory := logging.NewDefaultLoggerFactory()
	factory.Writer = io.Discard
	return factory
}

func startRelay(t *testing.T) (string, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New()
	hub := handlers.NewHub(reg, nil, quietLoggers(), handlers.HubOptions{})
	router := gin.New()
	router.GET("/ws", hub.HandleSignaling)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", reg
}

type participant struct {
	orch  *peer.Orchestrator
	conn  *transport.WebSocket
	id    string
	chats chan models.ChatMessage
	done  chan error
}

func connect(t *testing.T, url, name string) *participant {
	t.Helper()
	lf := quietLoggers()

	conn, err := transport.Dial(context.Background(), url, lf)
	require.NoError(t, err)
	factory, err := peer.NewPionFactory(peer.PionConfig{LoggerFactory: lf})
	require.NoError(t, err)

	p := &participant{
		conn:  conn,
		chats: make(chan models.ChatMessage, 16),
		done:  make(chan error, 1),
	}
	p.orch = peer.New(peer.Options{
		Transport:     conn,
		Factory:       factory,
		Source:        media.NewSynthetic(name, lf),
		LoggerFactory: lf,
		DisplayName:   name,
		OnChat:        func(msg models.ChatMessage) { p.chats <- msg },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { p.done <- p.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		conn.Close()
	})

	require.Eventually(t, func() bool {
		p.id = p.orch.SelfID()
		return p.id != ""
	}, 3*time.Second, 10*time.Millisecond)
	return p
}

func (p *participant) waitState(t *testing.T, remote string, want peer.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := p.orch.State(remote)
		return ok && got == want
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s", want)
}

func TestTwoParticipantCall(t *testing.T) {
	url, reg := startRelay(t)

	x := connect(t, url, "x")
	require.NoError(t, x.orch.StartCall(context.Background(), "r1"))
	require.Eventually(t, func() bool {
		return slices.Equal(reg.Members("r1"), []string{x.id})
	}, 3*time.Second, 10*time.Millisecond)

	y := connect(t, url, "y")
	require.NoError(t, y.orch.StartCall(context.Background(), "r1"))

	// the existing member offers to the newcomer
	x.waitState(t, y.id, peer.Connected)
	y.waitState(t, x.id, peer.Connected)
	require.Equal(t, []string{y.id}, x.orch.Participants())
	require.Equal(t, []string{x.id}, y.orch.Participants())

	require.NoError(t, x.orch.SendChat("hello"))
	gotX := <-x.chats
	gotY := <-y.chats
	require.Equal(t, gotX, gotY)
	require.Equal(t, x.id, gotY.SenderID)
	require.NotEmpty(t, gotY.ID)
	require.NotNil(t, gotY.Timestamp)

	// screen sharing keeps the connection as it is
	require.NoError(t, x.orch.StartScreenShare(context.Background()))
	require.NoError(t, x.orch.StopScreenShare())
	state, ok := x.orch.State(y.id)
	require.True(t, ok)
	require.Equal(t, peer.Connected, state)

	require.NoError(t, y.conn.Close())
	select {
	case err := <-y.done:
		require.ErrorIs(t, err, peer.ErrTransportClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("participant y did not stop")
	}

	require.Eventually(t, func() bool {
		_, ok := x.orch.State(y.id)
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
	require.Empty(t, x.orch.Participants())
	require.Equal(t, []string{x.id}, reg.Members("r1"))
}
