package main

import (
	"context"
	"testing"
	"time"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/server"
	"github.com/cyberinferno/go-netserve/session"
	"github.com/cyberinferno/go-netserve/tcpclient"
	"github.com/cyberinferno/go-netserve/tcpserver"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDemo(t *testing.T) *server.Server[any] {
	t.Helper()

	var srv *server.Server[any]
	registry, err := buildRegistry(logger.Nop(), func() broadcaster { return srv })
	require.NoError(t, err)

	cfg := tcpserver.DefaultConfig()
	cfg.Name = "demo"
	cfg.StrictRegistry = true

	engine := tcpserver.New[any](cfg, registry, tcpserver.WithSessionOpened(func(s *session.Session) {
		srv.Send(s.ID(), newHello("demo"))
	}))

	srv = server.New(server.DefaultConfig("127.0.0.1:0"), engine, nil)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })

	return srv
}

func demoClient(t *testing.T, srv *server.Server[any], codec frame.BodyCodec, id uint32) chan tcpclient.FrameEvent {
	t.Helper()

	cfg := tcpclient.DefaultConfig(srv.Addr().String())
	cfg.Codec = codec
	c := tcpclient.New(cfg, nil)
	t.Cleanup(func() { _ = c.Close() })

	frames := make(chan tcpclient.FrameEvent, 16)
	c.OnFrame(func(ev tcpclient.FrameEvent) { frames <- ev })

	_, err := c.Connect(id)
	require.NoError(t, err)

	hello := nextFrame(t, frames, tagHello)
	var h Hello
	require.NoError(t, frame.Binary.Unmarshal(hello.Body, &h))
	assert.Equal(t, "demo", frame.String(h.Server[:]))

	if codec == frame.Binary {
		require.NoError(t, c.Send(tagPing, Ping{Seq: id, SentAt: 1}))
		ev := nextFrame(t, frames, tagPong)
		var p Pong
		require.NoError(t, frame.Binary.Unmarshal(ev.Body, &p))
		assert.Equal(t, Pong{Seq: id, SentAt: 1}, p)
	} else {
		require.NoError(t, c.Send(tagChat, Chat{Room: "lobby", Text: "hello"}))
	}

	return frames
}

func nextFrame(t *testing.T, frames chan tcpclient.FrameEvent, tag uint32) tcpclient.FrameEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-frames:
			if ev.Header.Tag == tag {
				return ev
			}
		case <-deadline:
			t.Fatalf("no frame with tag %d", tag)
		}
	}
}

func TestDemoProtocol(t *testing.T) {
	srv := startDemo(t)

	pinger := demoClient(t, srv, frame.Binary, 1)
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	demoClient(t, srv, frame.JSON, 2)

	ev := nextFrame(t, pinger, tagChat)
	var msg Chat
	require.NoError(t, frame.JSON.Unmarshal(ev.Body, &msg))
	assert.Equal(t, uint32(2), msg.From)
	assert.Equal(t, "lobby", msg.Room)
	assert.Equal(t, "hello", msg.Text)
	assert.False(t, msg.Created.IsZero())
}

func TestNewLogger(t *testing.T) {
	newCmd := func(level, format string) *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().String("log-level", level, "")
		cmd.Flags().String("log-format", format, "")
		return cmd
	}

	_, err := newLogger(newCmd("debug", "json"))
	assert.NoError(t, err)

	_, err = newLogger(newCmd("info", "console"))
	assert.NoError(t, err)

	_, err = newLogger(newCmd("loud", "console"))
	assert.Error(t, err)

	_, err = newLogger(newCmd("info", "xml"))
	assert.Error(t, err)
}
