package main

import (
	"context"
	"time"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/handler"
	"github.com/cyberinferno/go-netserve/logger"
)

// Demo protocol tags.
const (
	tagPing = 1
	tagPong = 2
	tagChat = 3
)

const nameSize = 16

// Ping asks the server to echo Seq back as a Pong.
type Ping struct {
	Seq    uint32
	SentAt int64
}

// Pong answers a Ping.
type Pong struct {
	Seq    uint32
	SentAt int64
}

// Chat is relayed to every connected session.
type Chat struct {
	From    uint32    `json:"from"`
	Room    string    `json:"room"`
	Text    string    `json:"text"`
	Created time.Time `json:"created"`
}

// Hello is a fixed-layout greeting sent to a session right after it connects.
type Hello struct {
	Server [nameSize]byte
	Tick   int64
}

const tagHello = 4

func newHello(server string) Hello {
	var h Hello
	frame.PutString(h.Server[:], server)
	h.Tick = time.Now().Unix()
	return h
}

// broadcaster queues a payload for every session.
type broadcaster interface {
	Broadcast(data any) int
}

// buildRegistry registers the demo protocol. Chat messages are relayed
// through b.
func buildRegistry(log logger.Logger, b func() broadcaster) (*handler.Registry, error) {
	builder := handler.NewBuilder(log)

	errs := []error{
		handler.Register[Ping](builder, tagPing, func() handler.Handler {
			return handler.NewTyped(tagPing, frame.Binary, func(ctx context.Context, req *handler.Request, msg Ping) error {
				req.Reply(ctx, Pong(msg))
				return nil
			})
		}),
		handler.Register[Pong](builder, tagPong, func() handler.Handler {
			return handler.NewTyped[Pong](tagPong, frame.Binary, nil)
		}),
		handler.Register[Hello](builder, tagHello, func() handler.Handler {
			return handler.NewTyped[Hello](tagHello, frame.Binary, nil)
		}),
		handler.Register[Chat](builder, tagChat, func() handler.Handler {
			return handler.NewTyped(tagChat, frame.JSON, func(ctx context.Context, req *handler.Request, msg Chat) error {
				msg.From = req.Session.ID()
				msg.Created = time.Now().UTC()
				n := b().Broadcast(msg)
				log.Debug("chat relayed", logger.Field{Key: "from", Value: msg.From}, logger.Field{Key: "sessions", Value: n})
				return nil
			})
		}),
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return builder.Build()
}
