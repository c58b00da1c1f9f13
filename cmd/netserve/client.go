package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/logger"
	"github.com/cyberinferno/go-netserve/tcpclient"
	"github.com/spf13/cobra"
)

type clientOptions struct {
	addr      string
	sessionID uint32
	timeout   time.Duration
}

func addClientFlags(cmd *cobra.Command, opts *clientOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.addr, "addr", "a", "127.0.0.1:9000", "Server address")
	f.Uint32Var(&opts.sessionID, "id", 1, "Session id to claim; 0 asks the server to assign one")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "How long to wait for replies")
}

func newClient(opts clientOptions, log logger.Logger, codec frame.BodyCodec) *tcpclient.Client {
	cfg := tcpclient.DefaultConfig(opts.addr)
	cfg.ConnectionTimeout = opts.timeout
	cfg.HandshakeTimeout = opts.timeout
	cfg.Codec = codec

	c := tcpclient.New(cfg, log)
	c.OnError(func(ev tcpclient.ErrorEvent) {
		log.Debug("connection error", logger.Err(ev.Error))
	})

	return c
}

func pingCmd() *cobra.Command {
	opts := clientOptions{}
	var count int

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round trips to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}

			c := newClient(opts, log, frame.Binary)
			defer c.Close()

			pongs := make(chan Pong, count)
			c.OnFrame(func(ev tcpclient.FrameEvent) {
				switch ev.Header.Tag {
				case tagPong:
					var p Pong
					if err := frame.Binary.Unmarshal(ev.Body, &p); err == nil {
						pongs <- p
					}
				case tagHello:
					var h Hello
					if err := frame.Binary.Unmarshal(ev.Body, &h); err == nil {
						fmt.Printf("connected to %s\n", frame.String(h.Server[:]))
					}
				}
			})

			id, err := c.Connect(opts.sessionID)
			if err != nil {
				return err
			}
			fmt.Printf("session %d established\n", id)

			for seq := 1; seq <= count; seq++ {
				if err := c.Send(tagPing, Ping{Seq: uint32(seq), SentAt: time.Now().UnixNano()}); err != nil {
					return err
				}

				select {
				case p := <-pongs:
					rtt := time.Duration(time.Now().UnixNano() - p.SentAt)
					fmt.Printf("pong seq=%d time=%s\n", p.Seq, rtt)
				case <-time.After(opts.timeout):
					return errors.New("timed out waiting for pong")
				}
			}

			return nil
		},
	}

	addClientFlags(cmd, &opts)
	cmd.Flags().IntVarP(&count, "count", "c", 3, "Number of pings")

	return cmd
}

func chatCmd() *cobra.Command {
	opts := clientOptions{}
	var room string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the chat relay; lines read from stdin are broadcast",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}

			c := newClient(opts, log, frame.JSON)
			defer c.Close()

			c.OnFrame(func(ev tcpclient.FrameEvent) {
				if ev.Header.Tag != tagChat {
					return
				}

				var msg Chat
				if err := frame.JSON.Unmarshal(ev.Body, &msg); err == nil {
					fmt.Printf("[%s] %d: %s\n", msg.Room, msg.From, msg.Text)
				}
			})

			if _, err := c.Connect(opts.sessionID); err != nil {
				return err
			}

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if err := c.Send(tagChat, Chat{Room: room, Text: scanner.Text()}); err != nil {
					return err
				}
			}

			return scanner.Err()
		},
	}

	addClientFlags(cmd, &opts)
	cmd.Flags().StringVar(&room, "room", "lobby", "Room label attached to messages")

	return cmd
}
