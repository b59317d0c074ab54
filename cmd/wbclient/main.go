// Command wbclient joins a whiteboard room from the terminal. Every stdin line
// is sent as a full snapshot; inbound events are logged.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"whiteboardsync/internal/auth"
	"whiteboardsync/internal/wsclient"
)

func main() {
	base := flag.String("base", "http://localhost:8085", "server base url")
	whiteboard := flag.String("whiteboard", "", "whiteboard id")
	token := flag.String("token", "", "bearer token")
	clientID := flag.String("client", "", "client id (generated when empty)")
	secret := flag.String("secret", os.Getenv("AUTH_JWT_SECRET"), "sign a dev token with this secret when -token is empty")
	user := flag.String("user", "dev", "subject of the dev token")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	if *whiteboard == "" {
		log.Fatal("wbclient.flags", zap.String("error", "-whiteboard is required"))
	}
	if *token == "" && *secret != "" {
		t, err := auth.Sign(*secret, *user, 24*time.Hour)
		if err != nil {
			log.Fatal("wbclient.sign", zap.Error(err))
		}
		*token = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := wsclient.New(wsclient.Options{
		WhiteboardID: *whiteboard,
		ClientID:     *clientID,
		Token:        func() string { return *token },
		BaseURL:      func() string { return *base },
		Logger:       log,
		Handlers: wsclient.Handlers{
			OnStatus: func(s wsclient.Status, reason string) {
				log.Info("wbclient.status", zap.String("status", string(s)), zap.String("reason", reason))
			},
			OnSnapshot: func(snap json.RawMessage, version *int64, from string) {
				fields := []zap.Field{zap.String("from", from), zap.Int("bytes", len(snap))}
				if version != nil {
					fields = append(fields, zap.Int64("version", *version))
				}
				log.Info("wbclient.snapshot", fields...)
			},
			OnAck: func(version int64) {
				log.Info("wbclient.ack", zap.Int64("version", version))
			},
			OnComment: func(ev wsclient.CommentEvent) {
				log.Info("wbclient.comment", zap.String("type", string(ev.Type)),
					zap.String("comment_id", ev.CommentID), zap.ByteString("comment", ev.Comment))
			},
			OnError: func(err error) {
				log.Warn("wbclient.error", zap.Error(err))
			},
		},
	})
	c.Connect()
	defer c.Disconnect()

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
		for sc.Scan() {
			lines <- append([]byte(nil), sc.Bytes()...)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !json.Valid(line) {
				log.Warn("wbclient.input", zap.String("error", "line is not valid JSON"))
				continue
			}
			res := c.SendSnapshot(json.RawMessage(line), nil)
			if !res.Sent {
				log.Warn("wbclient.send", zap.String("reason", res.Reason), zap.Int("buffered", res.BufferedAmount))
			}
		}
	}
}
