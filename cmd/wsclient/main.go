package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"hvac-simulator/internal/hub"
)

func main() {
	var (
		url      string
		ping     time.Duration
		onlyType string
	)
	flag.StringVar(&url, "url", "ws://127.0.0.1:8000/ws/sensors", "Websocket URL")
	flag.DurationVar(&ping, "ping", 20*time.Second, "Ping interval, 0 disables")
	flag.StringVar(&onlyType, "type", "", "Only print messages of this type")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()
	if ping > 0 {
		go pinger(ctx, conn, ping)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("read: %v", err)
			}
			return
		}
		if string(data) == hub.PongText {
			continue
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			log.Printf("undecodable frame: %s", data)
			continue
		}
		if onlyType != "" && head.Type != onlyType {
			continue
		}
		fmt.Println(string(data))
	}
}

// pinger is the only data-frame writer on conn.
func pinger(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(hub.PingText)); err != nil {
				return
			}
		}
	}
}
