// Package main runs a demo WebSocket client for the simulation feed.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Grab the current snapshot to learn the run id
	resp, err := http.Get(base + "/v1/snapshot")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var snap struct {
		RunID string `json:"runId"`
		Tick  int64  `json:"tick"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run ID: %s (tick %d)", snap.RunID, snap.Tick)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/feed", RawQuery: "runId=" + snap.RunID + "&maxHz=2"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame struct {
				Tick   int64 `json:"tick"`
				Day    int   `json:"day"`
				Hour   int   `json:"hour"`
				Trucks []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"trucks"`
			}
			if err := c.ReadJSON(&frame); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- tick %d (day %d hour %02d), %d trucks", frame.Tick, frame.Day, frame.Hour, len(frame.Trucks))
		}
	}()

	select {
	case <-time.After(10 * time.Second):
	case <-done:
	}
}
