package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
)

// feed_listen prints the remotebridge diagnostic feed, one line per frame.

type frame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func main() {
	var (
		addr = flag.String("addr", "127.0.0.1:3002", "remotebridge feed address (host:port)")
		raw  = flag.Bool("raw", false, "Print frames verbatim")
	)
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/events"}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected (press Ctrl+C to exit)")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
					log.Printf("feed error: %v", err)
				}
				return
			}
			if *raw {
				fmt.Println(string(msg))
				continue
			}
			fmt.Println(formatFrame(msg))
		}
	}()

	select {
	case <-sigc:
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one feed frame for a terminal.
func formatFrame(msg []byte) string {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return "[TEXT] " + string(msg)
	}

	ts := f.Ts.Local().Format("15:04:05.000")
	var fields map[string]any
	_ = json.Unmarshal(f.Data, &fields)

	switch f.Type {
	case "session_state":
		return fmt.Sprintf("%s [SESSION %v] %v", ts, fields["session"], fields["state"])
	case "mode_changed":
		return fmt.Sprintf("%s [MODE] %v", ts, fields["mode"])
	case "action_dispatched":
		var extra []string
		for k, v := range fields {
			switch k {
			case "action", "device_type", "device_name", "source":
			default:
				extra = append(extra, fmt.Sprintf("%s=%v", k, v))
			}
		}
		line := fmt.Sprintf("%s [ACTION] %v -> %v", ts, fields["action"], fields["device_type"])
		if len(extra) > 0 {
			line += " " + strings.Join(extra, " ")
		}
		return line
	default:
		return fmt.Sprintf("%s [%s] %s", ts, strings.ToUpper(f.Type), string(f.Data))
	}
}
