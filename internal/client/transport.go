package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// frame matches the gateway's wire envelope.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Transport is the websocket leg between a controller and the meeting
// service. It implements Signaler.
type Transport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to the service's websocket endpoint, e.g.
// "ws://localhost:8080/ws".
func Dial(ctx context.Context, url string) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Transport{conn: conn}, nil
}

// Emit implements Signaler.
func (t *Transport) Emit(event string, payload any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(outFrame{Event: event, Payload: payload})
}

// Run reads frames and hands them to the handler until the connection drops
// or the context is cancelled. Dispatch errors are passed to onError and do
// not stop the loop.
func (t *Transport) Run(ctx context.Context, handler func(event string, payload json.RawMessage) error, onError func(error)) error {
	go func() {
		<-ctx.Done()
		t.conn.Close()
	}()

	for {
		var msg frame
		if err := t.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read failed: %w", err)
		}
		if err := handler(msg.Event, msg.Payload); err != nil && onError != nil {
			onError(err)
		}
	}
}

func (t *Transport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}
