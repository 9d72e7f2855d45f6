package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait is how long a silent client is kept before the read loop gives up.
	readWait = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// Frame wraps data in a ResponsePayload for the given event.
func Frame(event Event, data interface{}) (ResponsePayload, error) {
	if data == nil {
		return ResponsePayload{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ResponsePayload{}, err
	}
	return ResponsePayload{Event: event, Data: raw}, nil
}

// ErrorFrame builds an error frame.
func ErrorFrame(errMsg string) ResponsePayload {
	return ResponsePayload{Event: EventError, Error: errMsg}
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
