package server

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// WebSocketSubprotocols are the STOMP subprotocols negotiated during the WebSocket
// handshake, highest version first.
var WebSocketSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// WebSocketHandler returns an http.Handler that upgrades requests to WebSocket and
// serves STOMP on them.  Every WebSocket message carries one frame or heartbeat.
//
// checkOrigin may be nil to use the same-origin policy of the websocket package.
func (srv *Server) WebSocketHandler(checkOrigin func(r *http.Request) bool) http.Handler {
	srv.once.Do(srv.start)
	up := websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		Subprotocols:    WebSocketSubprotocols,
		CheckOrigin:     checkOrigin,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			srv.log.Warnf("stomp.server: websocket upgrade from %v: %v", r.RemoteAddr, err)
			return
		}
		if limit := srv.Options.MaxBodyLength; limit > 0 {
			conn.SetReadLimit(int64(limit + srv.Options.MaxHeaders*srv.Options.MaxHeaderLength + 1024))
		}
		ws := NewWebSocketConn(conn)
		srv.accept(stomp.Peer{R: ws, W: ws}, r.RemoteAddr)
	})
}

// WebSocketConn adapts a websocket connection to the byte stream read and written by
// a stomp.Peer.
//
// Each Write is sent as one text message.  Received messages are concatenated; a frame
// missing its NUL terminator is given one.
type WebSocketConn struct {
	conn *websocket.Conn
	buf  bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps conn.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// Read implements io.Reader.
func (ws *WebSocketConn) Read(p []byte) (int, error) {
	for ws.buf.Len() == 0 {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return 0, io.EOF
			}
			return 0, err
		}
		ws.buf.Write(data)
		if trimmed := bytes.TrimRight(data, "\r\n"); len(trimmed) > 0 && trimmed[len(trimmed)-1] != 0 {
			ws.buf.WriteByte(0)
		}
	}
	return ws.buf.Read(p)
}

// Write implements io.Writer.
func (ws *WebSocketConn) Write(p []byte) (int, error) {
	if err := ws.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadDeadline sets the deadline of the underlying connection.
func (ws *WebSocketConn) SetReadDeadline(t time.Time) error {
	return ws.conn.SetReadDeadline(t)
}

// Close sends a close message and closes the connection.
func (ws *WebSocketConn) Close() error {
	ws.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(500*time.Millisecond))
		ws.closeErr = ws.conn.Close()
	})
	return ws.closeErr
}

// Subprotocol returns the negotiated STOMP subprotocol.
func (ws *WebSocketConn) Subprotocol() string {
	return ws.conn.Subprotocol()
}
