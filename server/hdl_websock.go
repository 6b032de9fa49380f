/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store/types"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = idleSessionTimeout

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

func (s *Session) closeWS() {
	s.ws.Close()
}

func (s *Session) readLoop() {
	defer func() {
		s.closeWS()
		s.cleanUp()
	}()

	s.ws.SetReadLimit(globals.maxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Read a ClientComMessage
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if unexpectedClose(err) {
				logs.Err.Println("ws: readLoop", s.sid, err)
			}
			return
		}
		statsInc(statWsIncoming, 1)

		// Events of one session are handled in order. The pool caps the number of
		// events handled at once across all sessions.
		globals.workerPool.Run(func() { s.dispatchRaw(raw) })
	}
}

func (s *Session) sendMessage(msg []byte) bool {
	statsInc(statWsOutgoing, 1)
	if err := wsWrite(s.ws, websocket.TextMessage, msg); err != nil {
		if unexpectedClose(err) {
			logs.Err.Println("ws: writeLoop", s.sid, err)
		}
		return false
	}
	return true
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		s.markDone()
		// Break readLoop.
		s.closeWS()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				// Channel closed.
				return
			}
			if !s.sendMessage(msg) {
				return
			}

		case msg := <-s.stop:
			// Shutdown requested, don't care if the message is delivered
			if msg != nil {
				wsWrite(s.ws, websocket.TextMessage, msg)
			}
			return

		case <-ticker.C:
			if err := wsWrite(s.ws, websocket.PingMessage, nil); err != nil {
				if unexpectedClose(err) {
					logs.Err.Println("ws: writeLoop ping", s.sid, err)
				}
				return
			}
		}
	}
}

func unexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
		websocket.CloseNormalClosure)
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg []byte) error {
	if msg == nil {
		msg = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, msg)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if !checkAPIKey(getAPIKey(req)) {
		writeJSON(wrt, http.StatusForbidden, ErrAPIKeyRequired(now))
		logs.Warn.Println("ws: Missing, invalid or expired API key", getRemoteAddr(req))
		return
	}
	if req.Method != http.MethodGet {
		writeJSON(wrt, http.StatusMethodNotAllowed, ErrOperationNotAllowed(now))
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: Not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to Upgrade ", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, "")
	sess.remoteAddr = getRemoteAddr(req)

	logs.Info.Printf("ws: session started sid='%s' ip='%s' live=%d", sess.sid, sess.remoteAddr, count)

	// Both loops outlive the handler; returning releases the request.
	go sess.writeLoop()
	go sess.readLoop()
}
