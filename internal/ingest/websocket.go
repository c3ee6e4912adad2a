package ingest

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by RFC 6455 section 4.1
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jailtonjunior94/streamflow/internal/domain"
	"github.com/jailtonjunior94/streamflow/internal/observability"
)

const (
	// wsGUID is the fixed GUID from RFC 6455 section 4.1 for computing the
	// Sec-WebSocket-Accept value.
	wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// maxWSFrameSize bounds inbound payloads. The largest legal event
	// carries 100 KB of data; frames beyond this drop the connection.
	maxWSFrameSize = 256 * 1024

	// wsCallerID is the identity stamped on events submitted over the
	// socket when the producer names no user.
	wsCallerID = "ws-user"

	wsWriteTimeout = 10 * time.Second

	opText  = 0x1
	opClose = 0x8
	opPing  = 0x9
	opPong  = 0xA
)

// WSHandler upgrades /ws connections and feeds inbound event frames
// through the same validate/stamp/enqueue path as the HTTP endpoints.
// Frame ordering is preserved per connection: one goroutine reads, handles,
// and answers each frame in turn.
type WSHandler struct {
	service *Service
	o11y    observability.Observability
}

// NewWSHandler creates the streaming submission endpoint.
func NewWSHandler(service *Service, o11y observability.Observability) *WSHandler {
	return &WSHandler{service: service, o11y: o11y}
}

// Register mounts the endpoint.
func (h *WSHandler) Register(r chi.Router) {
	r.Get("/ws", h.serve)
}

// wsFrame is an inbound JSON frame: an event submission or a ping.
type wsFrame struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event,omitempty"`
}

// wsReply is the outbound JSON frame.
type wsReply struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server does not support hijacking", http.StatusInternalServerError)
		return
	}

	conn, bufrw, err := hj.Hijack()
	if err != nil {
		h.o11y.Logger().Error(r.Context(), "websocket hijack failed", observability.Error(err))
		return
	}
	defer conn.Close()

	handshake := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"

	if _, err := bufrw.WriteString(handshake); err != nil {
		return
	}
	if err := bufrw.Flush(); err != nil {
		return
	}

	clientID := uuid.NewString()
	h.o11y.Logger().Info(r.Context(), "websocket client connected",
		observability.String("client_id", clientID),
		observability.String("remote_addr", conn.RemoteAddr().String()),
	)

	wc := &wsConn{conn: conn, reader: bufrw.Reader}
	h.readLoop(r, wc, clientID)

	h.o11y.Logger().Info(r.Context(), "websocket client disconnected",
		observability.String("client_id", clientID),
	)
}

func (h *WSHandler) readLoop(r *http.Request, wc *wsConn, clientID string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.o11y.Logger().Error(r.Context(), "websocket read loop panic",
				observability.Any("panic", recovered),
				observability.String("client_id", clientID),
			)
		}
	}()

	for {
		opcode, payload, err := wc.readFrame()
		if err != nil {
			return
		}

		switch opcode {
		case opClose:
			_ = wc.writeFrame(opClose, nil)
			return

		case opPing:
			if err := wc.writeFrame(opPong, payload); err != nil {
				return
			}

		case opText:
			if err := h.handleFrame(r, wc, payload); err != nil {
				return
			}
		}
	}
}

// handleFrame processes one text frame and writes its reply. Malformed
// frames are answered with an error frame rather than a disconnect.
func (h *WSHandler) handleFrame(r *http.Request, wc *wsConn, payload []byte) error {
	var frame wsFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return wc.writeReply(wsReply{Type: "error", Error: "invalid JSON frame"})
	}

	switch frame.Type {
	case "ping":
		return wc.writeReply(wsReply{Type: "pong"})

	case "event":
		var event domain.Event
		if err := json.Unmarshal(frame.Event, &event); err != nil {
			return wc.writeReply(wsReply{Type: "error", Error: "invalid event payload"})
		}

		id, err := h.service.Ingest(r.Context(), &event, wsCallerID)
		if err != nil {
			return wc.writeReply(wsReply{Type: "error", Error: err.Error()})
		}
		return wc.writeReply(wsReply{Type: "ack", EventID: id})

	default:
		return wc.writeReply(wsReply{Type: "error", Error: fmt.Sprintf("unknown frame type %q", frame.Type)})
	}
}

// wsConn frames a hijacked TCP connection per RFC 6455. Writes are
// serialized; reads happen only from the single read loop.
type wsConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// readFrame reads one client frame. Client-to-server frames must be
// masked (RFC 6455 section 5.1); unmasked frames drop the connection.
func (c *wsConn) readFrame() (byte, []byte, error) {
	b0, err := c.reader.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	b1, err := c.reader.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	opcode := b0 & 0x0F
	masked := (b1 & 0x80) != 0
	length := uint64(b1 & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(c.reader, ext[:]); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(c.reader, ext[:]); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if length > maxWSFrameSize {
		return 0, nil, errors.New("frame exceeds maximum size")
	}
	if !masked {
		return 0, nil, errors.New("client frames must be masked")
	}

	var maskKey [4]byte
	if _, err := io.ReadFull(c.reader, maskKey[:]); err != nil {
		return 0, nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return 0, nil, err
	}
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}

	return opcode, payload, nil
}

// writeFrame writes one unfragmented, unmasked server frame.
func (c *wsConn) writeFrame(opcode byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}

	n := len(payload)
	var header []byte
	switch {
	case n < 126:
		header = []byte{0x80 | opcode, byte(n)}
	case n < 65536:
		header = []byte{0x80 | opcode, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = 0x80 | opcode
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if n > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *wsConn) writeReply(reply wsReply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return c.writeFrame(opText, payload)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// computeAcceptKey derives Sec-WebSocket-Accept from the client key.
func computeAcceptKey(key string) string {
	//nolint:gosec // SHA-1 is mandated by RFC 6455; not used for security
	h := sha1.New()
	h.Write([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
