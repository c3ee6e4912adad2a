package ingest

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jailtonjunior94/streamflow/internal/observability/noop"
)

func TestComputeAcceptKey(t *testing.T) {
	// The worked example from RFC 6455 section 1.3.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.False(t, isWebSocketUpgrade(req))

	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "keep-alive, Upgrade")
	assert.True(t, isWebSocketUpgrade(req))
}

// maskClientFrame encodes a masked client-to-server frame.
func maskClientFrame(opcode byte, payload []byte) []byte {
	maskKey := [4]byte{0x12, 0x34, 0x56, 0x78}

	var frame []byte
	n := len(payload)
	switch {
	case n < 126:
		frame = []byte{0x80 | opcode, 0x80 | byte(n)}
	case n < 65536:
		frame = []byte{0x80 | opcode, 0x80 | 126, 0, 0}
		binary.BigEndian.PutUint16(frame[2:], uint16(n))
	default:
		frame = make([]byte, 10)
		frame[0] = 0x80 | opcode
		frame[1] = 0x80 | 127
		binary.BigEndian.PutUint64(frame[2:], uint64(n))
	}
	frame = append(frame, maskKey[:]...)

	masked := make([]byte, n)
	for i, b := range payload {
		masked[i] = b ^ maskKey[i%4]
	}
	return append(frame, masked...)
}

// readServerFrame decodes one unmasked server-to-client frame.
func readServerFrame(t *testing.T, r *bufio.Reader) (byte, []byte) {
	t.Helper()

	b0, err := r.ReadByte()
	require.NoError(t, err)
	b1, err := r.ReadByte()
	require.NoError(t, err)

	require.Zero(t, b1&0x80, "server frames must not be masked")

	length := uint64(b1 & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		_, err = r.Read(ext[:])
		require.NoError(t, err)
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		_, err = r.Read(ext[:])
		require.NoError(t, err)
		length = binary.BigEndian.Uint64(ext[:])
	}

	payload := make([]byte, length)
	_, err = readFull(r, payload)
	require.NoError(t, err)
	return b0 & 0x0F, payload
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestWSConnFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wc := &wsConn{conn: server, reader: bufio.NewReader(server)}

	go func() {
		_, _ = client.Write(maskClientFrame(opText, []byte(`{"type":"ping"}`)))
	}()

	opcode, payload, err := wc.readFrame()
	require.NoError(t, err)
	assert.EqualValues(t, opText, opcode)
	assert.JSONEq(t, `{"type":"ping"}`, string(payload))

	go func() {
		_ = wc.writeReply(wsReply{Type: "pong"})
	}()

	op, reply := readServerFrame(t, bufio.NewReader(client))
	assert.EqualValues(t, opText, op)
	assert.JSONEq(t, `{"type":"pong"}`, string(reply))
}

func TestWSConnRejectsUnmaskedFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wc := &wsConn{conn: server, reader: bufio.NewReader(server)}

	go func() {
		// An unmasked two-byte text frame.
		_, _ = client.Write([]byte{0x80 | opText, 0x02, 'h', 'i'})
	}()

	_, _, err := wc.readFrame()
	assert.ErrorContains(t, err, "masked")
}

func TestWSConnRejectsOversizedFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	wc := &wsConn{conn: server, reader: bufio.NewReader(server)}

	go func() {
		// A header claiming a payload beyond the frame cap.
		header := make([]byte, 10)
		header[0] = 0x80 | opText
		header[1] = 0x80 | 127
		binary.BigEndian.PutUint64(header[2:], maxWSFrameSize+1)
		_, _ = client.Write(header)
	}()

	_, _, err := wc.readFrame()
	assert.ErrorContains(t, err, "maximum size")
}

func TestWebSocketEndToEnd(t *testing.T) {
	pub := &fakePublisher{}
	service := NewService(pub, noop.New())
	t.Cleanup(func() { _ = service.Shutdown(context.Background()) })

	router := chi.NewRouter()
	NewWSHandler(service, noop.New()).Register(router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte("GET /ws HTTP/1.1\r\n" +
		"Host: " + srv.Listener.Addr().String() + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, status, "101")

	var acceptSeen bool
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		if line == "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" {
			acceptSeen = true
		}
	}
	assert.True(t, acceptSeen)

	// A ping frame gets a pong reply.
	_, err = conn.Write(maskClientFrame(opText, []byte(`{"type":"ping"}`)))
	require.NoError(t, err)

	op, payload := readServerFrame(t, reader)
	assert.EqualValues(t, opText, op)
	var reply wsReply
	require.NoError(t, json.Unmarshal(payload, &reply))
	assert.Equal(t, "pong", reply.Type)

	// A valid event submission is acknowledged with its assigned id.
	frame, err := json.Marshal(wsFrame{
		Type:  "event",
		Event: json.RawMessage(`{"type":"web.click","source":"checkout"}`),
	})
	require.NoError(t, err)
	_, err = conn.Write(maskClientFrame(opText, frame))
	require.NoError(t, err)

	_, payload = readServerFrame(t, reader)
	require.NoError(t, json.Unmarshal(payload, &reply))
	assert.Equal(t, "ack", reply.Type)
	assert.NotEmpty(t, reply.EventID)

	// An invalid event is answered with an error frame, not a disconnect.
	frame, err = json.Marshal(wsFrame{
		Type:  "event",
		Event: json.RawMessage(`{"type":"web.click"}`),
	})
	require.NoError(t, err)
	_, err = conn.Write(maskClientFrame(opText, frame))
	require.NoError(t, err)

	_, payload = readServerFrame(t, reader)
	require.NoError(t, json.Unmarshal(payload, &reply))
	assert.Equal(t, "error", reply.Type)

	// An unknown frame type is also answered in-band.
	_, err = conn.Write(maskClientFrame(opText, []byte(`{"type":"mystery"}`)))
	require.NoError(t, err)

	_, payload = readServerFrame(t, reader)
	require.NoError(t, json.Unmarshal(payload, &reply))
	assert.Equal(t, "error", reply.Type)

	// A close frame is echoed.
	_, err = conn.Write(maskClientFrame(opClose, nil))
	require.NoError(t, err)

	op, _ = readServerFrame(t, reader)
	assert.EqualValues(t, opClose, op)
}
