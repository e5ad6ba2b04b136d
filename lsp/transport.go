package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/swiftlens/swiftlens/errors"
)

// MaxFrameBytes caps the body size of a single LSP frame. A server
// announcing more than this is treated as broken and the transport dies.
const MaxFrameBytes = 64 << 20

// ErrTransportClosed is returned once the underlying stream has ended or a
// framing violation killed the transport.
var ErrTransportClosed = errors.New("lsp transport closed")

// Transport frames JSON-RPC messages over a byte stream per the LSP base
// protocol: a header block of "Key: Value\r\n" lines terminated by an empty
// line, then exactly Content-Length bytes of UTF-8 JSON.
//
// Recv is owned by a single reader task. Send may be called from any task;
// writes are serialized so frames never interleave.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	closer io.Closer
}

// NewTransport creates a transport over the given stream pair. closer may be
// nil; when set it is closed together with the transport (typically the
// subprocess stdin).
func NewTransport(r io.Reader, w io.Writer, closer io.Closer) *Transport {
	return &Transport{
		reader: bufio.NewReader(r),
		writer: w,
		closer: closer,
	}
}

// Send serializes msg and writes exactly one frame.
func (t *Transport) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal JSON-RPC message")
	}
	if len(data) > MaxFrameBytes {
		return errors.Newf("outgoing frame of %d bytes exceeds cap", len(data))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return ErrTransportClosed
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(t.writer, header); err != nil {
		t.Close()
		return errors.Wrap(err, "write frame header")
	}
	if _, err := t.writer.Write(data); err != nil {
		t.Close()
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

// Recv returns the body of the next complete frame. A malformed header,
// missing or negative Content-Length, over-cap length, or truncated body is
// fatal: the transport closes and every subsequent call fails.
func (t *Transport) Recv() ([]byte, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			t.Close()
			if err == io.EOF && line == "" && contentLength < 0 {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "read frame header")
		}
		if !strings.HasSuffix(line, "\r\n") {
			t.Close()
			return nil, errors.Newf("malformed header line %q: missing CRLF", strings.TrimRight(line, "\n"))
		}
		line = strings.TrimSuffix(line, "\r\n")
		if line == "" {
			// Empty line marks end of headers
			break
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			t.Close()
			return nil, errors.Newf("malformed header line %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				t.Close()
				return nil, errors.Wrapf(err, "invalid Content-Length %q", strings.TrimSpace(value))
			}
			contentLength = n
		}
		// Other headers (Content-Type) are ignored.
	}

	if contentLength < 0 {
		t.Close()
		return nil, errors.New("frame missing Content-Length header")
	}
	if contentLength > MaxFrameBytes {
		t.Close()
		return nil, errors.Newf("frame of %d bytes exceeds %d byte cap", contentLength, MaxFrameBytes)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		t.Close()
		return nil, errors.Wrap(err, "read truncated frame body")
	}
	return body, nil
}

// Close marks the transport closed and closes the attached closer, if any.
// Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
