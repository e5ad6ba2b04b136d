package lsp

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestTransportRecvSingleFrame(t *testing.T) {
	r := strings.NewReader(frame(`{"jsonrpc":"2.0","id":1}`))
	tr := NewTransport(r, io.Discard, nil)

	body, err := tr.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1}`, string(body))
}

func TestTransportRecvMultipleFrames(t *testing.T) {
	r := strings.NewReader(frame(`{"id":1}`) + frame(`{"id":2}`) + frame(`{"id":3}`))
	tr := NewTransport(r, io.Discard, nil)

	for i := 1; i <= 3; i++ {
		body, err := tr.Recv()
		require.NoError(t, err)
		assert.Contains(t, string(body), fmt.Sprintf("%d", i))
	}

	_, err := tr.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestTransportRecvIgnoresExtraHeaders(t *testing.T) {
	body := `{"id":7}`
	raw := fmt.Sprintf("Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	tr := NewTransport(strings.NewReader(raw), io.Discard, nil)

	got, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestTransportRecvHeaderCaseInsensitive(t *testing.T) {
	body := `{}`
	raw := fmt.Sprintf("content-length: %d\r\n\r\n%s", len(body), body)
	tr := NewTransport(strings.NewReader(raw), io.Discard, nil)

	got, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestTransportRecvFatalOnMalformedInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing content length", "Content-Type: text\r\n\r\n{}"},
		{"negative content length", "Content-Length: -5\r\n\r\n"},
		{"non-numeric content length", "Content-Length: abc\r\n\r\n"},
		{"over cap", fmt.Sprintf("Content-Length: %d\r\n\r\n", MaxFrameBytes+1)},
		{"missing crlf", "Content-Length: 2\n\n{}"},
		{"header without colon", "ContentLength 2\r\n\r\n{}"},
		{"truncated body", "Content-Length: 100\r\n\r\n{}"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTransport(strings.NewReader(tc.raw), io.Discard, nil)

			_, err := tr.Recv()
			require.Error(t, err)

			// The violation is fatal: every later call fails too.
			_, err = tr.Recv()
			assert.ErrorIs(t, err, ErrTransportClosed)
			assert.ErrorIs(t, tr.Send(map[string]int{"id": 1}), ErrTransportClosed)
		})
	}
}

func TestTransportSendFramesMessage(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(strings.NewReader(""), &buf, nil)

	require.NoError(t, tr.Send(map[string]interface{}{"jsonrpc": "2.0", "id": 1}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Content-Length: "))
	assert.Contains(t, out, "\r\n\r\n")

	// The written frame must parse back.
	echo := NewTransport(strings.NewReader(out), io.Discard, nil)
	body, err := echo.Recv()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"jsonrpc":"2.0"`)
}

func TestTransportSendRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(strings.NewReader(""), &buf, nil)

	huge := strings.Repeat("x", MaxFrameBytes+1)
	err := tr.Send(map[string]string{"data": huge})
	require.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing should reach the wire")
}

// syncBuffer serializes writes so the race detector can check that the
// transport, not the buffer, is what keeps frames whole.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTransportConcurrentSendsDoNotInterleave(t *testing.T) {
	out := &syncBuffer{}
	tr := NewTransport(strings.NewReader(""), out, nil)

	const senders = 16
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			require.NoError(t, tr.Send(map[string]int{"id": id}))
		}(i)
	}
	wg.Wait()

	// Every frame must parse cleanly in sequence.
	echo := NewTransport(strings.NewReader(out.String()), io.Discard, nil)
	for i := 0; i < senders; i++ {
		_, err := echo.Recv()
		require.NoError(t, err)
	}
	_, err := echo.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestTransportCloseIsIdempotentAndClosesCloser(t *testing.T) {
	closer := &closeRecorder{}
	tr := NewTransport(strings.NewReader(""), io.Discard, closer)

	require.NoError(t, tr.Close())
	assert.True(t, closer.closed)
	require.NoError(t, tr.Close())
}
