// ABOUTME: Tests for the Server-Sent Events stream
// ABOUTME: Reads the live stream while deliveries arrive through the webhook

package gateway

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseFrame is one parsed event from the stream.
type sseFrame struct {
	event string
	data  string
}

// readFrames parses frames off the stream until it closes.
func readFrames(resp *http.Response) <-chan sseFrame {
	out := make(chan sseFrame, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		var cur sseFrame
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				cur.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.data = strings.TrimPrefix(line, "data: ")
			case line == "" && cur.event != "":
				out <- cur
				cur = sseFrame{}
			}
		}
	}()
	return out
}

func nextFrame(t *testing.T, frames <-chan sseFrame, name string) sseFrame {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			require.True(t, ok, "stream closed before %s", name)
			if f.event == name {
				return f
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func openStream(t *testing.T, env *testEnv, query string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/events"+query, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEvents_StreamsNewMessages(t *testing.T) {
	env := newTestEnv(t)

	resp := openStream(t, env, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	frames := readFrames(resp)

	connected := nextFrame(t, frames, "connected")
	assert.Contains(t, connected.data, `"global"`)
	assert.Contains(t, connected.data, `"user_`+itoa(env.user.ID)+`"`)

	env.doAs(t, "", http.MethodPost, "/webhook", textWebhook("15551234567", inboundID, "where is my parcel", "Ada"))

	msg := nextFrame(t, frames, "new_message")
	assert.Contains(t, msg.data, "where is my parcel")
}

func TestEvents_Heartbeat(t *testing.T) {
	prev := sseHeartbeatInterval
	sseHeartbeatInterval = 20 * time.Millisecond
	t.Cleanup(func() { sseHeartbeatInterval = prev })

	env := newTestEnv(t)
	resp := openStream(t, env, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == ": heartbeat\n" {
			return
		}
	}
	t.Fatal("no heartbeat received")
}

func TestEvents_ConversationRooms(t *testing.T) {
	env := newTestEnv(t)

	resp := openStream(t, env, "?conversationId=7&conversationId=9")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	connected := nextFrame(t, readFrames(resp), "connected")
	assert.Contains(t, connected.data, `"conversation_7"`)
	assert.Contains(t, connected.data, `"conversation_9"`)

	resp = env.do(t, http.MethodGet, "/api/events?conversationId=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
