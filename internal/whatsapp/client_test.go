// ABOUTME: Tests for the WhatsApp Cloud API client against an httptest server
// ABOUTME: Covers text sends, upload-then-send media, the download cap, read receipts and error mapping

package whatsapp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method      string
	Path        string
	Auth        string
	ContentType string
	Body        []byte
	Form        map[string]string
	FileBytes   []byte
}

type fakeGraph struct {
	mu       sync.Mutex
	requests []recordedRequest
	fail     int
}

func (f *fakeGraph) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /files/cat.jpg", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "token must not leak to media host")
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("JPEGDATA"))
	})

	mux.HandleFunc("POST /{phone}/messages", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.record(recordedRequest{
			Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"), Body: body,
		})
		if f.fail != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.fail)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.HBgLMTU1NTEyMzQ1NjcVAgARGBI"}]}`))
	})

	mux.HandleFunc("POST /{phone}/media", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(file)
		f.record(recordedRequest{
			Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"),
			Form: map[string]string{
				"messaging_product": r.FormValue("messaging_product"),
				"type":              r.FormValue("type"),
			},
			FileBytes: data,
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"media-42"}`))
	})

	return mux
}

func (f *fakeGraph) record(r recordedRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
}

func setupClient(t *testing.T) (*Client, *fakeGraph, *httptest.Server) {
	t.Helper()
	fake := &fakeGraph{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		APIURL:        srv.URL,
		APIToken:      "test-token",
		PhoneNumberID: "1234",
	}, nil)
	return c, fake, srv
}

func TestClient_SendText(t *testing.T) {
	c, fake, _ := setupClient(t)

	id, err := c.SendText(t.Context(), "15551234567", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "wamid.HBgLMTU1NTEyMzQ1NjcVAgARGBI", id)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, "/1234/messages", req.Path)
	assert.Equal(t, "Bearer test-token", req.Auth)
	assert.Contains(t, req.ContentType, "application/json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "whatsapp", body["messaging_product"])
	assert.Equal(t, "15551234567", body["to"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, "hello there", body["text"].(map[string]any)["body"])
}

func TestClient_SendMedia_UploadsFirst(t *testing.T) {
	c, fake, srv := setupClient(t)

	id, err := c.SendMedia(t.Context(), "15551234567", "image", srv.URL+"/files/cat.jpg", "a cat")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "wamid."))

	require.Len(t, fake.requests, 2)
	upload := fake.requests[0]
	assert.Equal(t, "/1234/media", upload.Path)
	assert.Equal(t, "whatsapp", upload.Form["messaging_product"])
	assert.Equal(t, "image/jpeg", upload.Form["type"])
	assert.Equal(t, []byte("JPEGDATA"), upload.FileBytes)

	var body map[string]any
	require.NoError(t, json.Unmarshal(fake.requests[1].Body, &body))
	assert.Equal(t, "image", body["type"])
	image := body["image"].(map[string]any)
	assert.Equal(t, "media-42", image["id"])
	assert.Equal(t, "a cat", image["caption"])
}

func TestClient_SendMedia_AudioDropsCaption(t *testing.T) {
	c, fake, srv := setupClient(t)

	_, err := c.SendMedia(t.Context(), "1555", "audio", srv.URL+"/files/cat.jpg", "ignored")
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(fake.requests[1].Body, &body))
	_, hasCaption := body["audio"].(map[string]any)["caption"]
	assert.False(t, hasCaption)
}

func TestClient_SendMedia_DownloadFailure(t *testing.T) {
	c, fake, srv := setupClient(t)

	_, err := c.SendMedia(t.Context(), "1555", "image", srv.URL+"/files/missing.jpg", "")
	require.Error(t, err)
	assert.Empty(t, fake.requests, "nothing reaches the provider")
}

func TestClient_SendMedia_RejectsOversizedDownload(t *testing.T) {
	c, fake, _ := setupClient(t)
	c.maxMediaBytes = 1024

	chunk := bytes.Repeat([]byte("x"), 512)
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		if r.URL.Query().Get("declared") != "" {
			w.Header().Set("Content-Length", "4096")
		}
		// Streamed without a length unless declared
		for range 8 {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	t.Cleanup(media.Close)

	_, err := c.SendMedia(t.Context(), "1555", "video", media.URL+"/big.mp4", "")
	assert.ErrorIs(t, err, ErrMediaTooLarge)

	_, err = c.SendMedia(t.Context(), "1555", "video", media.URL+"/big.mp4?declared=1", "")
	assert.ErrorIs(t, err, ErrMediaTooLarge)

	assert.Empty(t, fake.requests, "nothing reaches the provider")
}

func TestClient_SendMedia_AtCapSucceeds(t *testing.T) {
	c, fake, srv := setupClient(t)
	c.maxMediaBytes = int64(len("JPEGDATA"))

	_, err := c.SendMedia(t.Context(), "1555", "image", srv.URL+"/files/cat.jpg", "")
	require.NoError(t, err)
	require.Len(t, fake.requests, 2)
	assert.Equal(t, []byte("JPEGDATA"), fake.requests[0].FileBytes)
}

func TestClient_MarkRead(t *testing.T) {
	c, fake, _ := setupClient(t)

	require.NoError(t, c.MarkRead(t.Context(), "wamid.HBgLMTU1NTEyMzQ1NjcVAgARGBI"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(fake.requests[0].Body, &body))
	assert.Equal(t, "read", body["status"])
	assert.Equal(t, "wamid.HBgLMTU1NTEyMzQ1NjcVAgARGBI", body["message_id"])
}

func TestClient_ErrorResponse(t *testing.T) {
	c, fake, _ := setupClient(t)
	fake.fail = http.StatusBadRequest

	_, err := c.SendText(t.Context(), "1555", "hi")
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.Equal(t, "Invalid parameter", pe.Message)
	assert.True(t, IsProviderError(err))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("image"))
	assert.Equal(t, "video/mp4", ContentType("video"))
	assert.Equal(t, "audio/ogg", ContentType("audio"))
	assert.Equal(t, "application/pdf", ContentType("document"))
	assert.Equal(t, "application/octet-stream", ContentType("sticker"))
}

func TestIsValidMessageID(t *testing.T) {
	assert.True(t, IsValidMessageID("wamid.HBgLMTU1NTEyMzQ1NjcVAgARGBI"))
	assert.False(t, IsValidMessageID("test-123"))
	assert.False(t, IsValidMessageID("wamid.short"))
	assert.False(t, IsValidMessageID(""))
}
