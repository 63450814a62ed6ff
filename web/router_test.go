package web

import (
	iface "GlyphNet/interface"
	"GlyphNet/monitor"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRecognizer struct {
	mu    sync.Mutex
	calls int
}

func (m *mockRecognizer) RecognizeBytes(data []byte) (*iface.Detection, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	switch string(data) {
	case "bad":
		return nil, fmt.Errorf("%w: mock", iface.ErrMalformedImage)
	case "boom":
		return nil, errors.New("mock failure")
	}
	return &iface.Detection{
		Chars:   []string{"a", "7"},
		Boxes:   []iface.Box{{X: 1, Y: 2, W: 10, H: 12}, {X: 20, Y: 2, W: 9, H: 12}},
		Weights: "loaded",
	}, nil
}

func (m *mockRecognizer) WeightState() string { return "loaded" }

func (m *mockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*iface.Detection
	failGet bool
}

func (c *memCache) Get(_ context.Context, key string) (*iface.Detection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, errors.New("cache down")
	}
	return c.entries[key], nil
}

func (c *memCache) Set(_ context.Context, key string, det *iface.Detection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = det
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func upload(t *testing.T, r http.Handler, field string, payload []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(field, "glyph.png")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/recognize", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestRouter_All(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := monitor.NewMetrics()
	rec := &mockRecognizer{}
	r := NewRouter(rec, Options{Metrics: metrics})

	t.Run("Test Ping", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	})

	t.Run("Test Status", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"data":{"weights":"loaded","classes":62}}`, w.Body.String())
	})

	t.Run("Test Recognize", func(t *testing.T) {
		w, env := upload(t, r, "file", []byte("image"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		var det iface.Detection
		require.NoError(t, json.Unmarshal(env.Data, &det))
		assert.Equal(t, []string{"a", "7"}, det.Chars)
		assert.Len(t, det.Boxes, 2)
	})

	t.Run("Test Malformed", func(t *testing.T) {
		w, env := upload(t, r, "file", []byte("bad"))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.False(t, env.Success)
	})

	t.Run("Test Internal Error", func(t *testing.T) {
		w, env := upload(t, r, "file", []byte("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.False(t, env.Success)
	})

	t.Run("Test Missing File", func(t *testing.T) {
		w, env := upload(t, r, "other", []byte("image"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, env.Success)
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("http")))
}

func TestRecognizeTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(&mockRecognizer{}, Options{MaxUploadSize: 4})
	w, env := upload(t, r, "file", []byte("image"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, env.Success)
}

func TestRecognizeCache(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("hit skips recognizer", func(t *testing.T) {
		rec := &mockRecognizer{}
		c := &memCache{entries: map[string]*iface.Detection{}}
		r := NewRouter(rec, Options{Cache: c, Digest: "abc"})
		for i := 0; i < 3; i++ {
			w, _ := upload(t, r, "file", []byte("image"))
			require.Equal(t, http.StatusOK, w.Code)
		}
		assert.Equal(t, 1, rec.Calls())
		assert.Len(t, c.entries, 1)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		c := &memCache{entries: map[string]*iface.Detection{}}
		r := NewRouter(&mockRecognizer{}, Options{Cache: c, Digest: "abc"})
		w, _ := upload(t, r, "file", []byte("bad"))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Empty(t, c.entries)
	})

	t.Run("cache failure falls through", func(t *testing.T) {
		rec := &mockRecognizer{}
		r := NewRouter(rec, Options{Cache: &memCache{entries: map[string]*iface.Detection{}, failGet: true}, Digest: "abc"})
		w, env := upload(t, r, "file", []byte("image"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		assert.Equal(t, 1, rec.Calls())
	})
}

func TestWebsocketRecognize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := monitor.NewMetrics()
	srv := httptest.NewServer(NewRouter(&mockRecognizer{}, Options{Metrics: metrics}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/recognize"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	roundTrip := func(mt int, msg string) envelope {
		require.NoError(t, conn.WriteMessage(mt, []byte(msg)))
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	env := roundTrip(websocket.TextMessage, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("image")))
	assert.True(t, env.Success)
	var det iface.Detection
	require.NoError(t, json.Unmarshal(env.Data, &det))
	assert.Equal(t, []string{"a", "7"}, det.Chars)

	env = roundTrip(websocket.TextMessage, base64.StdEncoding.EncodeToString([]byte("bad")))
	assert.False(t, env.Success)

	env = roundTrip(websocket.TextMessage, "not base64!")
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "invalid image")

	env = roundTrip(websocket.BinaryMessage, "image")
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "unsupported")

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("ws")))
}

func TestDecodeBase64Image(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeBase64Image(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeBase64Image("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeBase64Image("")
	assert.Error(t, err)
	_, err = DecodeBase64Image("%%%")
	assert.Error(t, err)
}
