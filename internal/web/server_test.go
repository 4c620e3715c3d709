package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-compressor-go/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.DefaultConfig()
	cfg.Performance.WorkerThreads = 2
	return NewServer(cfg, log)
}

func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHandleStatus_Idle(t *testing.T) {
	s := newTestServer(t)

	rec, resp := doJSON(t, s, "GET", "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["running"])
}

func TestHandleCompress_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"no paths", CompressRequest{OutputDir: t.TempDir()}},
		{"no output dir", CompressRequest{Paths: []string{"/tmp/x.jpg"}}},
		{"no supported files", CompressRequest{Paths: []string{t.TempDir()}, OutputDir: t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := doJSON(t, s, "POST", "/api/compress", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleCompress_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/compress", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCompress_RunsBatch(t *testing.T) {
	s := newTestServer(t)
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeTestImage(t, srcDir, "a.jpg")
	writeTestImage(t, srcDir, "b.jpg")

	rec, resp := doJSON(t, s, "POST", "/api/compress", CompressRequest{
		Paths:     []string{srcDir},
		OutputDir: outDir,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "2 files")

	waitForIdle(t, s)

	_, status := doJSON(t, s, "GET", "/api/status", nil)
	data, ok := status.Data.(map[string]interface{})
	require.True(t, ok)
	summary, ok := data["summary"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), summary["done"])

	_, records := doJSON(t, s, "GET", "/api/records", nil)
	list, ok := records.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestHandleCompress_RejectsConcurrentBatch(t *testing.T) {
	s := newTestServer(t)

	s.batchMutex.Lock()
	s.isRunning = true
	s.batchMutex.Unlock()
	defer func() {
		s.batchMutex.Lock()
		s.isRunning = false
		s.batchMutex.Unlock()
	}()

	srcDir := t.TempDir()
	writeTestImage(t, srcDir, "a.jpg")

	rec, resp := doJSON(t, s, "POST", "/api/compress", CompressRequest{
		Paths:     []string{srcDir},
		OutputDir: t.TempDir(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)
}

func TestHandleIndex_InlineFallback(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "ImageCompressor")
}

func TestHandleCancel_NoBatch(t *testing.T) {
	s := newTestServer(t)

	rec, resp := doJSON(t, s, "POST", "/api/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func waitForIdle(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		s.batchMutex.RLock()
		running := s.isRunning
		s.batchMutex.RUnlock()
		if !running {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch did not finish within deadline")
}
