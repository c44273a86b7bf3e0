package handlers_api

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"littletrack/internal/clmiddleware"
	"littletrack/internal/models/clstats"
	"littletrack/internal/models/cltracking"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploadResponse struct {
	Success       bool   `json:"success"`
	TrackingID    string `json:"trackingId"`
	TrackingURL   string `json:"trackingUrl"`
	ImageURL      string `json:"imageUrl"`
	PixelURL      string `json:"pixelUrl"`
	EmailImageURL string `json:"emailImageUrl"`
	ClickableURL  string `json:"clickableUrl"`
	DownloadURL   string `json:"downloadUrl"`
}

func newTestRouter(t *testing.T, stats *clstats.Service) (*gin.Engine, *cltracking.Store, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	uploadPath := filepath.Join(t.TempDir(), "uploads")
	store := cltracking.NewStore()
	h := NewAPIHandler(store, stats, Options{
		PublicURL:     "https://track.example.com/",
		UploadPath:    uploadPath,
		MaxUploadSize: 1 << 20,
	})

	r := gin.New()
	r.Use(clmiddleware.NewSession(false))
	h.RegisterRoutes(r)
	return r, store, uploadPath
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field string, data []byte, caption string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	if caption != "" {
		require.NoError(t, mw.WriteField("caption", caption))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadThenTracking(t *testing.T) {
	r, store, uploadPath := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "image", pngBytes(t), "Vacances à **Lyon**"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.TrackingID)
	assert.Equal(t, "https://track.example.com/track-view/"+resp.TrackingID, resp.PixelURL)
	assert.Equal(t, "https://track.example.com/view/"+resp.TrackingID, resp.TrackingURL)
	assert.Equal(t, "https://track.example.com/downloadable-tracker/"+resp.TrackingID, resp.DownloadURL)
	assert.True(t, strings.HasSuffix(resp.ImageURL, ".png"))

	asset, ok := store.Get(resp.TrackingID)
	require.True(t, ok)
	assert.Equal(t, "image/png", asset.MimeType)
	assert.Equal(t, "Vacances à **Lyon**", asset.Caption)
	assert.Equal(t, uploadPath, filepath.Dir(asset.AssetPath))
	_, err := os.Stat(asset.AssetPath)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tracking/"+resp.TrackingID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		TrackingID string            `json:"trackingId"`
		Views      []json.RawMessage `json:"views"`
		CreatedAt  string            `json:"createdAt"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, resp.TrackingID, snapshot.TrackingID)
	assert.NotNil(t, snapshot.Views)
	assert.Empty(t, snapshot.Views)
	assert.Contains(t, w.Body.String(), `"views":[]`)
}

func TestUploadErrors(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "other", pngBytes(t), ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "image", []byte("ceci n'est pas une image"), ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "image", bytes.Repeat([]byte{0x89}, 2<<20), ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "image", pngBytes(t), strings.Repeat("a", maxCaptionLength+1)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, store.Len())
}

func TestTrackingNotFound(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tracking/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Identifiant de suivi introuvable"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tracking/nope/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsDisabled(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	_, err := store.Register("abc123", "/tmp/x.png", cltracking.AssetOptions{})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tracking/abc123/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":false,"trackingId":"abc123","totalViews":0}`, w.Body.String())
}

func TestStatsEnabled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	stats := clstats.NewService(client)

	r, store, _ := newTestRouter(t, stats)
	_, err := store.Register("abc123", "/tmp/x.png", cltracking.AssetOptions{})
	require.NoError(t, err)
	require.NoError(t, stats.RecordView(context.Background(), "abc123", "EmailEmbed", "v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tracking/abc123/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Enabled bool                  `json:"enabled"`
		Today   clstats.RealtimeStats `json:"today"`
		Daily   []clstats.DailyStat   `json:"daily"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Enabled)
	assert.EqualValues(t, 1, resp.Today.Views)
	assert.EqualValues(t, 1, resp.Today.BySource["EmailEmbed"])
	assert.Len(t, resp.Daily, statsDays)
}

func TestUploadsFromSession(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "image", pngBytes(t), ""))
	require.Equal(t, http.StatusOK, w.Code)
	cookie := strings.Split(w.Header().Get("Set-Cookie"), ";")[0]
	require.NotEmpty(t, cookie)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	req.Header.Set("Cookie", cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), resp.TrackingID)

	// sans cookie, aucune image
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	assert.JSONEq(t, `{"uploads":[]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["timestamp"])
}
