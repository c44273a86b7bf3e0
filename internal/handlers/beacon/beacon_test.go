package handlers_beacon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"littletrack/internal/cltemplates"
	"littletrack/internal/models/climages"
	"littletrack/internal/models/clnetwork"
	"littletrack/internal/models/clstats"
	"littletrack/internal/models/cltracking"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const visitor = "203.0.113.7"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type testEnv struct {
	router *gin.Engine
	store  *cltracking.Store
	clock  *fakeClock
	stats  *clstats.Service
	asset  []byte
}

func newTestEnv(t *testing.T, withStats bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	store := cltracking.NewStore()
	store.SetClock(clock.Now)
	engine := cltracking.NewEngine(store)

	assetPath := filepath.Join(t.TempDir(), "photo.gif")
	require.NoError(t, os.WriteFile(assetPath, climages.PixelGIF, 0644))
	_, err := store.Register("abc123", assetPath, cltracking.AssetOptions{MimeType: "image/gif", Caption: "**Lyon**"})
	require.NoError(t, err)

	var stats *clstats.Service
	if withStats {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		stats = clstats.NewService(client)
	}

	templates, err := cltemplates.Load(false)
	require.NoError(t, err)

	h := NewBeaconHandler(store, engine, clnetwork.NewClassifier(nil, nil, 0), stats, templates, Options{
		PublicURL: "https://track.example.com",
	})

	r := gin.New()
	r.SetHTMLTemplate(templates.HTML)
	h.RegisterRoutes(r)

	return &testEnv{router: r, store: store, clock: clock, stats: stats, asset: climages.PixelGIF}
}

func (e *testEnv) do(method, path, body, ip string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = ip + ":40000"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.129 Safari/537.36")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9")
	req.Header.Set("Cookie", "secret=1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) views(t *testing.T) []cltracking.ViewRecord {
	t.Helper()
	snap, err := e.store.Snapshot("abc123")
	require.NoError(t, err)
	return snap.Views
}

func TestPixelDoesNotDiscloseUnknownIDs(t *testing.T) {
	env := newTestEnv(t, false)

	for _, path := range []string{"/track-view/", "/stealth-track/", "/update-browser/"} {
		known := env.do(http.MethodGet, path+"abc123?browser=Brave", "", visitor)
		unknown := env.do(http.MethodGet, path+"nope?browser=Brave", "", visitor)

		assert.Equal(t, http.StatusOK, known.Code, path)
		assert.Equal(t, known.Code, unknown.Code, path)
		assert.Equal(t, known.Body.Bytes(), unknown.Body.Bytes(), path)
		assert.Equal(t, climages.PixelGIF, unknown.Body.Bytes(), path)
		assert.Equal(t, known.Header().Get("Content-Type"), unknown.Header().Get("Content-Type"), path)
		assert.Equal(t, known.Header().Get("Cache-Control"), unknown.Header().Get("Cache-Control"), path)
	}
}

func TestTrackViewThenClick(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/track-view/abc123", "", visitor)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))

	views := env.views(t)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, visitor, v.IP)
	assert.Equal(t, cltracking.SourceWebsiteView, v.Source)
	assert.Equal(t, "Chrome 120.0", v.Browser)
	assert.Equal(t, "Windows 10/11", v.OS)
	assert.Equal(t, "fr", v.Language)
	assert.Equal(t, "Direct", v.Referrer)
	assert.Equal(t, "IPv4 Network", v.NetworkType)
	assert.Equal(t, "Unknown", v.Location.Country)
	assert.Equal(t, "[redacted]", v.Headers["Cookie"])
	assert.Zero(t, v.ClickCount)

	env.clock.Advance(2 * time.Minute)
	w = env.do(http.MethodPost, "/track-click/abc123", `{"x":10,"y":20,"screenWidth":1280,"screenHeight":720,"timestamp":"2026-03-14T10:02:00Z"}`, visitor)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	views = env.views(t)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].ClickCount)
	require.Len(t, views[0].Clicks, 1)
	assert.Equal(t, "1280x720", views[0].Clicks[0].Viewport)
	assert.Equal(t, 10.0, views[0].Clicks[0].X)
}

func TestClickWithoutViewCreatesRecord(t *testing.T) {
	env := newTestEnv(t, false)
	body := `{"x":1,"y":2,"screenWidth":800,"screenHeight":600}`

	env.do(http.MethodPost, "/track-click/abc123", body, visitor)
	views := env.views(t)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].ClickCount)
	assert.Equal(t, cltracking.SourceClickableImage, views[0].Source)

	env.clock.Advance(time.Minute)
	env.do(http.MethodPost, "/track-click/abc123", body, visitor)
	views = env.views(t)
	require.Len(t, views, 1)
	assert.Equal(t, 2, views[0].ClickCount)

	env.clock.Advance(6 * time.Minute)
	env.do(http.MethodPost, "/track-click/abc123", body, visitor)
	views = env.views(t)
	require.Len(t, views, 2)
	assert.Equal(t, 1, views[1].ClickCount)
}

func TestClickFromOtherAddressDoesNotMerge(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(http.MethodGet, "/track-view/abc123", "", visitor)
	env.do(http.MethodPost, "/track-click/abc123", `{"x":1,"y":2}`, "198.51.100.1")

	views := env.views(t)
	require.Len(t, views, 2)
	assert.Zero(t, views[0].ClickCount)
	assert.Equal(t, 1, views[1].ClickCount)
}

func TestPrivateAddressClassification(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(http.MethodGet, "/track-view/abc123?s=clickable", "", "192.168.1.10")
	views := env.views(t)
	require.Len(t, views, 1)
	assert.Equal(t, "Private Network", views[0].NetworkType)
	assert.Equal(t, "Local Network", views[0].Location.City)
	assert.Equal(t, cltracking.SourceClickableImage, views[0].Source)
}

func TestEnhancedTracking(t *testing.T) {
	env := newTestEnv(t, false)

	// rien à fusionner : succès sans création
	w := env.do(http.MethodPost, "/enhanced-tracking/abc123", `{"screen":"1920x1080"}`, visitor)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.views(t))

	env.do(http.MethodGet, "/track-view/abc123", "", visitor)
	w = env.do(http.MethodPost, "/enhanced-tracking/abc123", `{"screen":"1920x1080","timezone":"Europe/Paris"}`, visitor)
	assert.Equal(t, http.StatusOK, w.Code)

	views := env.views(t)
	require.Len(t, views, 1)
	assert.Equal(t, "1920x1080", views[0].ScreenResolution)
	assert.Equal(t, "Europe/Paris", views[0].EnhancedData["timezone"])

	w = env.do(http.MethodPost, "/enhanced-tracking/nope", `{"screen":"1x1"}`, visitor)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")

	w = env.do(http.MethodPost, "/enhanced-tracking/abc123", `[1,2`, visitor)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/enhanced-tracking/abc123", "", visitor)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnhancedTrackingWindowExpired(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(http.MethodGet, "/track-view/abc123", "", visitor)
	env.clock.Advance(5 * time.Minute)
	env.do(http.MethodPost, "/enhanced-tracking/abc123", `{"screen":"1920x1080"}`, visitor)

	views := env.views(t)
	require.Len(t, views, 1)
	assert.Empty(t, views[0].ScreenResolution)
}

func TestUpdateBrowser(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(http.MethodGet, "/track-view/abc123", "", visitor)
	w := env.do(http.MethodGet, "/update-browser/abc123?browser=Brave", "", visitor)
	assert.Equal(t, climages.PixelGIF, w.Body.Bytes())

	views := env.views(t)
	require.Len(t, views, 1)
	assert.Equal(t, "Brave", views[0].Browser)
	assert.Equal(t, "Brave", views[0].BrowserOverride)
}

func TestStealthTracking(t *testing.T) {
	env := newTestEnv(t, false)

	// une vue WebsiteView n'est jamais la cible des données du document téléchargé
	env.do(http.MethodGet, "/track-view/abc123", "", visitor)
	env.do(http.MethodPost, "/stealth-track-data/abc123", `{"screen":"1x1"}`, visitor)
	assert.Empty(t, env.views(t)[0].ScreenResolution)

	w := env.do(http.MethodGet, "/stealth-track/abc123", "", visitor)
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-cache")

	env.clock.Advance(30 * time.Second)
	w = env.do(http.MethodPost, "/stealth-track-data/abc123", `{"screen":"2560x1440","openedFrom":"file:"}`, visitor)
	assert.Equal(t, http.StatusOK, w.Code)

	views := env.views(t)
	require.Len(t, views, 2)
	assert.Equal(t, cltracking.SourceDownloadedImage, views[1].Source)
	assert.Equal(t, "2560x1440", views[1].ScreenResolution)
	assert.Equal(t, "file:", views[1].EnhancedData["openedFrom"])

	env.clock.Advance(time.Minute)
	env.do(http.MethodPost, "/stealth-track-data/abc123", `{"screen":"800x600"}`, visitor)
	assert.Equal(t, "2560x1440", env.views(t)[1].ScreenResolution)
}

func TestEmailImage(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/email-image/abc123", "", visitor)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, env.asset, w.Body.Bytes())

	views := env.views(t)
	require.Len(t, views, 1)
	assert.Equal(t, cltracking.SourceEmailEmbed, views[0].Source)

	w = env.do(http.MethodGet, "/email-image/nope", "", visitor)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, climages.PixelGIF, w.Body.Bytes())
}

func TestPages(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/view/abc123", "", visitor)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/track-view/abc123")
	assert.Contains(t, w.Body.String(), "<strong>Lyon</strong>")
	assert.Empty(t, env.views(t), "la page seule n'enregistre rien, le pixel le fait")

	w = env.do(http.MethodGet, "/clickable-image/abc123", "", visitor)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "track-click")

	for _, path := range []string{"/view/nope", "/clickable-image/nope", "/downloadable-tracker/nope"} {
		w = env.do(http.MethodGet, path, "", visitor)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestDownloadableTracker(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/downloadable-tracker/abc123", "", visitor)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="photo.html"`, w.Header().Get("Content-Disposition"))
	body := w.Body.String()
	assert.Contains(t, body, "data:image/gif;base64,"+climages.Base64(env.asset))
	assert.Contains(t, body, "https://track.example.com")
	assert.Contains(t, body, "abc123")
	assert.NotContains(t, body, "__TRACKING_ID__")
}

func TestStatsCounted(t *testing.T) {
	env := newTestEnv(t, true)

	env.do(http.MethodGet, "/track-view/abc123", "", visitor)
	env.do(http.MethodGet, "/email-image/abc123", "", visitor)
	env.do(http.MethodPost, "/track-click/abc123", `{"x":1,"y":1}`, "198.51.100.1")

	stats, err := env.stats.GetRealtimeStats(context.Background(), "abc123")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Views)
	assert.EqualValues(t, 2, stats.UniqueVisitors)
	assert.EqualValues(t, 1, stats.BySource["ClickableImage"])
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "Brave", sanitizeLabel("  Brave\n"))
	assert.Len(t, []rune(sanitizeLabel(strings.Repeat("é", 100))), 64)
}
