package handlers_beacon

import (
	"context"
	"net/http"
	"strings"
	"time"

	"littletrack/internal/clmiddleware"
	"littletrack/internal/cltemplates"
	"littletrack/internal/models/climages"
	"littletrack/internal/models/clmetrics"
	"littletrack/internal/models/clnetwork"
	"littletrack/internal/models/clstats"
	"littletrack/internal/models/cltracking"
	"littletrack/internal/models/cluseragent"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Classifier classe l'adresse d'un client, sans jamais échouer
type Classifier interface {
	Classify(ctx context.Context, raw string) clnetwork.Classification
}

// Options règle les fenêtres de corrélation et l'URL publique
type Options struct {
	PublicURL     string
	ViewWindow    time.Duration
	StealthWindow time.Duration
}

type BeaconHandler struct {
	store      *cltracking.Store
	engine     *cltracking.Engine
	classifier Classifier
	stats      *clstats.Service
	templates  *cltemplates.Templates
	opts       Options
}

func NewBeaconHandler(store *cltracking.Store, engine *cltracking.Engine, classifier Classifier, stats *clstats.Service, templates *cltemplates.Templates, opts Options) *BeaconHandler {
	if opts.ViewWindow <= 0 {
		opts.ViewWindow = cltracking.ViewWindow
	}
	if opts.StealthWindow <= 0 {
		opts.StealthWindow = cltracking.StealthWindow
	}
	return &BeaconHandler{
		store:      store,
		engine:     engine,
		classifier: classifier,
		stats:      stats,
		templates:  templates,
		opts:       opts,
	}
}

// RegisterRoutes déclare les balises et les pages publiques
func (h *BeaconHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/track-view/:id", clmiddleware.NoCache, h.TrackView)
	r.GET("/update-browser/:id", clmiddleware.NoCache, h.UpdateBrowser)
	r.GET("/stealth-track/:id", clmiddleware.NoCache, h.StealthTrack)
	r.GET("/email-image/:id", clmiddleware.NoCache, h.EmailImage)
	r.POST("/enhanced-tracking/:id", h.EnhancedTracking)
	r.POST("/track-click/:id", h.TrackClick)
	r.POST("/stealth-track-data/:id", h.StealthTrackData)
	r.GET("/view/:id", h.View)
	r.GET("/clickable-image/:id", h.ClickableImage)
	r.GET("/downloadable-tracker/:id", h.DownloadableTracker)
}

// pixel répond toujours le même GIF, que l'identifiant existe ou non
func pixel(c *gin.Context) {
	c.Data(http.StatusOK, "image/gif", climages.PixelGIF)
}

// newView construit une vue à partir de la requête, géolocalisation comprise
func (h *BeaconHandler) newView(c *gin.Context, source cltracking.Source) *cltracking.ViewRecord {
	ip := clmiddleware.ClientIP(c)
	ua := c.Request.UserAgent()
	agent := cluseragent.Parse(ua)
	class := h.classifier.Classify(c.Request.Context(), ip)

	return &cltracking.ViewRecord{
		IP:        ip,
		UserAgent: ua,
		Browser:   agent.Label(),
		OS:        agent.OS,
		Language:  cluseragent.ExtractLanguage(c.GetHeader("Accept-Language")),
		Location: cltracking.Location{
			Country:     class.Country,
			Region:      class.Region,
			City:        class.City,
			Coordinates: class.Coordinates,
			Timezone:    class.Timezone,
		},
		NetworkType: class.NetworkType,
		Network: cltracking.NetworkInfo{
			Family: string(class.Family),
			Scope:  string(class.Scope),
			Org:    class.Org,
			Note:   class.Note,
		},
		Source:   source,
		Referrer: clmiddleware.Referrer(c),
		Headers:  clmiddleware.HeaderSnapshot(c.Request.Header),
	}
}

// record ajoute une nouvelle vue et met à jour les compteurs
func (h *BeaconHandler) record(c *gin.Context, endpoint, trackingID string, source cltracking.Source) bool {
	if _, ok := h.store.Get(trackingID); !ok {
		clmetrics.Beacon(endpoint, "unknown_id")
		return false
	}

	rec := h.newView(c, source)
	if err := h.engine.Record(trackingID, rec); err != nil {
		clmetrics.Beacon(endpoint, "unknown_id")
		return false
	}

	clmetrics.Beacon(endpoint, "recorded")
	h.countView(c, trackingID, rec)
	log.Info().
		Str("tracking_id", trackingID).
		Str("ip", rec.IP).
		Str("source", string(source)).
		Str("network_type", rec.NetworkType).
		Str("browser", rec.Browser).
		Msg("View recorded")
	return true
}

func (h *BeaconHandler) countView(c *gin.Context, trackingID string, rec *cltracking.ViewRecord) {
	if err := h.stats.RecordView(c.Request.Context(), trackingID, string(rec.Source), clstats.VisitorID(rec.IP, rec.UserAgent)); err != nil {
		log.Warn().Err(err).Str("tracking_id", trackingID).Msg("Failed to update stats")
	}
}

// TrackView enregistre une vue WebsiteView, ou ClickableImage avec ?s=clickable
func (h *BeaconHandler) TrackView(c *gin.Context) {
	source := cltracking.SourceWebsiteView
	if c.Query("s") == "clickable" {
		source = cltracking.SourceClickableImage
	}
	h.record(c, "track-view", c.Param("id"), source)
	pixel(c)
}

// StealthTrack enregistre l'ouverture du document téléchargé
func (h *BeaconHandler) StealthTrack(c *gin.Context) {
	h.record(c, "stealth-track", c.Param("id"), cltracking.SourceDownloadedImage)
	pixel(c)
}

// UpdateBrowser corrige le navigateur de la dernière vue de cette adresse
func (h *BeaconHandler) UpdateBrowser(c *gin.Context) {
	defer pixel(c)

	trackingID := c.Param("id")
	browser := sanitizeLabel(c.Query("browser"))
	if browser == "" {
		clmetrics.Beacon("update-browser", "invalid")
		return
	}

	merged, err := h.engine.Merge(trackingID, clmiddleware.ClientIP(c), h.opts.ViewWindow, nil, func(v *cltracking.ViewRecord) {
		v.Browser = browser
		v.BrowserOverride = browser
	})
	h.mergeOutcome("update-browser", trackingID, merged, err)
}

func (h *BeaconHandler) mergeOutcome(endpoint, trackingID string, merged bool, err error) {
	switch {
	case err != nil:
		clmetrics.Beacon(endpoint, "unknown_id")
	case merged:
		clmetrics.Beacon(endpoint, "merged")
		log.Debug().Str("tracking_id", trackingID).Str("endpoint", endpoint).Msg("Beacon merged")
	default:
		clmetrics.Beacon(endpoint, "ignored")
	}
}

// sanitizeLabel garde un libellé court et imprimable
func sanitizeLabel(s string) string {
	const maxLen = 64
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
		if len(out) == maxLen {
			break
		}
	}
	return strings.TrimSpace(string(out))
}
