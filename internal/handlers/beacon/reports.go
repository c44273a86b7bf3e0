package handlers_beacon

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"littletrack/internal/clmiddleware"
	"littletrack/internal/models/clmetrics"
	"littletrack/internal/models/cltracking"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const maxReportBody = 64 * 1024

var errEmptyBody = errors.New("corps de requête vide")

// clickReport est le corps envoyé par la page cliquable
type clickReport struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	ScreenWidth  int     `json:"screenWidth"`
	ScreenHeight int     `json:"screenHeight"`
	Timestamp    string  `json:"timestamp"`
}

func decodeReport(c *gin.Context, v any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxReportBody+1))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errEmptyBody
	}
	if len(body) > maxReportBody {
		return fmt.Errorf("corps de requête trop grand (max %d octets)", maxReportBody)
	}
	return json.Unmarshal(body, v)
}

// knownAsset répond 404 JSON si l'identifiant est inconnu
func (h *BeaconHandler) knownAsset(c *gin.Context, endpoint string) (string, bool) {
	trackingID := c.Param("id")
	if _, ok := h.store.Get(trackingID); !ok {
		clmetrics.Beacon(endpoint, "unknown_id")
		c.JSON(http.StatusNotFound, gin.H{"error": "Identifiant de suivi introuvable"})
		return "", false
	}
	return trackingID, true
}

func invalidReport(c *gin.Context, endpoint string, err error) {
	clmetrics.Beacon(endpoint, "invalid")
	log.Debug().Err(err).Str("endpoint", endpoint).Msg("Invalid beacon body")
	c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
}

// mergeFingerprint ajoute les données du navigateur à la vue
func mergeFingerprint(v *cltracking.ViewRecord, data map[string]any) {
	if v.EnhancedData == nil {
		v.EnhancedData = make(map[string]any, len(data))
	}
	for k, val := range data {
		v.EnhancedData[k] = val
	}
	if screen, ok := data["screen"].(string); ok && screen != "" {
		v.ScreenResolution = sanitizeLabel(screen)
	}
}

// EnhancedTracking fusionne l'empreinte envoyée par la page d'atterrissage
func (h *BeaconHandler) EnhancedTracking(c *gin.Context) {
	trackingID, ok := h.knownAsset(c, "enhanced-tracking")
	if !ok {
		return
	}

	var data map[string]any
	if err := decodeReport(c, &data); err != nil {
		invalidReport(c, "enhanced-tracking", err)
		return
	}

	merged, err := h.engine.Merge(trackingID, clmiddleware.ClientIP(c), h.opts.ViewWindow, nil, func(v *cltracking.ViewRecord) {
		mergeFingerprint(v, data)
	})
	h.mergeOutcome("enhanced-tracking", trackingID, merged, err)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// StealthTrackData fusionne les données du document téléchargé,
// uniquement dans une vue DownloadedImage de moins d'une minute
func (h *BeaconHandler) StealthTrackData(c *gin.Context) {
	trackingID, ok := h.knownAsset(c, "stealth-track-data")
	if !ok {
		return
	}

	var data map[string]any
	if err := decodeReport(c, &data); err != nil {
		invalidReport(c, "stealth-track-data", err)
		return
	}

	source := cltracking.SourceDownloadedImage
	merged, err := h.engine.Merge(trackingID, clmiddleware.ClientIP(c), h.opts.StealthWindow, &source, func(v *cltracking.ViewRecord) {
		mergeFingerprint(v, data)
	})
	h.mergeOutcome("stealth-track-data", trackingID, merged, err)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// TrackClick ajoute un clic à la dernière vue de cette adresse.
// Sans vue récente, un clic crée sa propre vue.
func (h *BeaconHandler) TrackClick(c *gin.Context) {
	trackingID, ok := h.knownAsset(c, "track-click")
	if !ok {
		return
	}

	var report clickReport
	if err := decodeReport(c, &report); err != nil {
		invalidReport(c, "track-click", err)
		return
	}

	click := cltracking.ClickEvent{
		Timestamp: h.engine.Now(),
		X:         report.X,
		Y:         report.Y,
		Viewport:  fmt.Sprintf("%dx%d", report.ScreenWidth, report.ScreenHeight),
	}

	var created *cltracking.ViewRecord
	isNew, err := h.engine.MergeOrCreate(trackingID, clmiddleware.ClientIP(c), h.opts.ViewWindow, nil,
		func(v *cltracking.ViewRecord) {
			v.Clicks = append(v.Clicks, click)
			v.ClickCount++
		},
		func() *cltracking.ViewRecord {
			created = h.newView(c, cltracking.SourceClickableImage)
			return created
		},
	)
	if err != nil {
		clmetrics.Beacon("track-click", "unknown_id")
		c.JSON(http.StatusNotFound, gin.H{"error": "Identifiant de suivi introuvable"})
		return
	}

	if isNew {
		clmetrics.Beacon("track-click", "created")
		h.countView(c, trackingID, created)
		log.Info().Str("tracking_id", trackingID).Str("ip", created.IP).Msg("Click without prior view, view created")
	} else {
		clmetrics.Beacon("track-click", "merged")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
