package handlers_api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"littletrack/internal/clmiddleware"
	"littletrack/internal/models/climages"
	"littletrack/internal/models/clmetrics"
	"littletrack/internal/models/clstats"
	"littletrack/internal/models/cltracking"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	maxCaptionLength = 2000
	statsDays        = 7
)

type Options struct {
	PublicURL     string
	UploadPath    string
	MaxUploadSize int64
}

type APIHandler struct {
	store *cltracking.Store
	stats *clstats.Service
	opts  Options
}

func NewAPIHandler(store *cltracking.Store, stats *clstats.Service, opts Options) *APIHandler {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 * 1024 * 1024
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &APIHandler{
		store: store,
		stats: stats,
		opts:  opts,
	}
}

// RegisterRoutes déclare l'API et la sonde de santé
func (h *APIHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.POST("/upload", h.Upload)
		api.GET("/uploads", h.Uploads)
		api.GET("/tracking/:id", h.Tracking)
		api.GET("/tracking/:id/stats", h.Stats)
	}
}

// Upload enregistre une image et retourne les URL de suivi
func (h *APIHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		clmetrics.UploadsTotal.WithLabelValues("missing").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Fichier non trouvé"})
		return
	}
	defer file.Close()

	caption := strings.TrimSpace(c.PostForm("caption"))
	if utf8.RuneCountInString(caption) > maxCaptionLength {
		clmetrics.UploadsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Légende trop longue"})
		return
	}

	processed, err := climages.Process(file, header.Size, h.opts.MaxUploadSize)
	if err != nil {
		if errors.Is(err, climages.ErrNotImage) || errors.Is(err, climages.ErrTooLarge) || errors.Is(err, climages.ErrUnsupportedFormat) {
			clmetrics.UploadsTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		clmetrics.UploadsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("filename", header.Filename).Msg("Failed to process upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur traitement image"})
		return
	}

	if err := os.MkdirAll(h.opts.UploadPath, 0755); err != nil {
		clmetrics.UploadsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("path", h.opts.UploadPath).Msg("Failed to create upload directory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur création dossier"})
		return
	}

	assetPath := filepath.Join(h.opts.UploadPath, uuid.NewString()+processed.Ext)
	if err := os.WriteFile(assetPath, processed.Data, 0644); err != nil {
		clmetrics.UploadsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("path", assetPath).Msg("Failed to write upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur sauvegarde image"})
		return
	}

	trackingID := uuid.NewString()
	if _, err := h.store.Register(trackingID, assetPath, cltracking.AssetOptions{
		MimeType: processed.MimeType,
		Caption:  caption,
	}); err != nil {
		os.Remove(assetPath)
		clmetrics.UploadsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("tracking_id", trackingID).Msg("Failed to register asset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur enregistrement"})
		return
	}
	clmetrics.UploadsTotal.WithLabelValues("success").Inc()
	clmetrics.TrackedAssets.Set(float64(h.store.Len()))

	if err := clmiddleware.AddUpload(c, trackingID); err != nil {
		log.Warn().Err(err).Str("tracking_id", trackingID).Msg("Failed to save session")
	}

	log.Info().
		Str("tracking_id", trackingID).
		Str("format", processed.Format).
		Int("size", len(processed.Data)).
		Msg("Image uploaded")

	base := h.opts.PublicURL
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"trackingId":    trackingID,
		"trackingUrl":   base + "/view/" + trackingID,
		"imageUrl":      base + "/uploads/" + filepath.Base(assetPath),
		"pixelUrl":      base + "/track-view/" + trackingID,
		"emailImageUrl": base + "/email-image/" + trackingID,
		"clickableUrl":  base + "/clickable-image/" + trackingID,
		"downloadUrl":   base + "/downloadable-tracker/" + trackingID,
	})
}

// Tracking retourne les vues enregistrées pour un identifiant
func (h *APIHandler) Tracking(c *gin.Context) {
	snapshot, err := h.store.Snapshot(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identifiant de suivi introuvable"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Stats retourne les compteurs Redis du jour et des derniers jours
func (h *APIHandler) Stats(c *gin.Context) {
	trackingID := c.Param("id")
	if _, ok := h.store.Get(trackingID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identifiant de suivi introuvable"})
		return
	}

	if !h.stats.Enabled() {
		c.JSON(http.StatusOK, gin.H{
			"enabled":    false,
			"trackingId": trackingID,
			"totalViews": h.store.ViewCount(trackingID),
		})
		return
	}

	realtime, err := h.stats.GetRealtimeStats(c.Request.Context(), trackingID)
	if err != nil {
		log.Error().Err(err).Str("tracking_id", trackingID).Msg("Failed to retrieve realtime stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve realtime stats"})
		return
	}
	daily, err := h.stats.GetDailyStats(c.Request.Context(), trackingID, statsDays)
	if err != nil {
		log.Error().Err(err).Str("tracking_id", trackingID).Msg("Failed to retrieve daily stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve daily stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":    true,
		"trackingId": trackingID,
		"totalViews": h.store.ViewCount(trackingID),
		"today":      realtime,
		"daily":      daily,
	})
}

type uploadSummary struct {
	TrackingID string    `json:"trackingId"`
	Views      int       `json:"views"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Uploads liste les images déposées depuis cette session
func (h *APIHandler) Uploads(c *gin.Context) {
	uploads := []uploadSummary{}
	for _, id := range clmiddleware.Uploads(c) {
		asset, ok := h.store.Get(id)
		if !ok {
			continue
		}
		uploads = append(uploads, uploadSummary{
			TrackingID: id,
			Views:      h.store.ViewCount(id),
			CreatedAt:  asset.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"uploads": uploads})
}

// Health sonde de disponibilité
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
