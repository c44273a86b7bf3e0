package handlers_beacon

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"littletrack/internal/cltemplates"
	"littletrack/internal/models/climages"
	"littletrack/internal/models/clmarkdown"
	"littletrack/internal/models/clmetrics"
	"littletrack/internal/models/cltracking"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultTitle = "Photo"

func pageNotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "notfound", cltemplates.Page{Title: "Page non trouvée"})
}

// ImagePath est l'URL publique du fichier déposé
func ImagePath(asset *cltracking.TrackedAsset) string {
	return "/uploads/" + filepath.Base(asset.AssetPath)
}

func (h *BeaconHandler) page(asset *cltracking.TrackedAsset) cltemplates.Page {
	description := clmarkdown.Description(asset.Caption, 160)
	title := clmarkdown.Description(asset.Caption, 60)
	if title == "" {
		title = defaultTitle
	}
	return cltemplates.Page{
		Title:       title,
		Description: description,
		TrackingID:  asset.TrackingID,
		ImageURL:    ImagePath(asset),
		PublicURL:   h.opts.PublicURL,
		Caption:     clmarkdown.ConvertMarkdownToHTML(asset.Caption),
	}
}

// View affiche la page d'atterrissage avec le pixel caché
func (h *BeaconHandler) View(c *gin.Context) {
	asset, ok := h.store.Get(c.Param("id"))
	if !ok {
		pageNotFound(c)
		return
	}
	c.HTML(http.StatusOK, "view", h.page(asset))
}

// ClickableImage affiche l'image recouverte d'une zone qui capte les clics
func (h *BeaconHandler) ClickableImage(c *gin.Context) {
	asset, ok := h.store.Get(c.Param("id"))
	if !ok {
		pageNotFound(c)
		return
	}
	c.HTML(http.StatusOK, "clickable", h.page(asset))
}

// EmailImage sert l'image elle-même et enregistre une vue EmailEmbed.
// Un identifiant inconnu reçoit le pixel transparent.
func (h *BeaconHandler) EmailImage(c *gin.Context) {
	trackingID := c.Param("id")
	asset, ok := h.store.Get(trackingID)
	if !ok {
		clmetrics.Beacon("email-image", "unknown_id")
		pixel(c)
		return
	}

	data, err := os.ReadFile(asset.AssetPath)
	if err != nil {
		log.Error().Err(err).Str("tracking_id", trackingID).Str("path", asset.AssetPath).Msg("Failed to read asset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture image"})
		return
	}

	h.record(c, "email-image", trackingID, cltracking.SourceEmailEmbed)
	c.Data(http.StatusOK, assetMime(asset), data)
}

// DownloadableTracker envoie un document HTML autonome qui ressemble à une image
func (h *BeaconHandler) DownloadableTracker(c *gin.Context) {
	trackingID := c.Param("id")
	asset, ok := h.store.Get(trackingID)
	if !ok {
		pageNotFound(c)
		return
	}

	data, err := os.ReadFile(asset.AssetPath)
	if err != nil {
		log.Error().Err(err).Str("tracking_id", trackingID).Str("path", asset.AssetPath).Msg("Failed to read asset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture image"})
		return
	}

	name := strings.TrimSuffix(filepath.Base(asset.AssetPath), filepath.Ext(asset.AssetPath))
	mime := assetMime(asset)
	doc := h.templates.RenderDownloadable(cltemplates.Downloadable{
		Title:      name,
		ImageMime:  mime,
		ImageData:  climages.Base64(data),
		ServerURL:  h.opts.PublicURL,
		TrackingID: trackingID,
	})

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.html"`, name))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
}

func assetMime(asset *cltracking.TrackedAsset) string {
	if asset.MimeType != "" {
		return asset.MimeType
	}
	return climages.MimeFromExt(filepath.Ext(asset.AssetPath))
}
