package clmiddleware

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	uploadsKey = "uploads"
	// un cookie est limité à 4 Ko
	maxSessionUploads = 40
)

// Les en-têtes qui portent un secret ne sont jamais conservés en clair
var redactedHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"Set-Cookie":          true,
	"X-Api-Key":           true,
}

// ClientIP retourne l'adresse du client.
// Les en-têtes X-Forwarded-For et X-Real-IP ne sont lus que derrière un proxy
// de confiance (trustedproxies / trustedplatform).
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// HeaderSnapshot copie les en-têtes de la requête en masquant les secrets
func HeaderSnapshot(h http.Header) map[string]string {
	snapshot := make(map[string]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if redactedHeaders[canonical] {
			snapshot[canonical] = "[redacted]"
			continue
		}
		snapshot[canonical] = strings.Join(values, ", ")
	}
	return snapshot
}

// Referrer retourne le Referer de la requête ou "Direct"
func Referrer(c *gin.Context) string {
	if ref := c.Request.Referer(); ref != "" {
		return ref
	}
	return "Direct"
}

// AddUpload retient un identifiant dans la session de la personne qui dépose
func AddUpload(c *gin.Context, trackingID string) error {
	session := sessions.Default(c)
	ids := Uploads(c)
	ids = append(ids, trackingID)
	if len(ids) > maxSessionUploads {
		ids = ids[len(ids)-maxSessionUploads:]
	}
	session.Set(uploadsKey, strings.Join(ids, ","))
	return session.Save()
}

// Uploads retourne les identifiants déposés depuis cette session
func Uploads(c *gin.Context) []string {
	session := sessions.Default(c)
	raw, _ := session.Get(uploadsKey).(string)
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, ",")
}
