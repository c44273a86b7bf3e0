package clmiddleware

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const sessionName = "littletrack"

func InitMiddleware(r *gin.Engine, production bool) {
	// logger
	r.Use(Logger())
	r.Use(Recovery())

	// use Compression, with gzip. Les images sont déjà compressées.
	r.Use(gzip.Gzip(gzip.BestSpeed, gzip.WithExcludedExtensions([]string{".gif", ".png", ".jpg", ".jpeg", ".webp"})))

	// Session de la personne qui dépose les images
	r.Use(NewSession(production))

	// CORS
	r.Use(CORS)
}

func CORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}

	c.Next()
}

// NoCache empêche la mise en cache des balises, chaque chargement doit atteindre le serveur
func NoCache(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, private, max-age=0")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

func NewSession(production bool) gin.HandlerFunc {
	store := cookie.NewStore(generateSecretKey())
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   production,
	})
	return sessions.Sessions(sessionName, store)
}

// Logger trace chaque requête. Les balises réussies passent en debug,
// elles représentent l'essentiel du trafic.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status == 404:
			event = log.Debug()
		case status >= 400:
			event = log.Warn()
		case isBeacon(c):
			event = log.Debug()
		default:
			event = log.Info()
		}

		if id := c.Param("id"); id != "" {
			event = event.Str("tracking_id", id)
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP Request")

		for _, err := range c.Errors {
			log.Error().
				Err(err.Err).
				Str("route", route).
				Str("type", strconv.FormatUint(uint64(err.Type), 10)).
				Msg("Request error")
		}
	}
}

// isBeacon reconnaît les réponses pixel et les accusés JSON des balises
func isBeacon(c *gin.Context) bool {
	if c.Writer.Header().Get("Content-Type") == "image/gif" {
		return true
	}
	return c.Request.Method == "POST" && c.Param("id") != "" && !strings.HasPrefix(c.FullPath(), "/api/")
}

// Recovery transforme une panique en 500 sans rien révéler du serveur
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("route", c.FullPath()).
					Str("tracking_id", c.Param("id")).
					Msg("Panic recovered")

				c.AbortWithStatusJSON(500, gin.H{"error": "Erreur interne"})
			}
		}()
		c.Next()
	}
}

// Générer une clé secrète aléatoire
func generateSecretKey() []byte {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		log.Fatal().Err(err).Msg("Erreur génération clé secrète")
	}
	return key
}
