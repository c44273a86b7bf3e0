package cltracking

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Source indique par quel vecteur une vue a été enregistrée
type Source string

const (
	SourceWebsiteView     Source = "WebsiteView"
	SourceEmailEmbed      Source = "EmailEmbed"
	SourceClickableImage  Source = "ClickableImage"
	SourceDownloadedImage Source = "DownloadedImage"
)

// Location représente la géolocalisation approximative d'une vue
type Location struct {
	Country     string `json:"country"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Coordinates string `json:"coordinates,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// NetworkInfo résume la classification réseau de l'adresse
type NetworkInfo struct {
	Family string `json:"family"`
	Scope  string `json:"scope"`
	Org    string `json:"org,omitempty"`
	Note   string `json:"note,omitempty"`
}

// ClickEvent représente un clic sur l'image cliquable
type ClickEvent struct {
	Timestamp time.Time `json:"timestamp"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Viewport  string    `json:"viewport"`
}

// ViewRecord représente une vue d'une image suivie.
// Un enregistrement est complété sur place par les appels suivants
// tant qu'il reste dans sa fenêtre de fraîcheur.
type ViewRecord struct {
	Timestamp        time.Time         `json:"timestamp"`
	IP               string            `json:"ip"`
	UserAgent        string            `json:"userAgent"`
	Browser          string            `json:"browser"`
	OS               string            `json:"os"`
	Language         string            `json:"language"`
	Location         Location          `json:"location"`
	NetworkType      string            `json:"networkType"`
	Network          NetworkInfo       `json:"network"`
	Source           Source            `json:"source"`
	Referrer         string            `json:"referrer"`
	Headers          map[string]string `json:"headers,omitempty"`
	EnhancedData     map[string]any    `json:"enhancedData,omitempty"`
	ScreenResolution string            `json:"screenResolution,omitempty"`
	BrowserOverride  string            `json:"browserOverride,omitempty"`
	Clicks           []ClickEvent      `json:"clicks,omitempty"`
	ClickCount       int               `json:"clickCount"`
}

// clone copie l'enregistrement pour l'exposer hors du verrou
func (v *ViewRecord) clone() ViewRecord {
	c := *v
	c.Headers = maps.Clone(v.Headers)
	c.EnhancedData = maps.Clone(v.EnhancedData)
	c.Clicks = slices.Clone(v.Clicks)
	return c
}

// TrackedAsset est une image déposée et la liste de ses vues
type TrackedAsset struct {
	TrackingID string
	AssetPath  string
	MimeType   string
	Caption    string
	CreatedAt  time.Time

	mu    sync.Mutex
	views []*ViewRecord
}

// AssetOptions regroupe les champs facultatifs d'un dépôt
type AssetOptions struct {
	MimeType string
	Caption  string
}

// AssetSnapshot est une copie figée d'un TrackedAsset, prête pour le JSON
type AssetSnapshot struct {
	TrackingID string       `json:"trackingId"`
	Views      []ViewRecord `json:"views"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// snapshot copie l'asset sous son verrou
func (a *TrackedAsset) snapshot() AssetSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	views := make([]ViewRecord, 0, len(a.views))
	for _, v := range a.views {
		views = append(views, v.clone())
	}
	return AssetSnapshot{
		TrackingID: a.TrackingID,
		Views:      views,
		CreatedAt:  a.CreatedAt,
	}
}
