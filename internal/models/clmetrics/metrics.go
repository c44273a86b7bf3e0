package clmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BeaconsTotal compte les appels de balise par endpoint et par résultat
	// (recorded, merged, created, ignored, unknown_id)
	BeaconsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "littletrack_beacons_total",
			Help: "Total number of beacon requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// GeoLookupsTotal compte les géolocalisations par fournisseur et résultat
	GeoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "littletrack_geo_lookups_total",
			Help: "Total number of geolocation lookups by provider and result",
		},
		[]string{"provider", "result"},
	)

	// GeoLookupDuration mesure la latence des fournisseurs de géolocalisation
	GeoLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "littletrack_geo_lookup_duration_seconds",
			Help:    "Geolocation lookup latency by provider",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"provider"},
	)

	// CircuitBreakerState état du disjoncteur (0 fermé, 1 semi-ouvert, 2 ouvert)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "littletrack_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// UploadsTotal compte les dépôts d'images par résultat
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "littletrack_uploads_total",
			Help: "Total number of image uploads by result",
		},
		[]string{"result"},
	)

	// TrackedAssets nombre d'images suivies en mémoire
	TrackedAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "littletrack_tracked_assets",
			Help: "Number of tracked assets held in memory",
		},
	)
)

// Beacon incrémente le compteur d'une balise
func Beacon(endpoint, outcome string) {
	BeaconsTotal.WithLabelValues(endpoint, outcome).Inc()
}
