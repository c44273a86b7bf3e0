package clnetwork

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"littletrack/internal/models/clmetrics"

	"github.com/goccy/go-json"
	"github.com/oschwald/geoip2-golang/v2"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ========================================
// Base locale MaxMind (GeoLite2 City + ASN)
// ========================================

// MaxMindProvider lit les bases mmdb locales
type MaxMindProvider struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewMaxMindProvider ouvre les bases City et ASN, un chemin vide désactive la base
func NewMaxMindProvider(cityPath, asnPath string) (*MaxMindProvider, error) {
	p := &MaxMindProvider{}

	var err error
	if cityPath != "" {
		p.city, err = geoip2.Open(cityPath)
		if err != nil {
			return nil, fmt.Errorf("ouverture base city %s: %w", cityPath, err)
		}
	}
	if asnPath != "" {
		p.asn, err = geoip2.Open(asnPath)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("ouverture base asn %s: %w", asnPath, err)
		}
	}
	if p.city == nil && p.asn == nil {
		return nil, fmt.Errorf("aucune base GeoIP configurée")
	}
	return p, nil
}

func (p *MaxMindProvider) Name() string {
	return "maxmind-local"
}

func (p *MaxMindProvider) Lookup(_ context.Context, addr netip.Addr) (*GeoRecord, error) {
	rec := &GeoRecord{}
	found := false

	if p.city != nil {
		city, err := p.city.City(addr)
		if err != nil {
			return nil, err
		}
		if city.HasData() {
			found = true
			rec.Country = city.Country.ISOCode
			rec.City = city.City.Names.English
			rec.Timezone = city.Location.TimeZone
			if len(city.Subdivisions) > 0 {
				rec.Region = city.Subdivisions[0].Names.English
			}
			if city.Location.Latitude != nil && city.Location.Longitude != nil {
				rec.Loc = formatLoc(*city.Location.Latitude, *city.Location.Longitude)
			}
		}
	}

	if p.asn != nil {
		asn, err := p.asn.ASN(addr)
		if err == nil && asn.AutonomousSystemOrganization != "" {
			found = true
			rec.Org = asn.AutonomousSystemOrganization
		}
	}

	if !found {
		return nil, ErrNoData
	}
	return rec, nil
}

// Close ferme les bases ouvertes
func (p *MaxMindProvider) Close() error {
	var errs []error
	if p.city != nil {
		errs = append(errs, p.city.Close())
	}
	if p.asn != nil {
		errs = append(errs, p.asn.Close())
	}
	return errors.Join(errs...)
}

func formatLoc(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 4, 64) + "," + strconv.FormatFloat(lon, 'f', 4, 64)
}

// ========================================
// Service externe (format ipinfo.io)
// ========================================

// IPInfoProvider interroge un service compatible ipinfo.io
type IPInfoProvider struct {
	client  *http.Client
	baseURL string
	token   string
}

type ipInfoResponse struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
	Bogon    bool   `json:"bogon"`
}

func NewIPInfoProvider(baseURL, token string, timeout time.Duration) *IPInfoProvider {
	if baseURL == "" {
		baseURL = "https://ipinfo.io"
	}
	return &IPInfoProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (p *IPInfoProvider) Name() string {
	return "ipinfo"
}

func (p *IPInfoProvider) Lookup(ctx context.Context, addr netip.Addr) (*GeoRecord, error) {
	endpoint := fmt.Sprintf("%s/%s/json", p.baseURL, url.PathEscape(addr.String()))
	if p.token != "" {
		endpoint += "?token=" + url.QueryEscape(p.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query ipinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipinfo returned status %d", resp.StatusCode)
	}

	var result ipInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ipinfo response: %w", err)
	}

	if result.Bogon || result.Country == "" {
		return nil, ErrNoData
	}

	return &GeoRecord{
		Country:  result.Country,
		Region:   result.Region,
		City:     result.City,
		Org:      result.Org,
		Timezone: result.Timezone,
		Loc:      result.Loc,
	}, nil
}

// ========================================
// Disjoncteur autour d'un fournisseur externe
// ========================================

// BreakerProvider coupe les appels vers un fournisseur qui échoue en boucle
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*GeoRecord]
}

func NewBreakerProvider(next Provider) *BreakerProvider {
	name := next.Name()
	clmetrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*GeoRecord](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// une adresse absente de la base n'est pas une panne du service
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			clmetrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerProvider{next: next, cb: cb}
}

func (p *BreakerProvider) Name() string {
	return p.next.Name()
}

func (p *BreakerProvider) Lookup(ctx context.Context, addr netip.Addr) (*GeoRecord, error) {
	return p.cb.Execute(func() (*GeoRecord, error) {
		return p.next.Lookup(ctx, addr)
	})
}

// State retourne l'état courant du disjoncteur
func (p *BreakerProvider) State() gobreaker.State {
	return p.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
