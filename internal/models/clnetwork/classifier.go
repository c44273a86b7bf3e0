package clnetwork

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"littletrack/internal/models/clmetrics"

	"github.com/rs/zerolog/log"
)

type Family string

const (
	FamilyIPv4 Family = "IPv4"
	FamilyIPv6 Family = "IPv6"
)

type Scope string

const (
	ScopeLoopback    Scope = "loopback"
	ScopePrivate     Scope = "private"
	ScopeLinkLocal   Scope = "linkLocal"
	ScopeUniqueLocal Scope = "uniqueLocal"
	ScopeUnspecified Scope = "unspecified"
	ScopePublic      Scope = "public"
	ScopeUnknown     Scope = "unknown"
)

const (
	unknownValue   = "Unknown"
	degradedNote   = "Limited information available: geolocation lookup failed"
	defaultTimeout = 2 * time.Second
)

var ErrNoData = errors.New("aucune donnée pour cette adresse")

// IsLocal indique une portée non routable : aucune recherche externe
func (s Scope) IsLocal() bool {
	switch s {
	case ScopeLoopback, ScopePrivate, ScopeLinkLocal, ScopeUniqueLocal, ScopeUnspecified:
		return true
	}
	return false
}

// GeoRecord est le résultat d'un fournisseur de géolocalisation
type GeoRecord struct {
	Country  string `json:"country"`
	Region   string `json:"region"`
	City     string `json:"city"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
	Loc      string `json:"loc"`
}

// Provider est un fournisseur de géolocalisation (base locale ou service externe)
type Provider interface {
	Name() string
	Lookup(ctx context.Context, addr netip.Addr) (*GeoRecord, error)
}

// Classification est le résultat transitoire de Classify, jamais mis en cache
type Classification struct {
	Address     string `json:"address"`
	Family      Family `json:"family"`
	Scope       Scope  `json:"scope"`
	NetworkType string `json:"networkType"`
	Org         string `json:"org,omitempty"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Coordinates string `json:"coordinates,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Note        string `json:"note,omitempty"`
}

// Classifier classe l'adresse d'un client.
// Les fournisseurs locaux sont essayés avant les externes, le premier
// résultat gagne. Classify ne retourne jamais d'erreur.
type Classifier struct {
	local    []Provider
	external []Provider
	timeout  time.Duration
}

func NewClassifier(local, external []Provider, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Classifier{
		local:    local,
		external: external,
		timeout:  timeout,
	}
}

// Classify normalise l'adresse et la classe
func (c *Classifier) Classify(ctx context.Context, raw string) Classification {
	addr, ok := ParseAddress(raw)
	if !ok {
		return degraded(strings.TrimSpace(raw), guessFamily(raw), ScopeUnknown)
	}

	family := familyOf(addr)
	scope := scopeOf(addr)

	if scope.IsLocal() {
		return Classification{
			Address:     addr.String(),
			Family:      family,
			Scope:       scope,
			NetworkType: NetworkPrivate,
			Country:     "Local",
			Region:      "Local",
			City:        "Local Network",
		}
	}

	rec, provider := c.lookup(ctx, c.local, addr)
	if rec == nil {
		rec, provider = c.lookup(ctx, c.external, addr)
	}
	if rec == nil {
		return degraded(addr.String(), family, scope)
	}

	return Classification{
		Address:     addr.String(),
		Family:      family,
		Scope:       scope,
		NetworkType: classifyOrg(rulesFor(family), rec.Org),
		Org:         rec.Org,
		Country:     orUnknown(rec.Country),
		Region:      orUnknown(rec.Region),
		City:        orUnknown(rec.City),
		Coordinates: rec.Loc,
		Timezone:    rec.Timezone,
		Provider:    provider,
	}
}

func (c *Classifier) lookup(ctx context.Context, providers []Provider, addr netip.Addr) (*GeoRecord, string) {
	for _, p := range providers {
		if ctx.Err() != nil {
			return nil, ""
		}

		lctx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		rec, err := p.Lookup(lctx, addr)
		cancel()
		clmetrics.GeoLookupDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

		if err != nil || rec == nil {
			result := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				result = "timeout"
			} else if errors.Is(err, ErrNoData) || rec == nil {
				result = "no_data"
			}
			clmetrics.GeoLookupsTotal.WithLabelValues(p.Name(), result).Inc()
			log.Debug().Err(err).Str("provider", p.Name()).Str("ip", addr.String()).Msg("GeoIP provider failed")
			continue
		}

		clmetrics.GeoLookupsTotal.WithLabelValues(p.Name(), "success").Inc()
		return rec, p.Name()
	}
	return nil, ""
}

func degraded(address string, family Family, scope Scope) Classification {
	networkType := NetworkIPv4
	if family == FamilyIPv6 {
		networkType = NetworkIPv6
	}
	return Classification{
		Address:     address,
		Family:      family,
		Scope:       scope,
		NetworkType: networkType,
		Country:     unknownValue,
		Region:      unknownValue,
		City:        unknownValue,
		Note:        degradedNote,
	}
}

// ParseAddress normalise une adresse brute : premier élément d'un
// X-Forwarded-For, crochets et port retirés, préfixe ::ffff: supprimé
func ParseAddress(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, ","); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	if strings.HasPrefix(s, "[") {
		if idx := strings.LastIndex(s, "]"); idx != -1 {
			s = s[1:idx]
		}
	} else if strings.Count(s, ":") == 1 {
		s = s[:strings.Index(s, ":")]
	}

	if len(s) > 7 && strings.EqualFold(s[:7], "::ffff:") && strings.Contains(s[7:], ".") {
		s = s[7:]
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func familyOf(addr netip.Addr) Family {
	if addr.Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

func guessFamily(raw string) Family {
	if strings.Count(raw, ":") > 1 {
		return FamilyIPv6
	}
	return FamilyIPv4
}

func scopeOf(addr netip.Addr) Scope {
	switch {
	case addr.IsLoopback():
		return ScopeLoopback
	case addr.IsUnspecified():
		return ScopeUnspecified
	case addr.IsLinkLocalUnicast():
		return ScopeLinkLocal
	case addr.IsPrivate() && addr.Is4():
		return ScopePrivate
	case addr.IsPrivate():
		return ScopeUniqueLocal
	}
	return ScopePublic
}

func orUnknown(s string) string {
	if s == "" {
		return unknownValue
	}
	return s
}
