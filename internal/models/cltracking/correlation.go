package cltracking

import (
	"time"
)

const (
	// ViewWindow borne la fusion des données complémentaires (clics, empreinte, navigateur)
	ViewWindow = 5 * time.Minute
	// StealthWindow borne la fusion des données du fichier téléchargé
	StealthWindow = 1 * time.Minute
)

// Engine rattache les appels sans identifiant de session à une vue existante.
// La corrélation repose sur (adresse, fenêtre de temps, source facultative) :
// deux visiteurs derrière le même NAT dans la fenêtre seront fusionnés.
type Engine struct {
	store *Store
}

func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// SetClock remplace l'horloge du registre (tests)
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Now retourne l'heure courante du registre
func (e *Engine) Now() time.Time {
	e.store.mu.RLock()
	now := e.store.now
	e.store.mu.RUnlock()
	return now()
}

// FindMergeTarget retourne la vue la plus récente de cette adresse encore
// dans la fenêtre, filtrée par source si filter n'est pas nil.
// L'appelant doit tenir le verrou de l'asset.
// À horodatage égal, la dernière vue insérée l'emporte.
func (e *Engine) FindMergeTarget(asset *TrackedAsset, ip string, window time.Duration, filter *Source) *ViewRecord {
	return findMergeTarget(asset.views, e.Now(), ip, window, filter)
}

func findMergeTarget(views []*ViewRecord, now time.Time, ip string, window time.Duration, filter *Source) *ViewRecord {
	var target *ViewRecord
	for _, v := range views {
		if v.IP != ip {
			continue
		}
		if now.Sub(v.Timestamp) >= window {
			continue
		}
		if filter != nil && v.Source != *filter {
			continue
		}
		if target == nil || !v.Timestamp.Before(target.Timestamp) {
			target = v
		}
	}
	return target
}

// Record ajoute une nouvelle vue
func (e *Engine) Record(trackingID string, rec *ViewRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.Now()
	}
	return e.store.AppendView(trackingID, rec)
}

// Merge applique apply sur la vue cible si elle existe.
// Retourne false si aucune vue ne correspond, rien n'est créé.
func (e *Engine) Merge(trackingID, ip string, window time.Duration, filter *Source, apply func(*ViewRecord)) (bool, error) {
	asset, ok := e.store.Get(trackingID)
	if !ok {
		return false, ErrNotFound
	}

	asset.mu.Lock()
	defer asset.mu.Unlock()

	target := e.FindMergeTarget(asset, ip, window, filter)
	if target == nil {
		return false, nil
	}
	apply(target)
	return true, nil
}

// MergeOrCreate fusionne dans la vue cible ou, à défaut, crée la vue
// construite par build puis lui applique apply.
// build est appelé hors verrou (il peut faire une géolocalisation),
// la recherche est refaite sous verrou avant l'ajout : deux appels
// concurrents de la même adresse ne créent qu'une seule vue.
func (e *Engine) MergeOrCreate(trackingID, ip string, window time.Duration, filter *Source, apply func(*ViewRecord), build func() *ViewRecord) (created bool, err error) {
	merged, err := e.Merge(trackingID, ip, window, filter, apply)
	if err != nil || merged {
		return false, err
	}

	rec := build()

	asset, ok := e.store.Get(trackingID)
	if !ok {
		return false, ErrNotFound
	}

	asset.mu.Lock()
	defer asset.mu.Unlock()

	if target := e.FindMergeTarget(asset, ip, window, filter); target != nil {
		apply(target)
		return false, nil
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.Now()
	}
	rec.IP = ip
	apply(rec)
	asset.views = append(asset.views, rec)
	return true, nil
}
