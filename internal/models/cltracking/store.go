package cltracking

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound    = errors.New("identifiant de suivi introuvable")
	ErrDuplicateID = errors.New("identifiant de suivi déjà enregistré")
	ErrInvalidID   = errors.New("identifiant de suivi invalide")
)

// Store est le registre en mémoire des images suivies.
// Il est créé au démarrage et injecté dans les handlers.
type Store struct {
	mu     sync.RWMutex
	assets map[string]*TrackedAsset
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		assets: make(map[string]*TrackedAsset),
		now:    time.Now,
	}
}

// Register enregistre une nouvelle image, l'identifiant doit être unique
func (s *Store) Register(trackingID, assetPath string, opts AssetOptions) (*TrackedAsset, error) {
	if strings.TrimSpace(trackingID) == "" {
		return nil, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assets[trackingID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, trackingID)
	}

	asset := &TrackedAsset{
		TrackingID: trackingID,
		AssetPath:  assetPath,
		MimeType:   opts.MimeType,
		Caption:    opts.Caption,
		CreatedAt:  s.now(),
	}
	s.assets[trackingID] = asset
	return asset, nil
}

// Get retourne l'asset ou false s'il est inconnu
func (s *Store) Get(trackingID string) (*TrackedAsset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[trackingID]
	return asset, ok
}

// AppendView ajoute une vue à la fin de la liste de l'asset
func (s *Store) AppendView(trackingID string, rec *ViewRecord) error {
	asset, ok := s.Get(trackingID)
	if !ok {
		return ErrNotFound
	}

	asset.mu.Lock()
	asset.views = append(asset.views, rec)
	asset.mu.Unlock()
	return nil
}

// Snapshot retourne une copie des vues pour l'API
func (s *Store) Snapshot(trackingID string) (AssetSnapshot, error) {
	asset, ok := s.Get(trackingID)
	if !ok {
		return AssetSnapshot{}, ErrNotFound
	}
	return asset.snapshot(), nil
}

// ViewCount retourne le nombre de vues d'un asset
func (s *Store) ViewCount(trackingID string) int {
	asset, ok := s.Get(trackingID)
	if !ok {
		return 0
	}
	asset.mu.Lock()
	defer asset.mu.Unlock()
	return len(asset.views)
}

// Len retourne le nombre d'images suivies
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}

// IDs retourne les identifiants triés
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}
