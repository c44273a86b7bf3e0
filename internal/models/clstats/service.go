package clstats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "littletrack"
	retention = 31 * 24 * time.Hour
	dayLayout = "2006-01-02"
)

// Service tient des compteurs journaliers par image suivie dans Redis.
// Un *Service nil est valide et n'enregistre rien.
type Service struct {
	redis *redis.Client
	now   func() time.Time
}

func NewService(client *redis.Client) *Service {
	if client == nil {
		return nil
	}
	return &Service{
		redis: client,
		now:   time.Now,
	}
}

// RealtimeStats sont les compteurs du jour pour une image suivie
type RealtimeStats struct {
	TrackingID     string           `json:"trackingId"`
	Date           string           `json:"date"`
	Views          int64            `json:"views"`
	UniqueVisitors int64            `json:"uniqueVisitors"`
	BySource       map[string]int64 `json:"bySource"`
}

// DailyStat est une ligne de l'historique journalier
type DailyStat struct {
	Date           string `json:"date"`
	Views          int64  `json:"views"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

// VisitorID dérive un identifiant anonyme à partir de l'IP et du User-Agent
func VisitorID(ip, userAgent string) string {
	hash := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(hash[:])[:32]
}

func dailyKey(trackingID, day string) string {
	return fmt.Sprintf("%s:daily:%s:%s", keyPrefix, trackingID, day)
}

func visitorKey(trackingID, day string) string {
	return fmt.Sprintf("%s:visitors:%s:%s", keyPrefix, trackingID, day)
}

// RecordView incrémente les compteurs du jour pour une nouvelle vue
func (s *Service) RecordView(ctx context.Context, trackingID, source, visitorID string) error {
	if s == nil {
		return nil
	}
	day := s.now().Format(dayLayout)
	dk := dailyKey(trackingID, day)
	vk := visitorKey(trackingID, day)

	pipe := s.redis.TxPipeline()
	pipe.HIncrBy(ctx, dk, "views", 1)
	if source != "" {
		pipe.HIncrBy(ctx, dk, "source:"+source, 1)
	}
	pipe.Expire(ctx, dk, retention)
	pipe.SAdd(ctx, vk, visitorID)
	pipe.Expire(ctx, vk, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record view: %w", err)
	}
	return nil
}

// GetRealtimeStats récupère les compteurs du jour
func (s *Service) GetRealtimeStats(ctx context.Context, trackingID string) (*RealtimeStats, error) {
	day := s.now().Format(dayLayout)
	stats := &RealtimeStats{
		TrackingID: trackingID,
		Date:       day,
		BySource:   map[string]int64{},
	}

	fields, err := s.redis.HGetAll(ctx, dailyKey(trackingID, day)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if field == "views" {
			stats.Views = n
		} else if src, ok := strings.CutPrefix(field, "source:"); ok {
			stats.BySource[src] = n
		}
	}

	stats.UniqueVisitors, err = s.redis.SCard(ctx, visitorKey(trackingID, day)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return stats, nil
}

// GetDailyStats retourne l'historique des derniers jours, du plus ancien au plus récent
func (s *Service) GetDailyStats(ctx context.Context, trackingID string, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}
	today := s.now()

	pipe := s.redis.Pipeline()
	viewCmds := make([]*redis.StringCmd, days)
	visitorCmds := make([]*redis.IntCmd, days)
	dates := make([]string, days)
	for i := range days {
		day := today.AddDate(0, 0, i-days+1).Format(dayLayout)
		dates[i] = day
		viewCmds[i] = pipe.HGet(ctx, dailyKey(trackingID, day), "views")
		visitorCmds[i] = pipe.SCard(ctx, visitorKey(trackingID, day))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result := make([]DailyStat, days)
	for i := range days {
		views, _ := viewCmds[i].Int64()
		result[i] = DailyStat{
			Date:           dates[i],
			Views:          views,
			UniqueVisitors: visitorCmds[i].Val(),
		}
	}
	return result, nil
}

// Enabled indique si les compteurs Redis sont actifs
func (s *Service) Enabled() bool {
	return s != nil
}
