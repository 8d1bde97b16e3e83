package sound

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/metrics"
)

const (
	PathAsset   = "asset"
	PathTone    = "tone"
	PathSkipped = "skipped"
	PathFailed  = "failed"
)

type Config struct {
	Enabled     bool
	ToneHz      float64
	ToneLength  time.Duration
	PlayTimeout time.Duration
}

// Service plays the audible alert for critical notifications. The asset is
// loaded once; if loading fails the synthesized tone is used from then on.
// Playback problems are logged and never reach the caller.
type Service struct {
	config  Config
	loader  Loader
	player  Player
	logger  *logger.Logger
	metrics *metrics.Metrics

	once  sync.Once
	asset []byte
	tone  []byte

	// held while a clip plays; alerts arriving meanwhile are skipped
	playing sync.Mutex
}

// NewService creates the alert player. loader may be nil, in which case the
// tone is always used.
func NewService(config Config, loader Loader, player Player, logger *logger.Logger, metrics *metrics.Metrics) *Service {
	if config.ToneHz <= 0 {
		config.ToneHz = 880
	}
	if config.ToneLength <= 0 {
		config.ToneLength = 200 * time.Millisecond
	}
	if config.PlayTimeout <= 0 {
		config.PlayTimeout = 5 * time.Second
	}
	if player == nil {
		player = NopPlayer{}
	}
	return &Service{
		config:  config,
		loader:  loader,
		player:  player,
		logger:  logger.Component("sound"),
		metrics: metrics,
		tone:    Tone(config.ToneHz, config.ToneLength),
	}
}

// Preload fetches the asset. It runs at most once; later calls are no-ops.
func (s *Service) Preload(ctx context.Context) {
	s.once.Do(func() {
		if s.loader == nil {
			return
		}
		data, err := s.loader.Load(ctx)
		if err != nil {
			s.logger.Warn("Alert sound unavailable, using tone", "error", err.Error())
			return
		}
		s.asset = data
		s.logger.Debug("Alert sound loaded", "bytes", len(data))
	})
}

// Alert starts playback in the background and returns immediately.
func (s *Service) Alert(ctx context.Context) {
	if !s.config.Enabled {
		return
	}
	go s.Play(context.WithoutCancel(ctx))
}

// Play blocks until the clip finished, failed or timed out.
func (s *Service) Play(ctx context.Context) {
	if !s.config.Enabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("panic: %v", r), "Alert playback panicked")
			s.metrics.SoundsPlayed.WithLabelValues(PathFailed).Inc()
		}
	}()

	if !s.playing.TryLock() {
		s.metrics.SoundsPlayed.WithLabelValues(PathSkipped).Inc()
		return
	}
	defer s.playing.Unlock()

	s.Preload(ctx)

	ctx, cancel := context.WithTimeout(ctx, s.config.PlayTimeout)
	defer cancel()

	if s.asset != nil {
		err := s.player.Play(ctx, s.asset)
		if err == nil {
			s.metrics.SoundsPlayed.WithLabelValues(PathAsset).Inc()
			return
		}
		s.logger.Debug("Alert sound playback failed, trying tone", "error", err.Error())
	}

	if err := s.player.Play(ctx, s.tone); err != nil {
		s.logger.Debug("Alert tone playback failed", "error", err.Error())
		s.metrics.SoundsPlayed.WithLabelValues(PathFailed).Inc()
		return
	}
	s.metrics.SoundsPlayed.WithLabelValues(PathTone).Inc()
}
