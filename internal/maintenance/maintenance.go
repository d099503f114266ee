// Package maintenance runs the periodic safety-net process: a recovery
// sweep re-run beyond the scheduler's own startup sweep, a flush of the
// archive retry buffer, and a log-only scan for OAuth tokens nearing expiry.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acme/outbound-voice-orchestrator/internal/archive/scylla"
	"github.com/acme/outbound-voice-orchestrator/internal/config"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/internal/scheduler"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// Maintenance runs the periodic sweep described above until its context is
// cancelled.
type Maintenance struct {
	scheduler     *scheduler.Scheduler
	oauthTokens   repository.OAuthTokenRepository
	archive       *scylla.Archive
	archiveBuffer *scylla.RetryBuffer
	cfg           config.RecoveryConfig
	logger        *logger.Logger
}

// New constructs a Maintenance process. archive and archiveBuffer may be
// nil when the Scylla archive is disabled.
func New(sched *scheduler.Scheduler, oauthTokens repository.OAuthTokenRepository, archive *scylla.Archive, archiveBuffer *scylla.RetryBuffer, cfg config.RecoveryConfig, lg *logger.Logger) *Maintenance {
	return &Maintenance{
		scheduler:     sched,
		oauthTokens:   oauthTokens,
		archive:       archive,
		archiveBuffer: archiveBuffer,
		cfg:           cfg,
		logger:        lg,
	}
}

// Run executes the maintenance tick loop until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Maintenance) tick(ctx context.Context) {
	if n, err := m.scheduler.RecoverStaleInFlight(ctx); err != nil {
		m.logger.Error("maintenance: recovery sweep failed", zap.Error(err))
	} else if n > 0 {
		m.logger.Info("maintenance: recovery sweep recovered stale in-flight entries", zap.Int64("count", n))
	}

	m.flushArchiveBuffer(ctx)
	m.logExpiringOAuthTokens(ctx)
}

func (m *Maintenance) flushArchiveBuffer(ctx context.Context) {
	if m.archive == nil || m.archiveBuffer == nil || m.archiveBuffer.Len() == 0 {
		return
	}

	flushed, err := m.archiveBuffer.Flush(ctx, m.archive)
	if err != nil {
		m.logger.Warn("maintenance: archive retry buffer flush still has failures", zap.Int("remaining", m.archiveBuffer.Len()))
	}
	if flushed > 0 {
		m.logger.Info("maintenance: flushed buffered archive writes", zap.Int("count", flushed))
	}
}

func (m *Maintenance) logExpiringOAuthTokens(ctx context.Context) {
	if m.oauthTokens == nil {
		return
	}

	cutoff := time.Now().UTC().Add(24 * time.Hour)
	tokens, err := m.oauthTokens.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		m.logger.Warn("maintenance: list expiring oauth tokens failed", zap.Error(err))
		return
	}

	for _, token := range tokens {
		m.logger.Warn("maintenance: oauth token nearing expiry",
			zap.String("location_id", token.LocationID),
			zap.Time("expires_at", token.ExpiresAt),
		)
	}
}
