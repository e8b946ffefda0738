package auth

import (
	"context"
	"time"

	"github.com/router-for-me/SchoolAuth/internal/metrics"
	"github.com/router-for-me/SchoolAuth/internal/store"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 500
	maxSweepBatchesPerRun = 200
	sweepTargetChallenges = "webauthn_challenges"
	sweepTargetQRSessions = "qr_sessions"
)

// Sweeper periodically deletes expired WebAuthn challenges and QR login sessions.
type Sweeper struct {
	challenges *store.Challenges
	sessions   *store.QRSessions
	interval   time.Duration
	batchSize  int
	now        func() time.Time
}

// NewSweeper constructs a Sweeper; non-positive interval or batch size fall back to defaults.
func NewSweeper(challenges *store.Challenges, sessions *store.QRSessions, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &Sweeper{
		challenges: challenges,
		sessions:   sessions,
		interval:   interval,
		batchSize:  batchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.run(ctx)
	log.Infof("expired login state sweeper started (interval=%s)", s.interval)
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx)
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// RunOnce deletes every expired row in bounded batches and returns the counts per target.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int64 {
	cutoff := s.now()
	deleted := map[string]int64{
		sweepTargetChallenges: s.sweep(ctx, sweepTargetChallenges, cutoff, s.challenges.DeleteExpired),
		sweepTargetQRSessions: s.sweep(ctx, sweepTargetQRSessions, cutoff, s.sessions.DeleteExpired),
	}
	return deleted
}

func (s *Sweeper) sweep(ctx context.Context, target string, cutoff time.Time, deleteBatch func(context.Context, time.Time, int) (int64, error)) int64 {
	total := int64(0)
	for i := 0; i < maxSweepBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		n, err := deleteBatch(ctx, cutoff, s.batchSize)
		if err != nil {
			log.WithError(err).WithField("target", target).Warn("sweeper: delete batch failed")
			break
		}
		total += n
		if n < int64(s.batchSize) {
			break
		}
	}
	if total > 0 {
		metrics.SweptRowsTotal.WithLabelValues(target).Add(float64(total))
		log.Infof("sweeper: deleted %d expired %s (cutoff=%s)", total, target, cutoff.Format(time.RFC3339))
	}
	return total
}
