// Package jobs hosts the scheduled maintenance work: today that is the
// periodic trust-score recomputation over settlement history. Jobs read and
// aggregate; they never move funds.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agrilink-dev/settlement_layer/internal/domain/history"
	"github.com/agrilink-dev/settlement_layer/internal/storage"
	"github.com/agrilink-dev/settlement_layer/pkg/logger"
)

// TrustScoreJob recomputes each farm's trust score from its settlement
// record. The score is display-only and feeds no authorization decision.
type TrustScoreJob struct {
	farms       storage.FarmStore
	settlements storage.SettlementStore
	cron        *cron.Cron
	schedule    string
	log         *logger.Logger
}

// NewTrustScoreJob builds the job with a cron schedule in the standard
// five-field format, e.g. "0 3 * * *" for daily at 03:00.
func NewTrustScoreJob(farms storage.FarmStore, settlements storage.SettlementStore, schedule string) *TrustScoreJob {
	return &TrustScoreJob{
		farms:       farms,
		settlements: settlements,
		schedule:    schedule,
		log:         logger.NewDefault("trustscore"),
	}
}

// Start registers the schedule and begins running. Runs overlap-safe: each
// run recomputes from scratch, so a skipped or doubled run is harmless.
func (j *TrustScoreJob) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := j.Run(ctx); err != nil {
			j.log.WithError(err).Error("trust score recomputation failed")
		}
	}); err != nil {
		return err
	}
	j.cron.Start()
	j.log.WithField("schedule", j.schedule).Info("trust score job started")
	return nil
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (j *TrustScoreJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Run recomputes every farm's score once. Farms with no settlement history
// keep a neutral score.
func (j *TrustScoreJob) Run(ctx context.Context) error {
	farms, err := j.farms.ListFarms(ctx)
	if err != nil {
		return err
	}
	for _, f := range farms {
		records, err := j.settlements.ListByFarm(ctx, f.ID)
		if err != nil {
			j.log.WithError(err).WithField("farm_id", f.ID).Warn("skipping farm, history unavailable")
			continue
		}
		score := Score(records)
		if err := j.farms.UpdateTrustScore(ctx, f.ID, score); err != nil {
			j.log.WithError(err).WithField("farm_id", f.ID).Warn("trust score update failed")
		}
	}
	j.log.WithField("farms", len(farms)).Debug("trust score recomputation complete")
	return nil
}

// Score maps a farm's settlement record to [0, 100]. The released ratio
// dominates; sustained volume nudges the score up to reward active farms
// with a clean record.
func Score(records []history.Record) float64 {
	if len(records) == 0 {
		return 50
	}
	var released int
	for _, rec := range records {
		if rec.Status == history.StatusReleased {
			released++
		}
	}
	ratio := float64(released) / float64(len(records))

	volume := float64(released)
	if volume > 20 {
		volume = 20
	}
	return ratio*90 + volume/20*10
}
