package registry

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultMaxIdle is the idle cutoff the reaper applies by default.
const DefaultMaxIdle = 1 * time.Hour

// Reaper runs CleanupStaleSessions on a fixed cadence using a cron
// schedule, matching the "background reaping" responsibility named for the
// session registry.
type Reaper struct {
	cron *cron.Cron
}

// StartReaper schedules a reap every 5 minutes against the given registry
// and max idle duration, logging the outcome of each pass.
func StartReaper(r *Registry, maxIdle time.Duration, log zerolog.Logger) *Reaper {
	c := cron.New()
	_, err := c.AddFunc("@every 5m", func() {
		removed := r.CleanupStaleSessions(maxIdle)
		log.Info().
			Int("removed", removed).
			Int("total_sessions", r.TotalSessions()).
			Int("total_portal_users", r.TotalPortalUsers()).
			Int("total_devices", r.TotalDevices()).
			Msg("reaper pass complete")
	})
	if err != nil {
		// @every 5m is a constant, valid schedule; this can't fail.
		panic(err)
	}
	c.Start()
	return &Reaper{cron: c}
}

// Stop halts the reaper's cron scheduler and waits for any in-flight pass
// to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
