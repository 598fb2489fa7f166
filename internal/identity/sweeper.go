package identity

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"deskhive.dev/internal/obs"
)

const sweepTimeout = 30 * time.Second

// Sweeper runs the expiry sweeps on a cron schedule, bounding storage growth
// from abandoned sessions and stale invitations.
type Sweeper struct {
	svc  *Service
	cron *cron.Cron
	log  logrus.FieldLogger
}

// NewSweeper schedules both sweeps with a cron expression such as "@hourly".
func NewSweeper(svc *Service, schedule string, log logrus.FieldLogger) (*Sweeper, error) {
	s := &Sweeper{
		svc:  svc,
		cron: cron.New(),
		log:  log,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	sessions, err := s.svc.SweepSessions(ctx)
	if err != nil {
		s.log.WithError(err).Error("refresh token sweep failed")
	} else {
		obs.AddSwept("refresh_tokens", sessions)
	}

	invitations, err := s.svc.SweepInvitations(ctx)
	if err != nil {
		s.log.WithError(err).Error("invitation sweep failed")
		return
	}
	obs.AddSwept("invitations", invitations)

	if sessions > 0 || invitations > 0 {
		s.log.WithFields(logrus.Fields{
			"refresh_tokens": sessions,
			"invitations":    invitations,
		}).Info("expiry sweep removed records")
	}
}
