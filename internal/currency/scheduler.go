package currency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xopay/notify-service/internal/metrics"
)

const reportSubject = "XOPAY: Exchange rates update."

// minFireDistance keeps a restart inside an update hour from firing the
// same slot twice.
const minFireDistance = 30 * time.Minute

// Poster is the slice of the HTTP client the scheduler needs.
type Poster interface {
	Post(ctx context.Context, url string, body any) (map[string]any, error)
}

// Reporter delivers admin reports.
type Reporter interface {
	Report(ctx context.Context, subject, text string)
}

// Scheduler drives the periodic currency refresh: at every configured
// wall-clock hour it gathers all rate sources, pushes the combined rates
// to the admin service and reports the outcome.
type Scheduler struct {
	sources   []Source
	client    Poster
	reporter  Reporter
	adminBase string
	hours     []int
	loc       *time.Location
	log       *logrus.Entry
	stats     *metrics.Collector

	now func() time.Time
}

func NewScheduler(sources []Source, client Poster, reporter Reporter, adminBaseURL string,
	updateHours []int, timezone string, stats *metrics.Collector, log *logrus.Entry) (*Scheduler, error) {

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if len(updateHours) == 0 {
		return nil, fmt.Errorf("no update hours configured")
	}
	return &Scheduler{
		sources:   sources,
		client:    client,
		reporter:  reporter,
		adminBase: adminBaseURL,
		hours:     updateHours,
		loc:       loc,
		log:       log,
		stats:     stats,
		now:       time.Now,
	}, nil
}

// Run loops until the context is cancelled. A pending sleep is
// interruptible so shutdown is prompt.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Start currency update daemon")
	for {
		delay := s.nextFireDelay(s.now().In(s.loc))
		s.log.Infof("Next currency update in %s", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("Stop currency update daemon")
			return
		case <-timer.C:
		}

		s.refresh(ctx)
	}
}

// nextFireDelay returns the time until the earliest instant whose hour is
// in the update hours and which is more than 30 minutes away.
func (s *Scheduler) nextFireDelay(now time.Time) time.Duration {
	var best time.Duration
	for _, day := range []int{0, 1} {
		for _, hour := range s.hours {
			candidate := time.Date(now.Year(), now.Month(), now.Day()+day, hour, 0, 0, 0, s.loc)
			delta := candidate.Sub(now)
			if delta <= minFireDistance {
				continue
			}
			if best == 0 || delta < best {
				best = delta
			}
		}
	}
	return best
}

// refresh executes one fetch-aggregate-push-report cycle. Errors are
// reported to the admins and never stop the loop.
func (s *Scheduler) refresh(ctx context.Context) {
	s.log.Debug("Update currency exchange information")

	rates, err := FetchAll(ctx, s.sources)
	if err != nil {
		s.log.Errorf("Error load currency: %v", err)
		s.stats.RefreshCycle("load_error")
		s.reportError(ctx, fmt.Sprintf("Error load currency:\n%v", err))
		return
	}

	if _, err := s.client.Post(ctx, s.adminBase+"/currency/update", map[string]any{"update": rates}); err != nil {
		s.log.Errorf("Error update currency: %v", err)
		s.stats.RefreshCycle("push_error")
		s.reportError(ctx, fmt.Sprintf("Error update currency.\nWrong response from Admin Service.\n%v", err))
		return
	}

	s.log.Info("Currency exchange information updated successfully")
	s.stats.RefreshCycle("ok")
	s.reportSuccess(ctx, rates)
}

func (s *Scheduler) reportSuccess(ctx context.Context, rates []Rate) {
	lines := make([]string, len(rates))
	for i, rate := range rates {
		lines[i] = fmt.Sprintf("%s/%s:\t %s", rate.From, rate.To, rate.Rate)
	}
	text := fmt.Sprintf("Exchange rates was successfully updated.\n\n%s\n\nCommit time (UTC): %s",
		strings.Join(lines, "\n"), s.now().UTC())
	s.reporter.Report(ctx, reportSubject, text)
}

func (s *Scheduler) reportError(ctx context.Context, problem string) {
	text := fmt.Sprintf("Failed to upgrade the exchange rate!\n\nProblem description:\n%s\n\nCommit time (UTC): %s",
		problem, s.now().UTC())
	s.reporter.Report(ctx, reportSubject, text)
}
