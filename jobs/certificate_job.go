package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/treinanr/academy/i18n"
	"github.com/treinanr/academy/models"
	"github.com/treinanr/academy/services"
)

const defaultSweepBatch = 100

type PendingEnrollments interface {
	PendingCompletions(ctx context.Context, limit int) ([]models.Enrollment, error)
}

type CertificateIssuer interface {
	Issue(ctx context.Context, req services.CertificateRequest) (*services.IssuedCertificate, error)
}

// CompletionSweep issues certificates for enrollments that were completed
// but never certified.
type CompletionSweep struct {
	enrollments PendingEnrollments
	issuer      CertificateIssuer
	text        *i18n.Translator
	batch       int
	timeout     time.Duration
	log         zerolog.Logger
}

func NewCompletionSweep(enrollments PendingEnrollments, issuer CertificateIssuer, text *i18n.Translator, logger zerolog.Logger) *CompletionSweep {
	return &CompletionSweep{
		enrollments: enrollments,
		issuer:      issuer,
		text:        text,
		batch:       defaultSweepBatch,
		timeout:     4 * time.Minute,
		log:         logger.With().Str("component", "completion-sweep").Logger(),
	}
}

// Run is the cron entry point.
func (j *CompletionSweep) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, err := j.RunContext(ctx); err != nil {
		j.log.Error().Err(err).Msg("completion sweep failed")
	}
}

// RunContext issues one batch and returns how many certificates were issued.
// It waits for their records to be written so the next run does not pick
// the same enrollments again.
func (j *CompletionSweep) RunContext(ctx context.Context) (int, error) {
	pending, err := j.enrollments.PendingCompletions(ctx, j.batch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		j.log.Debug().Msg("no pending completions")
		return 0, nil
	}

	var dispatched []<-chan struct{}
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		if e.CompletedAt == nil {
			continue
		}
		userID := e.UserID
		locale := j.text.Locale("")
		cert, err := j.issuer.Issue(ctx, services.CertificateRequest{
			StudentName:    e.StudentName,
			CourseName:     e.Course.Title,
			CompletionDate: j.text.FormatDate(locale, *e.CompletedAt),
			CourseID:       e.CourseID,
			UserID:         &userID,
			StudentEmail:   e.StudentEmail,
			Locale:         locale,
			Workload:       e.Course.Workload,
		})
		if err != nil {
			// already logged and counted by the issuer
			continue
		}
		dispatched = append(dispatched, cert.Done)
	}

	for _, done := range dispatched {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return len(dispatched), ctx.Err()
		}
	}

	j.log.Info().Int("pending", len(pending)).Int("issued", len(dispatched)).Msg("completion sweep finished")
	return len(dispatched), ctx.Err()
}
