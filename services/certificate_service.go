package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/treinanr/academy/i18n"
	"github.com/treinanr/academy/metrics"
	"github.com/treinanr/academy/models"
	"github.com/treinanr/academy/notifications"
	"github.com/treinanr/academy/utils"
)

// ErrRender marks failures while building the certificate document.
var ErrRender = errors.New("certificate render failed")

type CertificateRequest struct {
	StudentName    string
	CourseName     string
	CompletionDate string // already formatted for display
	CourseID       string
	UserID         *uuid.UUID

	StudentEmail string
	Locale       string
	Workload     int // hours, printed when positive
}

type IssuedCertificate struct {
	Code     string
	PDF      []byte
	DataURI  string
	IssuedAt time.Time

	// Done is closed once the background record, upload and email of this
	// certificate have finished.
	Done <-chan struct{}
}

type (
	Renderer interface {
		Render(ctx context.Context, doc CertificateDocument) ([]byte, error)
	}

	RecordStore interface {
		InsertCertificate(ctx context.Context, cert *models.Certificate) error
		CodeExists(ctx context.Context, code string) (bool, error)
	}

	// ArtifactStore keeps a copy of the PDF and returns a reference to it.
	ArtifactStore interface {
		Put(ctx context.Context, key string, pdf []byte) (string, error)
	}

	Mailer interface {
		Send(ctx context.Context, msg notifications.Message) error
	}

	// EventSink receives the user-facing outcome of an issuance.
	EventSink interface {
		CertificateIssued(userID uuid.UUID, courseID, code string)
		CertificateFailed(userID uuid.UUID, courseID string)
	}
)

type IssuerConfig struct {
	Institution     Institution
	PersistAttempts int
	PersistTimeout  time.Duration
	// CodeLookupTimeout bounds all uniqueness checks of one issuance.
	CodeLookupTimeout time.Duration
}

type IssuerOption func(*Issuer)

func WithRecordStore(s RecordStore) IssuerOption     { return func(i *Issuer) { i.store = s } }
func WithArtifactStore(s ArtifactStore) IssuerOption { return func(i *Issuer) { i.artifacts = s } }
func WithMailer(m Mailer) IssuerOption               { return func(i *Issuer) { i.mailer = m } }
func WithEventSink(e EventSink) IssuerOption         { return func(i *Issuer) { i.events = e } }
func WithClock(now func() time.Time) IssuerOption    { return func(i *Issuer) { i.now = now } }

// Issuer turns a CertificateRequest into a rendered certificate. Recording,
// uploading and emailing happen afterwards in the background and never
// affect the returned certificate.
type Issuer struct {
	renderer  Renderer
	text      *i18n.Translator
	cfg       IssuerConfig
	log       zerolog.Logger
	store     RecordStore
	artifacts ArtifactStore
	mailer    Mailer
	events    EventSink
	now       func() time.Time

	wg sync.WaitGroup
}

func NewIssuer(renderer Renderer, text *i18n.Translator, cfg IssuerConfig, logger zerolog.Logger, opts ...IssuerOption) *Issuer {
	if cfg.PersistAttempts < 1 {
		cfg.PersistAttempts = 1
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.CodeLookupTimeout <= 0 {
		cfg.CodeLookupTimeout = 2 * time.Second
	}
	i := &Issuer{
		renderer: renderer,
		text:     text,
		cfg:      cfg,
		log:      logger.With().Str("component", "certificate-issuer").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) Issue(ctx context.Context, req CertificateRequest) (*IssuedCertificate, error) {
	issuedAt := i.now().UTC()

	var pdf []byte
	code, err := i.authCode(ctx, req)
	if err == nil {
		doc := composeDocument(i.text, i.cfg.Institution, req, code, issuedAt)
		pdf, err = i.renderer.Render(ctx, doc)
		if err == nil && len(pdf) == 0 {
			err = errors.New("renderer returned an empty document")
		}
	}
	if err != nil {
		metrics.RenderFailures.Inc()
		i.log.Error().Err(err).
			Str("course_id", req.CourseID).
			Str("code", code).
			Msg("certificate render failed")
		if req.UserID != nil && i.events != nil {
			i.events.CertificateFailed(*req.UserID, req.CourseID)
		}
		return nil, errors.Wrap(ErrRender, err.Error())
	}

	issued := &IssuedCertificate{
		Code:     code,
		PDF:      pdf,
		DataURI:  DataURI(pdf),
		IssuedAt: issuedAt,
	}
	metrics.CertificatesIssued.Inc()
	i.log.Info().
		Str("course_id", req.CourseID).
		Str("code", code).
		Bool("recorded", req.UserID != nil && i.store != nil).
		Msg("certificate issued")

	if req.UserID != nil && i.events != nil {
		i.events.CertificateIssued(*req.UserID, req.CourseID, code)
	}
	issued.Done = i.dispatch(ctx, req, issued)
	return issued, nil
}

// Wait blocks until every background dispatch has finished. It is meant for
// shutdown, after no more Issue calls can start.
func (i *Issuer) Wait() {
	i.wg.Wait()
}

// authCode only consults the store when the issuance will be recorded. A
// failed or timed out uniqueness check is logged and the candidate kept;
// only a broken random source is an error.
func (i *Issuer) authCode(ctx context.Context, req CertificateRequest) (string, error) {
	var exists utils.CodeExistsFunc
	if req.UserID != nil && i.store != nil {
		exists = i.store.CodeExists
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.CodeLookupTimeout)
		defer cancel()
	}

	code, err := utils.GenerateUniqueAuthCode(ctx, exists)
	if code == "" {
		return "", errors.Wrap(err, "generate authentication code")
	}
	if err != nil {
		i.log.Warn().Err(err).Str("code", code).Msg("authentication code not verified as unique")
	}
	return code, nil
}

// dispatch starts the background work of one issuance. When the issuance is
// recorded, the email waits for the record and is skipped if it failed, so a
// retried issuance does not mail the student twice.
func (i *Issuer) dispatch(ctx context.Context, req CertificateRequest, issued *IssuedCertificate) <-chan struct{} {
	done := make(chan struct{})
	record := req.UserID != nil && i.store != nil
	mail := req.StudentEmail != "" && i.mailer != nil
	if !record && !mail {
		close(done)
		return done
	}

	ctx = context.WithoutCancel(ctx)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer close(done)
		if record && !i.record(ctx, req, issued) {
			if mail {
				i.log.Warn().Str("code", issued.Code).Msg("certificate email skipped, record not persisted")
			}
			return
		}
		if mail {
			i.mail(ctx, req, issued)
		}
	}()
	return done
}

func (i *Issuer) record(ctx context.Context, req CertificateRequest, issued *IssuedCertificate) bool {
	log := i.log.With().
		Str("user_id", req.UserID.String()).
		Str("course_id", req.CourseID).
		Str("code", issued.Code).
		Logger()

	cert := &models.Certificate{
		UserID:             *req.UserID,
		CourseID:           req.CourseID,
		AuthenticationCode: issued.Code,
		StudentName:        req.StudentName,
		CourseName:         req.CourseName,
		CompletionDate:     req.CompletionDate,
		IssuedAt:           issued.IssuedAt,
	}

	if i.artifacts != nil {
		uctx, cancel := context.WithTimeout(ctx, i.cfg.PersistTimeout)
		ref, err := i.artifacts.Put(uctx, artifactKey(req, issued.Code), issued.PDF)
		cancel()
		if err != nil {
			metrics.ArtifactUploadFailures.Inc()
			log.Warn().Err(err).Msg("certificate artifact upload failed")
		} else {
			cert.ArtifactReference = &ref
		}
	}

	var err error
	for attempt := 1; attempt <= i.cfg.PersistAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, i.cfg.PersistTimeout)
		err = i.store.InsertCertificate(pctx, cert)
		cancel()
		if err == nil {
			return true
		}
		if attempt < i.cfg.PersistAttempts {
			log.Warn().Err(err).Int("attempt", attempt).Msg("certificate record insert failed, retrying")
		}
	}
	metrics.PersistFailures.Inc()
	log.Error().Err(err).Msg("certificate record not persisted")
	return false
}

func (i *Issuer) mail(ctx context.Context, req CertificateRequest, issued *IssuedCertificate) {
	locale := i.text.Locale(req.Locale)
	data := map[string]any{
		"Name":   html.EscapeString(req.StudentName),
		"Course": html.EscapeString(req.CourseName),
		"Code":   issued.Code,
	}
	msg := notifications.Message{
		ToName:      req.StudentName,
		ToEmail:     req.StudentEmail,
		Subject:     i.text.T(locale, i18n.EmailSubject, map[string]any{"Course": req.CourseName}),
		HTMLContent: i.text.T(locale, i18n.EmailBody, data),
		Attachments: []notifications.Attachment{
			{Name: "certificate-" + issued.Code + ".pdf", Content: issued.PDF},
		},
	}

	mctx, cancel := context.WithTimeout(ctx, i.cfg.PersistTimeout)
	defer cancel()
	if err := i.mailer.Send(mctx, msg); err != nil {
		i.log.Warn().Err(err).Str("code", issued.Code).Msg("certificate email not sent")
	}
}

// DataURI embeds a PDF so browsers can display or download it directly.
func DataURI(pdf []byte) string {
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf)
}

func artifactKey(req CertificateRequest, code string) string {
	return fmt.Sprintf("%s/%s_%s.pdf", url.PathEscape(req.CourseID), req.UserID.String(), code)
}
