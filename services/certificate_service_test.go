package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treinanr/academy/i18n"
	"github.com/treinanr/academy/metrics"
	"github.com/treinanr/academy/models"
	"github.com/treinanr/academy/notifications"
)

// --- stubs ---

type stubStore struct {
	mu          sync.Mutex
	insertErrs  []error // consumed one per insert; nil entries succeed
	existsSeq   []bool
	existsErr   error
	inserted    []models.Certificate
	insertCalls int
	existsCalls int
}

func (s *stubStore) InsertCertificate(_ context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	s.inserted = append(s.inserted, *cert)
	return nil
}

func (s *stubStore) CodeExists(context.Context, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsCalls++
	if s.existsErr != nil {
		return false, s.existsErr
	}
	if len(s.existsSeq) > 0 {
		taken := s.existsSeq[0]
		s.existsSeq = s.existsSeq[1:]
		return taken, nil
	}
	return false, nil
}

func (s *stubStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls + s.existsCalls
}

type failingRenderer struct{ err error }

func (r failingRenderer) Render(context.Context, CertificateDocument) ([]byte, error) {
	return nil, r.err
}

type capturingRenderer struct {
	mu   sync.Mutex
	docs []CertificateDocument
}

func (r *capturingRenderer) Render(_ context.Context, doc CertificateDocument) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return []byte("%PDF-1.3 stub"), nil
}

type stubArtifacts struct {
	ref  string
	err  error
	keys []string
}

func (s *stubArtifacts) Put(_ context.Context, key string, pdf []byte) (string, error) {
	s.keys = append(s.keys, key)
	return s.ref, s.err
}

type stubMailer struct {
	err  error
	sent []notifications.Message
}

func (m *stubMailer) Send(_ context.Context, msg notifications.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type stubEvents struct {
	mu     sync.Mutex
	issued []string
	failed []string
}

func (e *stubEvents) CertificateIssued(_ uuid.UUID, courseID, code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.issued = append(e.issued, courseID+":"+code)
}

func (e *stubEvents) CertificateFailed(_ uuid.UUID, courseID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, courseID)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// --- helpers ---

func newTestIssuer(t *testing.T, renderer Renderer, logs *syncBuffer, opts ...IssuerOption) *Issuer {
	t.Helper()
	text, err := i18n.NewTranslator("pt-BR")
	require.NoError(t, err)

	logger := zerolog.Nop()
	if logs != nil {
		logger = zerolog.New(logs)
	}
	if renderer == nil {
		renderer = NewPDFRenderer(false)
	}
	cfg := IssuerConfig{
		Institution:     Institution{Name: "Academy", SignatoryName: "Maria Souza"},
		PersistAttempts: 1,
		PersistTimeout:  time.Second,
	}
	return NewIssuer(renderer, text, cfg, logger, opts...)
}

func exampleRequest() CertificateRequest {
	return CertificateRequest{
		StudentName:    "Ana Silva",
		CourseName:     "NR 35 - Trabalho em Altura",
		CompletionDate: "01/01/2024",
		CourseID:       "1",
	}
}

func withUser(req CertificateRequest) CertificateRequest {
	id := uuid.New()
	req.UserID = &id
	return req
}

func decodeDataURI(t *testing.T, uri string) []byte {
	t.Helper()
	const prefix = "data:application/pdf;base64,"
	require.True(t, strings.HasPrefix(uri, prefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	require.NoError(t, err)
	return raw
}

// --- tests ---

func TestIssue_Example_NoPersistence(t *testing.T) {
	store := &stubStore{}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store))

	cert, err := issuer.Issue(context.Background(), exampleRequest())
	issuer.Wait()
	require.NoError(t, err)
	require.NotNil(t, cert)

	pdf := decodeDataURI(t, cert.DataURI)
	assert.Equal(t, cert.PDF, pdf)
	assert.True(t, bytes.Contains(pdf, pdfString("Ana Silva")))
	assert.True(t, bytes.Contains(pdf, pdfString("NR 35 - Trabalho em Altura")))
	assert.True(t, bytes.Contains(pdf, pdfString("01/01/2024")))
	assert.True(t, bytes.Contains(pdf, pdfString(cert.Code)))

	assert.Zero(t, store.calls(), "no storage call without a user id")
}

func TestIssue_CodesDiffer(t *testing.T) {
	issuer := newTestIssuer(t, nil, nil)

	first, err := issuer.Issue(context.Background(), exampleRequest())
	require.NoError(t, err)
	second, err := issuer.Issue(context.Background(), exampleRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.Code, second.Code)
	assert.Len(t, first.Code, 10)
}

func TestIssue_RecordsWithUser(t *testing.T) {
	store := &stubStore{}
	events := &stubEvents{}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store), WithEventSink(events))
	req := withUser(exampleRequest())

	cert, err := issuer.Issue(context.Background(), req)
	require.NoError(t, err)
	issuer.Wait()

	require.Len(t, store.inserted, 1)
	rec := store.inserted[0]
	assert.Equal(t, *req.UserID, rec.UserID)
	assert.Equal(t, "1", rec.CourseID)
	assert.Equal(t, cert.Code, rec.AuthenticationCode)
	assert.Equal(t, "Ana Silva", rec.StudentName)
	assert.Equal(t, cert.IssuedAt, rec.IssuedAt)
	assert.Nil(t, rec.ArtifactReference)
	assert.Equal(t, 1, store.existsCalls)
	assert.Equal(t, []string{"1:" + cert.Code}, events.issued)
}

func TestIssue_PersistenceFailureIsSwallowed(t *testing.T) {
	logs := &syncBuffer{}
	store := &stubStore{insertErrs: []error{errors.New("connection reset by peer")}}
	issuer := newTestIssuer(t, nil, logs, WithRecordStore(store))
	before := testutil.ToFloat64(metrics.PersistFailures)

	cert, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
	require.NoError(t, err)
	require.NotEmpty(t, cert.DataURI)
	issuer.Wait()

	assert.Equal(t, 1, store.insertCalls)
	assert.Empty(t, store.inserted)
	assert.Contains(t, logs.String(), "certificate record not persisted")
	assert.Contains(t, logs.String(), "connection reset by peer")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PersistFailures))
}

func TestIssue_PersistRetries(t *testing.T) {
	store := &stubStore{insertErrs: []error{errors.New("timeout"), nil}}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store))
	issuer.cfg.PersistAttempts = 3

	_, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
	require.NoError(t, err)
	issuer.Wait()

	assert.Equal(t, 2, store.insertCalls)
	assert.Len(t, store.inserted, 1)
}

func TestIssue_CodeLookupFailureDoesNotBlock(t *testing.T) {
	logs := &syncBuffer{}
	store := &stubStore{existsErr: errors.New("database is down"), insertErrs: []error{errors.New("database is down")}}
	issuer := newTestIssuer(t, nil, logs, WithRecordStore(store))

	cert, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
	require.NoError(t, err)
	issuer.Wait()

	assert.Len(t, cert.Code, 10)
	assert.Contains(t, logs.String(), "authentication code not verified as unique")
}

func TestIssue_CodeCollisionRedraws(t *testing.T) {
	store := &stubStore{existsSeq: []bool{true, true, false}}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store))

	_, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
	require.NoError(t, err)
	issuer.Wait()

	assert.Equal(t, 3, store.existsCalls)
}

func TestIssue_RenderFailure(t *testing.T) {
	logs := &syncBuffer{}
	store := &stubStore{}
	events := &stubEvents{}
	renderErr := errors.New("font not found")
	issuer := newTestIssuer(t, failingRenderer{err: renderErr}, logs, WithRecordStore(store), WithEventSink(events))
	before := testutil.ToFloat64(metrics.RenderFailures)

	cert, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
	issuer.Wait()

	assert.Nil(t, cert)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRender)
	assert.Equal(t, ErrRender, errors.Cause(err))
	assert.Contains(t, err.Error(), "font not found")

	assert.Empty(t, store.inserted)
	assert.Equal(t, []string{"1"}, events.failed)
	assert.Empty(t, events.issued)
	assert.Equal(t, 1, strings.Count(logs.String(), "certificate render failed"))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RenderFailures))
}

func TestIssue_OneLogLinePerCall(t *testing.T) {
	logs := &syncBuffer{}
	issuer := newTestIssuer(t, nil, logs)

	_, err := issuer.Issue(context.Background(), exampleRequest())
	require.NoError(t, err)
	issuer.Wait()

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "certificate issued")
}

func TestIssue_ArtifactReference(t *testing.T) {
	store := &stubStore{}
	artifacts := &stubArtifacts{ref: "https://cdn.example.com/cert.pdf"}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store), WithArtifactStore(artifacts))
	req := withUser(exampleRequest())

	cert, err := issuer.Issue(context.Background(), req)
	require.NoError(t, err)
	issuer.Wait()

	require.Len(t, store.inserted, 1)
	require.NotNil(t, store.inserted[0].ArtifactReference)
	assert.Equal(t, "https://cdn.example.com/cert.pdf", *store.inserted[0].ArtifactReference)
	assert.Equal(t, []string{"1/" + req.UserID.String() + "_" + cert.Code + ".pdf"}, artifacts.keys)
}

func TestIssue_ArtifactUploadFailureStillRecords(t *testing.T) {
	store := &stubStore{}
	artifacts := &stubArtifacts{err: errors.New("quota exceeded")}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store), WithArtifactStore(artifacts))

	_, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
	require.NoError(t, err)
	issuer.Wait()

	require.Len(t, store.inserted, 1)
	assert.Nil(t, store.inserted[0].ArtifactReference)
}

func TestIssue_Email(t *testing.T) {
	mailer := &stubMailer{err: errors.New("smtp down")}
	issuer := newTestIssuer(t, nil, nil, WithMailer(mailer))
	req := exampleRequest()
	req.StudentEmail = "ana@example.com"
	req.StudentName = "Ana <Silva>"

	cert, err := issuer.Issue(context.Background(), req)
	require.NoError(t, err)
	issuer.Wait()

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "ana@example.com", msg.ToEmail)
	assert.Equal(t, "Seu certificado do curso NR 35 - Trabalho em Altura", msg.Subject)
	assert.Contains(t, msg.HTMLContent, cert.Code)
	assert.Contains(t, msg.HTMLContent, "Ana &lt;Silva&gt;")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, cert.PDF, msg.Attachments[0].Content)
}

func TestIssue_ComposesLocalizedDocument(t *testing.T) {
	renderer := &capturingRenderer{}
	issuer := newTestIssuer(t, renderer, nil)

	req := exampleRequest()
	req.Locale = "en"
	req.Workload = 8
	cert, err := issuer.Issue(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, renderer.docs, 1)
	doc := renderer.docs[0]
	assert.Equal(t, "en", doc.Locale)
	assert.Equal(t, "CERTIFICATE OF COMPLETION", doc.Title)
	assert.Equal(t, "completed on 01/01/2024, with a workload of 8 hours", doc.DateLine)
	assert.Equal(t, "Authentication code: "+cert.Code, doc.CodeLine)
	assert.Equal(t, "Director", doc.SignatoryTitle)
	assert.Equal(t, "Maria Souza", doc.SignatoryName)

	req.Locale = "fr"
	_, err = issuer.Issue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", renderer.docs[1].Locale)
}

func TestIssue_Concurrent(t *testing.T) {
	store := &stubStore{}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store))

	const n = 8
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cert, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
			if assert.NoError(t, err) {
				codes <- cert.Code
			}
		}()
	}
	wg.Wait()
	issuer.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		assert.False(t, seen[c])
		seen[c] = true
	}
	assert.Len(t, store.inserted, n)
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:application/pdf;base64,JVBERg==", DataURI([]byte("%PDF")))
}

type hangingStore struct {
	stubStore
}

func (s *hangingStore) CodeExists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestIssue_HungCodeLookupDoesNotBlock(t *testing.T) {
	logs := &syncBuffer{}
	store := &hangingStore{}
	issuer := newTestIssuer(t, nil, logs, WithRecordStore(store))
	issuer.cfg.CodeLookupTimeout = 50 * time.Millisecond

	type result struct {
		cert *IssuedCertificate
		err  error
	}
	out := make(chan result, 1)
	go func() {
		cert, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
		out <- result{cert, err}
	}()

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Len(t, r.cert.Code, 10)
		assert.NotEmpty(t, r.cert.DataURI)
	case <-time.After(2 * time.Second):
		t.Fatal("Issue blocked on the code lookup")
	}
	issuer.Wait()

	assert.Contains(t, logs.String(), "authentication code not verified as unique")
	require.Len(t, store.inserted, 1)
}

func TestIssue_DoneClosesAfterBackgroundWork(t *testing.T) {
	store := &stubStore{}
	issuer := newTestIssuer(t, nil, nil, WithRecordStore(store))

	cert, err := issuer.Issue(context.Background(), withUser(exampleRequest()))
	require.NoError(t, err)
	require.NotNil(t, cert.Done)

	select {
	case <-cert.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed")
	}
	store.mu.Lock()
	assert.Len(t, store.inserted, 1)
	store.mu.Unlock()

	anonymous, err := issuer.Issue(context.Background(), exampleRequest())
	require.NoError(t, err)
	select {
	case <-anonymous.Done:
	default:
		t.Fatal("Done should already be closed when nothing runs in the background")
	}
}

func TestIssue_EmailSkippedWhenRecordFails(t *testing.T) {
	logs := &syncBuffer{}
	store := &stubStore{insertErrs: []error{errors.New("db down")}}
	mailer := &stubMailer{}
	issuer := newTestIssuer(t, nil, logs, WithRecordStore(store), WithMailer(mailer))
	req := withUser(exampleRequest())
	req.StudentEmail = "ana@example.com"

	_, err := issuer.Issue(context.Background(), req)
	require.NoError(t, err)
	issuer.Wait()

	assert.Empty(t, mailer.sent)
	assert.Contains(t, logs.String(), "certificate email skipped")

	store.insertErrs = nil
	_, err = issuer.Issue(context.Background(), req)
	require.NoError(t, err)
	issuer.Wait()
	assert.Len(t, mailer.sent, 1)
}
