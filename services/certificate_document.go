package services

import (
	"time"

	"github.com/treinanr/academy/i18n"
)

// CertificateDocument is the fully worded content of one certificate, ready
// for a Renderer. Every string is already localized.
type CertificateDocument struct {
	Locale   string
	Code     string
	IssuedAt time.Time

	Title       string
	Intro       string
	StudentName string
	CourseIntro string
	CourseName  string
	DateLine    string
	CodeLine    string

	Institution    string
	SignatoryName  string
	SignatoryTitle string
}

// Institution is the issuing organization printed on every certificate.
type Institution struct {
	Name           string
	SignatoryName  string
	SignatoryTitle string
}

func composeDocument(text *i18n.Translator, inst Institution, req CertificateRequest, code string, issuedAt time.Time) CertificateDocument {
	locale := text.Locale(req.Locale)

	dateLine := text.T(locale, i18n.CertificateCompletedOn, map[string]any{"Date": req.CompletionDate})
	if req.Workload > 0 {
		dateLine += ", " + text.T(locale, i18n.CertificateWorkload, map[string]any{"Hours": req.Workload})
	}

	signatoryTitle := inst.SignatoryTitle
	if signatoryTitle == "" {
		signatoryTitle = text.T(locale, i18n.CertificateSignatory, nil)
	}

	return CertificateDocument{
		Locale:   locale,
		Code:     code,
		IssuedAt: issuedAt,

		Title:       text.T(locale, i18n.CertificateTitle, nil),
		Intro:       text.T(locale, i18n.CertificateIntro, nil),
		StudentName: req.StudentName,
		CourseIntro: text.T(locale, i18n.CertificateCourseIntro, nil),
		CourseName:  req.CourseName,
		DateLine:    dateLine,
		CodeLine:    text.T(locale, i18n.CertificateAuthCode, map[string]any{"Code": code}),

		Institution:    inst.Name,
		SignatoryName:  inst.SignatoryName,
		SignatoryTitle: signatoryTitle,
	}
}
