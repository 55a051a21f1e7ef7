// Package i18n holds the wording printed on certificates and sent in
// certificate emails, in every supported language.
package i18n

import (
	"embed"
	"io/fs"
	"path"
	"time"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Message IDs
const (
	CertificateTitle       = "certificate_title"
	CertificateIntro       = "certificate_intro"
	CertificateCourseIntro = "certificate_course_intro"
	CertificateCompletedOn = "certificate_completed_on"
	CertificateWorkload    = "certificate_workload"
	CertificateSignatory   = "certificate_signatory"
	CertificateAuthCode    = "certificate_auth_code"
	EmailSubject           = "certificate_email_subject"
	EmailBody              = "certificate_email_body"
	DateLayout             = "date_layout"
)

var messageIDs = []string{
	CertificateTitle, CertificateIntro, CertificateCourseIntro, CertificateCompletedOn,
	CertificateWorkload, CertificateSignatory, CertificateAuthCode, EmailSubject, EmailBody,
	DateLayout,
}

// Translator is safe for concurrent use once constructed.
type Translator struct {
	bundle   *goi18n.Bundle
	fallback string
}

// NewTranslator loads the embedded locale files. fallback is used for
// requests that name no locale or one that is not supported.
func NewTranslator(fallback string) (*Translator, error) {
	bundle := goi18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, errors.Wrap(err, "read locales")
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile(path.Join("locales", f.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read locale %s", f.Name())
		}
		if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
			return nil, errors.Wrapf(err, "parse locale %s", f.Name())
		}
	}

	t := &Translator{bundle: bundle, fallback: fallback}
	if !t.Supported(fallback) {
		return nil, errors.Errorf("unsupported default locale %q", fallback)
	}
	return t, nil
}

// Supported reports whether a locale file exists for the given tag.
func (t *Translator) Supported(locale string) bool {
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	for _, known := range t.bundle.LanguageTags() {
		if known == tag {
			return true
		}
	}
	return false
}

// Locale resolves an optional requested locale to the one that will be used.
func (t *Translator) Locale(requested string) string {
	if requested != "" && t.Supported(requested) {
		return requested
	}
	return t.fallback
}

// T localizes a message. Unknown IDs come back unchanged.
func (t *Translator) T(locale, messageID string, data map[string]any) string {
	localizer := goi18n.NewLocalizer(t.bundle, t.Locale(locale), t.fallback)
	msg, err := localizer.Localize(&goi18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// FormatDate formats d with the locale's date layout.
func (t *Translator) FormatDate(locale string, d time.Time) string {
	return d.Format(t.T(locale, DateLayout, nil))
}

// Messages returns every message in the given locale, with template
// arguments left as {date}, {hours}, {code}, {course} and {name} for
// client-side interpolation.
func (t *Translator) Messages(locale string) map[string]string {
	out := make(map[string]string, len(messageIDs))
	for _, id := range messageIDs {
		out[id] = t.T(locale, id, placeholders)
	}
	return out
}

var placeholders = map[string]any{
	"Date":   "{date}",
	"Hours":  "{hours}",
	"Code":   "{code}",
	"Course": "{course}",
	"Name":   "{name}",
}
