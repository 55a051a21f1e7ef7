package services

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
)

//go:embed templates/certificate.html
var templateFS embed.FS

// A4 landscape, inches.
const (
	paperWidthIn  = 11.69
	paperHeightIn = 8.27
)

// HTMLRenderer fills an HTML template and prints it to PDF in headless
// Chrome. It needs a Chrome or Chromium binary on the host.
type HTMLRenderer struct {
	tmpl    *template.Template
	timeout time.Duration
}

func NewHTMLRenderer(timeout time.Duration) (*HTMLRenderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/certificate.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse certificate template")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTMLRenderer{tmpl: tmpl, timeout: timeout}, nil
}

func (r *HTMLRenderer) Render(ctx context.Context, doc CertificateDocument) ([]byte, error) {
	htmlContent, err := r.renderHTML(doc)
	if err != nil {
		return nil, err
	}
	return r.printToPDF(ctx, htmlContent)
}

func (r *HTMLRenderer) renderHTML(doc CertificateDocument) (string, error) {
	var rendered bytes.Buffer
	if err := r.tmpl.Execute(&rendered, doc); err != nil {
		return "", errors.Wrap(err, "execute certificate template")
	}
	return rendered.String(), nil
}

func (r *HTMLRenderer) printToPDF(ctx context.Context, htmlContent string) ([]byte, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, r.timeout)
	defer cancelTimeout()
	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	var pdfBuffer []byte
	err := chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, htmlContent).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			pdf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(true).
				WithPaperWidth(paperWidthIn).
				WithPaperHeight(paperHeightIn).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				Do(ctx)
			if err != nil {
				return err
			}
			pdfBuffer = pdf
			return nil
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "print certificate")
	}
	return pdfBuffer, nil
}
