package services

import (
	"bytes"
	"context"
	"embed"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"
)

// A4 landscape, millimetres.
const (
	pageWidth  = 297.0
	pageHeight = 210.0

	outerBorderInset = 8.0
	innerBorderInset = 12.0
	maxTextWidth     = pageWidth - 2*30.0
	minFontSize      = 10.0

	markWidth  = 110.0
	markHeight = 14.0
	markY      = 20.0

	titleY       = 58.0
	introY       = 78.0
	studentY     = 96.0
	courseIntroY = 112.0
	courseY      = 126.0
	dateY        = 138.0

	signatureY     = 172.0
	signatureWidth = 80.0
	codeY          = pageHeight - 14.0
)

const fontFamily = "DejaVu"

//go:embed fonts/*.ttf
var fontFS embed.FS

var fontFiles = map[string]string{
	"":   "fonts/DejaVuSansCondensed.ttf",
	"B":  "fonts/DejaVuSansCondensed-Bold.ttf",
	"I":  "fonts/DejaVuSansCondensed-Oblique.ttf",
	"BI": "fonts/DejaVuSansCondensed-BoldOblique.ttf",
}

type rgb struct{ r, g, b int }

var (
	colorBackground = rgb{252, 250, 245}
	colorNavy       = rgb{22, 54, 100}
	colorGold       = rgb{184, 146, 60}
	colorText       = rgb{51, 51, 51}
	colorWhite      = rgb{255, 255, 255}
)

// PDFRenderer lays the certificate out with vector primitives and an
// embedded Unicode font, so names in any script keep their letters.
type PDFRenderer struct {
	compress bool
}

func NewPDFRenderer(compress bool) *PDFRenderer {
	return &PDFRenderer{compress: compress}
}

func (r *PDFRenderer) Render(ctx context.Context, doc CertificateDocument) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor(doc.Institution, true)
	pdf.SetSubject(doc.CourseName, true)
	if !doc.IssuedAt.IsZero() {
		pdf.SetCreationDate(doc.IssuedAt)
	}
	for style, name := range fontFiles {
		ttf, err := fontFS.ReadFile(name)
		if err != nil {
			return nil, errors.Wrapf(err, "read font %s", name)
		}
		pdf.AddUTF8FontFromBytes(fontFamily, style, ttf)
	}
	pdf.AddPage()

	p := &sheet{pdf: pdf}

	p.decorate()
	p.institutionMark(doc.Institution)

	p.centered(titleY, "B", 30, colorNavy, doc.Title)
	p.centered(introY, "", 14, colorText, doc.Intro)
	p.centered(studentY, "BI", 32, colorText, doc.StudentName)
	p.centered(courseIntroY, "", 14, colorText, doc.CourseIntro)
	p.centered(courseY, "B", 20, colorNavy, doc.CourseName)
	p.centered(dateY, "", 13, colorText, doc.DateLine)

	p.signature(doc.SignatoryName, doc.SignatoryTitle)
	p.code(doc.CodeLine)

	if pdf.Err() {
		return nil, errors.Wrap(pdf.Error(), "layout certificate")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "write certificate")
	}
	return buf.Bytes(), nil
}

type sheet struct {
	pdf *fpdf.Fpdf
}

func (p *sheet) decorate() {
	p.pdf.SetFillColor(colorBackground.r, colorBackground.g, colorBackground.b)
	p.pdf.Rect(0, 0, pageWidth, pageHeight, "F")

	p.pdf.SetDrawColor(colorNavy.r, colorNavy.g, colorNavy.b)
	p.pdf.SetLineWidth(2)
	p.pdf.Rect(outerBorderInset, outerBorderInset, pageWidth-2*outerBorderInset, pageHeight-2*outerBorderInset, "D")

	p.pdf.SetDrawColor(colorGold.r, colorGold.g, colorGold.b)
	p.pdf.SetLineWidth(0.6)
	p.pdf.Rect(innerBorderInset, innerBorderInset, pageWidth-2*innerBorderInset, pageHeight-2*innerBorderInset, "D")
}

func (p *sheet) institutionMark(name string) {
	x := (pageWidth - markWidth) / 2
	p.pdf.SetFillColor(colorNavy.r, colorNavy.g, colorNavy.b)
	p.pdf.Rect(x, markY, markWidth, markHeight, "F")
	p.pdf.SetFillColor(colorGold.r, colorGold.g, colorGold.b)
	p.pdf.Rect(x, markY+markHeight, markWidth, 1.2, "F")

	if name == "" {
		return
	}
	size := p.fit("B", 12, name, markWidth-8)
	p.pdf.SetTextColor(colorWhite.r, colorWhite.g, colorWhite.b)
	w := p.pdf.GetStringWidth(name)
	// baseline roughly at the vertical middle of the block
	p.pdf.Text(x+(markWidth-w)/2, markY+markHeight/2+size*0.35/2, name)
}

// centered writes s horizontally centered on baseline y, shrinking the font
// when the line would not fit between the borders.
func (p *sheet) centered(y float64, style string, size float64, color rgb, s string) {
	if s == "" {
		return
	}
	p.fit(style, size, s, maxTextWidth)
	p.pdf.SetTextColor(color.r, color.g, color.b)
	w := p.pdf.GetStringWidth(s)
	p.pdf.Text((pageWidth-w)/2, y, s)
}

func (p *sheet) signature(name, title string) {
	x := (pageWidth - signatureWidth) / 2
	p.pdf.SetDrawColor(colorText.r, colorText.g, colorText.b)
	p.pdf.SetLineWidth(0.3)
	p.pdf.Line(x, signatureY, x+signatureWidth, signatureY)

	captionY := signatureY + 6
	if name != "" {
		p.centered(captionY, "B", 11, colorText, name)
		captionY += 5
	}
	p.centered(captionY, "", 10, colorText, title)
}

func (p *sheet) code(line string) {
	p.pdf.SetFont(fontFamily, "", 9)
	p.pdf.SetTextColor(colorText.r, colorText.g, colorText.b)
	w := p.pdf.GetStringWidth(line)
	p.pdf.Text(pageWidth-innerBorderInset-4-w, codeY, line)
}

// fit sets the largest font size not above size at which text is at most
// width wide, never going below minFontSize.
func (p *sheet) fit(style string, size float64, text string, width float64) float64 {
	for ; size > minFontSize; size-- {
		p.pdf.SetFont(fontFamily, style, size)
		if p.pdf.GetStringWidth(text) <= width {
			return size
		}
	}
	p.pdf.SetFont(fontFamily, style, minFontSize)
	return minFontSize
}
