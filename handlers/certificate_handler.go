package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/treinanr/academy/database"
	"github.com/treinanr/academy/middleware"
	"github.com/treinanr/academy/models"
	"github.com/treinanr/academy/services"
	"github.com/treinanr/academy/utils"
)

var validate = validator.New()

type CertificateIssuer interface {
	Issue(ctx context.Context, req services.CertificateRequest) (*services.IssuedCertificate, error)
}

type CertificateReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Certificate, error)
	FindByCode(ctx context.Context, code string) (*models.Certificate, error)
}

type IssueCertificateRequest struct {
	StudentName    string `json:"student_name" validate:"required,max=200"`
	CourseName     string `json:"course_name" validate:"required,max=200"`
	CompletionDate string `json:"completion_date" validate:"required,max=40"`
	CourseID       string `json:"course_id" validate:"required,max=64"`
	StudentEmail   string `json:"student_email,omitempty" validate:"omitempty,email"`
	Locale         string `json:"locale,omitempty" validate:"omitempty,oneof=en pt-BR es"`
	Workload       int    `json:"workload,omitempty" validate:"gte=0,lte=10000"`
}

type IssueCertificateResponse struct {
	AuthenticationCode string    `json:"authentication_code"`
	DataURI            string    `json:"data_uri"`
	IssuedAt           time.Time `json:"issued_at"`
}

type CertificateResponse struct {
	AuthenticationCode string    `json:"authentication_code"`
	CourseID           string    `json:"course_id"`
	CourseName         string    `json:"course_name"`
	StudentName        string    `json:"student_name"`
	CompletionDate     string    `json:"completion_date"`
	ArtifactURL        *string   `json:"artifact_url"`
	IssuedAt           time.Time `json:"issued_at"`
}

type VerificationResponse struct {
	Valid          bool      `json:"valid"`
	StudentName    string    `json:"student_name"`
	CourseName     string    `json:"course_name"`
	CompletionDate string    `json:"completion_date"`
	IssuedAt       time.Time `json:"issued_at"`
}

type CertificateHandler struct {
	issuer CertificateIssuer
	reader CertificateReader
	log    zerolog.Logger
}

func NewCertificateHandler(issuer CertificateIssuer, reader CertificateReader, logger zerolog.Logger) *CertificateHandler {
	return &CertificateHandler{
		issuer: issuer,
		reader: reader,
		log:    logger.With().Str("component", "certificate-handler").Logger(),
	}
}

// Issue renders a certificate for the authenticated user. With ?format=pdf
// the PDF itself is returned instead of the JSON envelope.
func (h *CertificateHandler) Issue(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Token does not identify a user")
	}

	var req IssueCertificateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}
	req.StudentName = strings.TrimSpace(req.StudentName)
	req.CourseName = strings.TrimSpace(req.CourseName)
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	issued, err := h.issuer.Issue(c.UserContext(), services.CertificateRequest{
		StudentName:    req.StudentName,
		CourseName:     req.CourseName,
		CompletionDate: req.CompletionDate,
		CourseID:       req.CourseID,
		UserID:         &userID,
		StudentEmail:   req.StudentEmail,
		Locale:         req.Locale,
		Workload:       req.Workload,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to generate certificate")
	}

	if c.Query("format") == "pdf" {
		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="certificate-`+issued.Code+`.pdf"`)
		return c.Status(fiber.StatusCreated).Send(issued.PDF)
	}
	return c.Status(fiber.StatusCreated).JSON(IssueCertificateResponse{
		AuthenticationCode: issued.Code,
		DataURI:            issued.DataURI,
		IssuedAt:           issued.IssuedAt,
	})
}

func (h *CertificateHandler) ListMine(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Token does not identify a user")
	}

	certs, err := h.reader.ListByUser(c.UserContext(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("list certificates")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load certificates")
	}

	out := make([]CertificateResponse, 0, len(certs))
	for _, cert := range certs {
		out = append(out, CertificateResponse{
			AuthenticationCode: cert.AuthenticationCode,
			CourseID:           cert.CourseID,
			CourseName:         cert.CourseName,
			StudentName:        cert.StudentName,
			CompletionDate:     cert.CompletionDate,
			ArtifactURL:        cert.ArtifactReference,
			IssuedAt:           cert.IssuedAt,
		})
	}
	return c.JSON(out)
}

// Verify is public: anyone holding a printed certificate can check its code.
func (h *CertificateHandler) Verify(c *fiber.Ctx) error {
	// Params aliases the request buffer, which fiber reuses.
	code := strings.ToUpper(strings.TrimSpace(fiberutils.CopyString(c.Params("code"))))
	if !utils.IsAuthCode(code) {
		return fiber.NewError(fiber.StatusNotFound, "Certificate not found")
	}

	cert, err := h.reader.FindByCode(c.UserContext(), code)
	if errors.Is(err, database.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Certificate not found")
	}
	if err != nil {
		h.log.Error().Err(err).Str("code", code).Msg("verify certificate")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to verify certificate")
	}

	return c.JSON(VerificationResponse{
		Valid:          true,
		StudentName:    cert.StudentName,
		CourseName:     cert.CourseName,
		CompletionDate: cert.CompletionDate,
		IssuedAt:       cert.IssuedAt,
	})
}
