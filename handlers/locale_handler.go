package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/treinanr/academy/i18n"
)

type LocaleHandler struct {
	text *i18n.Translator
}

func NewLocaleHandler(text *i18n.Translator) *LocaleHandler {
	return &LocaleHandler{text: text}
}

// GetLocale serves the certificate labels of one language so front ends can
// preview a certificate before issuing it.
func (h *LocaleHandler) GetLocale(c *fiber.Ctx) error {
	lang := c.Params("lang")
	if !h.text.Supported(lang) {
		return fiber.NewError(fiber.StatusNotFound, "Language file not found")
	}
	return c.JSON(h.text.Messages(lang))
}
