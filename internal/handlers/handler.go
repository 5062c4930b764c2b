package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/latestcomment/expert-dialogue/internal/gateway"
	"github.com/latestcomment/expert-dialogue/internal/models"
	"github.com/latestcomment/expert-dialogue/internal/services"
)

type Handler struct {
	Sessions *services.SessionService
	Backends gateway.Set
	logger   *zap.Logger
}

func NewHandler(sessions *services.SessionService, backends gateway.Set, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Sessions: sessions, Backends: backends, logger: logger}
}

func (h *Handler) IndexPage(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"DefaultTurns": h.Sessions.Settings.DefaultTurns,
		"DefaultDelay": h.Sessions.Settings.DefaultDelaySeconds,
	})
}

type checkExpertsRequest struct {
	ExpertA string `json:"expertA"`
	ExpertB string `json:"expertB"`
}

// CheckExperts validates a pair without a session, mirroring the form's
// Validate action for API clients.
func (h *Handler) CheckExperts(c *fiber.Ctx) error {
	var req checkExpertsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body."})
	}
	a, b := strings.TrimSpace(req.ExpertA), strings.TrimSpace(req.ExpertB)
	if a == "" || b == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": services.StatusEnterExperts})
	}

	res, err := h.Sessions.Validator.Validate(c.UserContext(), a, b)
	if err != nil {
		h.logger.Error("expert check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": services.StatusValidationErr})
	}
	if !res.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   services.StatusNoPublications,
			"details": res.Details(),
		})
	}
	return c.JSON(fiber.Map{"ok": true})
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// OpenAIChat and ClaudeChat expose each backend as a one-prompt endpoint.
func (h *Handler) OpenAIChat(c *fiber.Ctx) error {
	return h.chat(c, models.BackendOpenAI)
}

func (h *Handler) ClaudeChat(c *fiber.Ctx) error {
	return h.chat(c, models.BackendClaude)
}

func (h *Handler) chat(c *fiber.Ctx, backend models.Backend) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body."})
	}

	text, err := h.Backends.Generate(c.UserContext(), backend, req.Prompt)
	if err != nil {
		if errors.Is(err, gateway.ErrMissingAPIKey) || errors.Is(err, gateway.ErrUnknownBackend) {
			h.logger.Error("backend misconfigured", zap.String("backend", string(backend)), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Server error."})
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		h.logger.Warn("backend call failed", zap.String("backend", string(backend)), zap.Error(err))
		text = ""
	}
	return c.JSON(fiber.Map{"text": text})
}

// Transcript returns the recorded turns of a session's current or last run.
func (h *Handler) Transcript(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id."})
	}
	sess, err := h.Sessions.GetSession(id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found."})
	}
	turns := sess.Transcript()
	if turns == nil {
		turns = []models.Turn{}
	}
	return c.JSON(fiber.Map{
		"session": sess.ID,
		"state":   sess.State(),
		"active":  sess.Active(),
		"turns":   turns,
	})
}
