package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/latestcomment/expert-dialogue/internal/models"
	"github.com/latestcomment/expert-dialogue/internal/services"
)

type WebSocketHandler struct {
	Service *services.SessionService
	logger  *zap.Logger
}

func NewWebSocketHandler(service *services.SessionService, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{Service: service, logger: logger}
}

func (h *WebSocketHandler) WebSocketMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket binds one socket to one conversation session for the
// lifetime of the connection.
func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	defer func() {
		_ = c.Close()
	}()

	client := models.NewClient(c)
	sess := h.Service.CreateSession(client)
	log := h.logger.With(zap.String("client", client.Id.String()), zap.String("session", sess.ID.String()))
	log.Info("client connected")
	defer func() {
		h.Service.RemoveSession(sess.ID)
		log.Info("client disconnected")
	}()

	_ = client.Publish(models.Event{Type: models.EventSession, Text: sess.ID.String(), State: sess.State()})

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			break
		}
		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = client.Publish(models.Event{Type: models.EventStatus, Text: "Unrecognised command.", Level: models.LevelError})
			continue
		}
		h.dispatch(sess, client, cmd)
	}
}

func (h *WebSocketHandler) dispatch(sess *services.Session, client *models.Client, cmd models.Command) {
	log := h.logger.With(
		zap.String("client", client.Id.String()),
		zap.String("session", sess.ID.String()),
		zap.String("command", cmd.Type))

	switch cmd.Type {
	case "validate":
		if _, err := sess.Validate(context.Background(), cmd.ExpertA, cmd.ExpertB); err != nil {
			log.Debug("validate rejected", zap.Error(err))
		}
	case "start":
		settings := h.Service.Settings
		turns, err := settings.ParseTurns(cmd.Turns)
		if err == nil {
			var delay int
			delay, err = settings.ParseDelay(cmd.Delay)
			if err == nil {
				err = sess.Start(cmd.ExpertA, cmd.ExpertB, cmd.Topic, turns, delay)
			}
		}
		if errors.Is(err, services.ErrInvalidNumber) {
			_ = client.Publish(models.Event{Type: models.EventStatus, Text: err.Error(), Level: models.LevelError})
		}
		if err != nil {
			log.Debug("start rejected", zap.Error(err))
		}
	case "jump":
		if !sess.JumpIn(cmd.Text) {
			log.Debug("jump-in ignored outside a delay window")
		}
	case "stop":
		sess.Stop()
	default:
		_ = client.Publish(models.Event{Type: models.EventStatus, Text: "Unknown command: " + cmd.Type, Level: models.LevelError})
	}
}
