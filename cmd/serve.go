package main

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/template/html/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/latestcomment/expert-dialogue/internal/gateway"
	"github.com/latestcomment/expert-dialogue/internal/handlers"
	"github.com/latestcomment/expert-dialogue/internal/services"
	"github.com/latestcomment/expert-dialogue/static"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI and the session WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :3000)")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) views() fiber.Views {
	if dir := a.cfg.Server.ViewsDir; dir != "" {
		return html.New(dir, ".html")
	}
	return html.NewFileSystem(http.FS(static.Views), ".html")
}

func (a *app) newServer(sessions *services.SessionService, backends gateway.Set) *fiber.App {
	app := fiber.New(fiber.Config{
		Views:                 a.views(),
		DisableStartupMessage: true,
	})
	if a.cfg.Server.AccessLog {
		app.Use(logger.New())
	}

	h := handlers.NewHandler(sessions, backends, a.logger.Named("http"))
	ws := handlers.NewWebSocketHandler(sessions, a.logger.Named("ws"))

	app.Get("/", h.IndexPage)
	app.Post("/api/checkExperts", h.CheckExperts)
	app.Post("/api/openaiChat", h.OpenAIChat)
	app.Post("/api/claudeChat", h.ClaudeChat)
	app.Get("/api/sessions/:id/transcript", h.Transcript)
	app.Get("/ws", ws.WebSocketMiddleware, websocket.New(ws.HandleWebSocket))
	return app
}

func (a *app) serve(ctx context.Context) error {
	backends := a.backends()
	sessions := services.NewSessionService(backends, a.scholar(), a.settings(), a.logger.Named("session"))
	app := a.newServer(sessions, backends)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server listening", zap.String("addr", a.cfg.Server.Addr))
		return app.Listen(a.cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		sessions.Shutdown()
		return app.Shutdown()
	})
	return g.Wait()
}
