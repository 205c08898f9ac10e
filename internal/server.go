package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// Backend is what the HTTP and MCP front ends need from a Service.
type Backend interface {
	Ask(ctx context.Context, question string) Answer
	Ingest(ctx context.Context) (IngestResult, error)
	Status(ctx context.Context) (IndexStatus, error)
	Answerer(ctx context.Context) *Answerer
}

var _ Backend = (*Service)(nil)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Text      string  `json:"text"`
	Citation  *string `json:"citation"`
	Formatted string  `json:"formatted"`
}

type IngestSummary struct {
	RunID        string        `json:"run_id"`
	NoOp         bool          `json:"noop"`
	New          int           `json:"new"`
	Committed    []string      `json:"committed"`
	Failed       []FileFailure `json:"failed"`
	Chunks       int           `json:"chunks"`
	IndexEntries int           `json:"index_entries"`
}

func SummarizeIngest(r IngestResult) IngestSummary {
	committed := r.Committed
	if committed == nil {
		committed = []string{}
	}
	failed := r.Failed
	if failed == nil {
		failed = []FileFailure{}
	}
	return IngestSummary{
		RunID:        r.RunID,
		NoOp:         r.NoOp,
		New:          len(r.New),
		Committed:    committed,
		Failed:       failed,
		Chunks:       r.Chunks,
		IndexEntries: r.IndexEntries,
	}
}

type HTTPServer struct {
	app     *fiber.App
	backend Backend
	msgs    Messages
	logger  *slog.Logger
}

func NewHTTPServer(backend Backend, msgs Messages, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:      "docqa",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	})
	app.Use(recover.New())
	app.Use(requestLogger(logger))

	s := &HTTPServer{app: app, backend: backend, msgs: msgs, logger: logger}
	s.register(app.Group("/api/v1"))
	return s
}

func (s *HTTPServer) App() *fiber.App {
	return s.app
}

func (s *HTTPServer) register(api fiber.Router) {
	api.Get("/health", s.health)
	api.Get("/status", s.status)
	api.Post("/ask", s.ask)
	api.Post("/ingest", s.ingest)
}

// Listen serves until ctx is cancelled.
func (s *HTTPServer) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(10 * time.Second)
	}
}

func (s *HTTPServer) health(c fiber.Ctx) error {
	a := s.backend.Answerer(c.Context())
	if err := a.Status(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *HTTPServer) status(c fiber.Ctx) error {
	st, err := s.backend.Status(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(st)
}

func (s *HTTPServer) ask(c fiber.Ctx) error {
	var body askRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	ans := s.backend.Ask(c.Context(), body.Question)

	resp := askResponse{Text: ans.Text, Formatted: ans.Format(s.msgs.CitationPrefix)}
	if ans.HasCitation() {
		resp.Citation = &ans.Citation
	}
	return c.JSON(resp)
}

func (s *HTTPServer) ingest(c fiber.Ctx) error {
	result, err := s.backend.Ingest(c.Context())
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, ErrIngestionLocked) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "run_id": result.RunID})
	}
	return c.JSON(SummarizeIngest(result))
}

func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start),
		)
		return err
	}
}
