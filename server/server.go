// Package server exposes the process graph engine over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/meikuraledutech/procgraph"
	"github.com/meikuraledutech/procgraph/diagram"
	"github.com/xeipuuv/gojsonschema"
)

type API struct {
	engine   *procgraph.Engine
	validate *validator.Validate
	logger   *slog.Logger
	metrics  http.Handler
}

// Option configures an API.
type Option func(*API)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) {
		a.metrics = h
	}
}

func NewAPI(engine *procgraph.Engine, log *slog.Logger, opts ...Option) *API {
	a := &API{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With("module", "api"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New())

	app.Get("/health", a.health)
	if a.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(a.metrics))
	}

	p := app.Group("/processes/:processId")
	p.Get("/meta", a.getMeta)
	p.Post("/versions", a.createVersion)
	p.Get("/versions/:version", a.getVersion)
	p.Get("/versions/:version/diagram", a.getDiagram)
	p.Post("/versions/:version/ops", a.applyOps)

	return app
}

// Start serves on port until ctx is done, then shuts the app down.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		return app.Shutdown()
	}
}

func (a *API) health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func (a *API) createVersion(c fiber.Ctx) error {
	var req CreateVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := a.engine.Create(c.Context(), &procgraph.ProcessVersion{
		ProcessID:     c.Params("processId"),
		VersionNumber: req.VersionNumber,
		Model:         req.Model,
		Layout:        req.Layout,
		UpdatedBy:     req.ActorID,
	})
	if err != nil {
		return a.handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (a *API) getVersion(c fiber.Ctx) error {
	key, err := versionKey(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	v, err := a.engine.Get(c.Context(), key)
	if err != nil {
		return a.handleEngineError(c, err)
	}

	return c.JSON(v)
}

func (a *API) getDiagram(c fiber.Ctx) error {
	key, err := versionKey(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	v, err := a.engine.Get(c.Context(), key)
	if err != nil {
		return a.handleEngineError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(diagram.Mermaid(v.Model, v.Layout))
}

func (a *API) getMeta(c fiber.Ctx) error {
	m, err := a.engine.Meta(c.Context(), c.Params("processId"))
	if err != nil {
		return a.handleEngineError(c, err)
	}

	return c.JSON(m)
}

func (a *API) applyOps(c fiber.Ctx) error {
	key, err := versionKey(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := checkBatch(c.Body()); err != nil {
		return badRequest(c, err.Error())
	}

	var req ApplyOpsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := a.engine.ApplyOps(c.Context(), procgraph.ApplyRequest{
		ProcessID:        key.ProcessID,
		Version:          key.Version,
		Ops:              req.Ops,
		ExpectedRevision: *req.ExpectedRevision,
		ActorID:          req.ActorID,
	})
	if err != nil {
		return a.handleEngineError(c, err)
	}

	return c.JSON(result)
}

func versionKey(c fiber.Ctx) (procgraph.VersionKey, error) {
	n, err := strconv.Atoi(c.Params("version"))
	if err != nil || n < 1 {
		return procgraph.VersionKey{}, fmt.Errorf("invalid version %q", c.Params("version"))
	}
	return procgraph.VersionKey{ProcessID: c.Params("processId"), Version: n}, nil
}

func checkBatch(body []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(batchSchema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid batch: %s", strings.Join(msgs, "; "))
	}

	return nil
}
