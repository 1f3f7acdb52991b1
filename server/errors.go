package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/procgraph"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleEngineError maps engine errors onto problem documents.
func (a *API) handleEngineError(c fiber.Ctx, err error) error {
	var storageErr *procgraph.StorageError

	switch {
	case procgraph.IsNotFound(err):
		return notFound(c, err.Error())

	case procgraph.IsConflict(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("revision_conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, procgraph.ErrAlreadyExists):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("already_exists").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, procgraph.ErrInvalidGraph):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("invalid_graph").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.As(err, &storageErr):
		a.logger.ErrorContext(c.Context(), "storage failure", "path", c.Path(), "error", err)

		problem := problems.NewStatusProblem(502).
			WithInstance(c.Path()).
			WithType("storage_error").
			WithDetail("storage " + storageErr.Op + " failed")

		return c.Status(fiber.StatusBadGateway).JSON(problem)

	default:
		a.logger.ErrorContext(c.Context(), "unexpected error", "path", c.Path(), "error", err)

		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
