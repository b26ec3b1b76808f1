package web

import (
	"errors"

	"github.com/dukex/flowrun/pkg/orchestrator"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/ratelimit"
	"github.com/dukex/flowrun/pkg/usage"
	"github.com/gofiber/fiber/v3"
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

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleRunError maps errors of the run, resume and cancel paths.
func handleRunError(c fiber.Ctx, err error) error {
	switch {
	case orchestrator.IsValidationError(err):
		return badRequest(c, err.Error())

	case errors.Is(err, ratelimit.ErrLimitExceeded):
		problem := problems.NewStatusProblem(429).
			WithInstance(c.Path()).
			WithType("concurrency_limit_exceeded").
			WithDetail(err.Error())

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)

	case errors.Is(err, usage.ErrUsageLimitExceeded):
		problem := problems.NewStatusProblem(429).
			WithInstance(c.Path()).
			WithType("usage_limit_exceeded").
			WithDetail(err.Error())

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)

	case persistence.IsDeadLetterNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("dead_letter_not_found").
			WithDetail("dead letter not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsExecutionNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("execution_not_found").
			WithDetail("execution not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, orchestrator.ErrExecutionNotRunning),
		errors.Is(err, orchestrator.ErrNotDebugging),
		errors.Is(err, orchestrator.ErrExecutionNotPaused):
		return conflict(c, err.Error())

	default:
		return internalError(c, err)
	}
}
