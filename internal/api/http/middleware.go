package http

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/pkg/util"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger))
	app.Use(requestLoggerMiddleware(logger))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = util.NewTransientError("internal error", nil)
			}
			if err != nil {
				status, code, message, details := httpError(err)
				if status >= http.StatusInternalServerError {
					logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
				}
				response := fiber.Map{"error": fiber.Map{
					"code":    code,
					"message": message,
				}}
				if len(details) > 0 {
					response["error"].(fiber.Map)["details"] = details
				}
				c.Status(status)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}

func requestLoggerMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("http request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)))
		return err
	}
}

// httpError maps pipeline error categories onto HTTP responses.
func httpError(err error) (status int, code, message string, details map[string]any) {
	var pe *util.PipelineError
	if errors.As(err, &pe) {
		switch pe.Category {
		case util.CategoryValidation:
			return http.StatusBadRequest, string(pe.Category), pe.Message, pe.Details
		case util.CategoryConflict, util.CategoryInvalidTransition:
			return http.StatusConflict, string(pe.Category), pe.Message, pe.Details
		default:
			return http.StatusServiceUnavailable, string(pe.Category), "temporarily unavailable", nil
		}
	}
	return http.StatusInternalServerError, "INTERNAL", "internal error", nil
}
