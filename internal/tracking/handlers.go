package tracking

import (
	"context"
	"errors"
	"time"

	"fittrack/internal/activity"
	"fittrack/internal/location"
	"fittrack/internal/outbox"

	"github.com/gofiber/fiber/v2"
)

const pushTimeout = 10 * time.Second

func RegisterRoutes(r fiber.Router, tracker *Tracker, feed *location.FeedSource, authMiddleware fiber.Handler) {
	r.Post("/session/start", authMiddleware, func(c *fiber.Ctx) error {
		var req StartRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.ActivityType == "" {
			return fiber.NewError(fiber.StatusBadRequest, "activity_type required")
		}
		state, err := tracker.Start(c.Context(), req.ActivityType)
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(state)
	})

	r.Post("/session/stop", authMiddleware, func(c *fiber.Ctx) error {
		rec, err := tracker.Stop(c.Context())
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(rec)
	})

	r.Get("/session", func(c *fiber.Ctx) error {
		state, err := tracker.Snapshot(c.Context())
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(state)
	})

	r.Post("/fixes", authMiddleware, func(c *fiber.Ctx) error {
		var fix location.Fix
		if err := c.BodyParser(&fix); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ctx, cancel := context.WithTimeout(c.Context(), pushTimeout)
		defer cancel()
		if err := feed.Push(ctx, fix); err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Put("/permission", authMiddleware, func(c *fiber.Ctx) error {
		var req PermissionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Granted == nil {
			return fiber.NewError(fiber.StatusBadRequest, "granted required")
		}
		feed.SetPermission(*req.Granted)
		return c.JSON(fiber.Map{"granted": feed.PermissionGranted()})
	})

	r.Get("/request", func(c *fiber.Ctx) error {
		req, ok := feed.Request()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, location.ErrNoActiveRequest.Error())
		}
		return c.JSON(req)
	})

	r.Get("/pending", func(c *fiber.Ctx) error {
		records, err := tracker.Pending(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(records)
	})

	r.Post("/pending/:id/retry", authMiddleware, func(c *fiber.Ctx) error {
		rec, err := tracker.Retry(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(statusFor(err), err.Error())
		}
		return c.JSON(rec)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, activity.ErrInvalidType):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, outbox.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, location.ErrBusy), errors.Is(err, location.ErrNoActiveRequest):
		return fiber.StatusConflict
	case errors.Is(err, ErrPersistenceFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, ErrNotRunning):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
