package route

import (
	"errors"

	"backend-routewars/internal/track"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func RegisterRoutes(r fiber.Router, svc *Service, ingestLimit fiber.Handler) {
	r.Post("/", func(c *fiber.Ctx) error {
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		id, err := svc.CreateRoute(c.Context(), req.UserID, req.Name)
		if err != nil {
			return serviceError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
	})

	r.Get("/active", func(c *fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}
		view, err := svc.ActiveRoute(c.Context(), userID)
		if err != nil {
			return serviceError(err)
		}
		if view == nil {
			return fiber.NewError(fiber.StatusNotFound, "no active route")
		}
		return c.JSON(view)
	})

	r.Post("/:id/coordinates", ingestLimit, func(c *fiber.Ctx) error {
		var req CoordinateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		stats, err := svc.AddCoordinate(c.Context(), c.Params("id"), req)
		if err != nil {
			return serviceError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(stats)
	})

	r.Post("/:id/pause", func(c *fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}
		if err := svc.PauseRoute(c.Context(), c.Params("id"), userID); err != nil {
			return serviceError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/resume", func(c *fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}
		if err := svc.ResumeRoute(c.Context(), c.Params("id"), userID); err != nil {
			return serviceError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/complete", func(c *fiber.Ctx) error {
		var req CompleteRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		var end *track.Coordinate
		if req.EndCoordinate != nil {
			c := req.EndCoordinate.coordinate()
			end = &c
		}
		result, err := svc.CompleteRoute(c.Context(), c.Params("id"), req.UserID, req.Name, end)
		if err != nil {
			return serviceError(err)
		}
		return c.JSON(result)
	})

	r.Post("/:id/claim", func(c *fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}
		result, err := svc.RetryClaim(c.Context(), c.Params("id"), userID)
		if err != nil {
			return serviceError(err)
		}
		return c.JSON(result)
	})

	r.Delete("/:id", func(c *fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}
		if err := svc.DeleteRoute(c.Context(), c.Params("id"), userID); err != nil {
			return serviceError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func serviceError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrActiveExists), errors.Is(err, ErrNotActive), errors.Is(err, ErrClaimNotFailed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, track.ErrMalformed), errors.Is(err, track.ErrInaccurate), errors.Is(err, track.ErrStaleTimestamp):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
