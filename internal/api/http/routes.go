package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/sensebox-frequency/internal/common"
	"github.com/i474232898/sensebox-frequency/internal/sensebox"
	"github.com/i474232898/sensebox-frequency/internal/store"
)

var validate = validator.New()

// Service is the subset of sensebox.Service the API needs.
type Service interface {
	GetLatest(city string) (sensebox.Report, error)
	GetRange(city string, from, to time.Time) ([]sensebox.Report, error)
	LookupBBox(ctx context.Context, place string) (sensebox.BoundingBox, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/frequency/latest", func(c *fiber.Ctx) error {
		q, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := service.GetLatest(q.City)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no frequency report for requested city")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch frequency report")
		}

		return c.JSON(report)
	})

	v1.Get("/frequency/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := service.GetRange(req.City.City, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no frequency reports for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch frequency history")
		}

		return c.JSON(fiber.Map{
			"city":    req.City.City,
			"from":    req.From,
			"to":      req.To,
			"reports": reports,
		})
	})

	v1.Get("/bbox", func(c *fiber.Ctx) error {
		q, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		bbox, err := service.LookupBBox(c.UserContext(), q.City)
		if err != nil {
			if errors.Is(err, sensebox.ErrGeocodingNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no geocoding match for requested city")
			}
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		return c.JSON(fiber.Map{
			"city": q.City,
			"bbox": bbox.String(),
			"box":  bbox,
		})
	})
}

// cityQuery holds the query parameter identifying a city.
type cityQuery struct {
	City string `validate:"required"`
}

func parseCityQuery(c *fiber.Ctx) (cityQuery, error) {
	q := cityQuery{City: c.Query("city")}

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	City cityQuery
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	city, err := parseCityQuery(c)
	if err != nil {
		return err
	}
	h.City = city

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := common.ParseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := common.ParseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}
