package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"github.com/i474232898/sensebox-frequency/internal/sensebox"
)

var validate = validator.New()

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimGeocoder implements sensebox.Geocoder against a Nominatim /search endpoint.
type NominatimGeocoder struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewNominatimGeocoder(cfg HTTPClientConfig, baseURL string, logger *slog.Logger) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &NominatimGeocoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: cfg,
		circuit: newCircuitBreaker("nominatim"),
		logger:  logger,
	}
}

type nominatimPlace struct {
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"`
}

// Lookup returns the bounding box of the first match for place. Nominatim
// orders the box as min_lat, max_lat, min_lon, max_lon; the result is
// reordered to min_lon, min_lat, max_lon, max_lat.
func (g *NominatimGeocoder) Lookup(ctx context.Context, place string) (sensebox.BoundingBox, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("q", place)
		values.Set("format", "json")

		u := fmt.Sprintf("%s/search?%s", g.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, g.httpCfg, g.circuit, buildRequest)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			g.logger.Error("geocoding request failed", "place", place, "status", se.Status, "body", se.Body)
			return sensebox.BoundingBox{}, &sensebox.GeocodingHTTPError{Status: se.Status, Body: se.Body}
		}
		return sensebox.BoundingBox{}, err
	}
	defer resp.Body.Close()

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return sensebox.BoundingBox{}, fmt.Errorf("decode geocoding response: %w", err)
	}
	if len(places) == 0 {
		return sensebox.BoundingBox{}, fmt.Errorf("%w: %q", sensebox.ErrGeocodingNotFound, place)
	}

	bb := places[0].BoundingBox
	if len(bb) != 4 {
		return sensebox.BoundingBox{}, &sensebox.GeocodingMalformedError{
			Place:  place,
			Reason: fmt.Sprintf("expected 4 values, got %d", len(bb)),
		}
	}
	for _, v := range bb {
		// Same rule the downloader applies to BoundingBox fields; rejects NaN, Inf and exponents.
		if err := validate.Var(v, "numeric"); err != nil {
			return sensebox.BoundingBox{}, &sensebox.GeocodingMalformedError{
				Place:  place,
				Reason: fmt.Sprintf("non-numeric value %q", v),
			}
		}
	}

	box := sensebox.BoundingBox{
		MinLon: bb[2],
		MinLat: bb[0],
		MaxLon: bb[3],
		MaxLat: bb[1],
	}
	g.logger.Info("bounding box retrieved", "place", place, "match", places[0].DisplayName, "bbox", box.String())
	return box, nil
}
