package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/sensebox-frequency/internal/sensebox"
)

// DefaultOpenSenseMapURL is the public openSenseMap API.
const DefaultOpenSenseMapURL = "https://api.opensensemap.org"

// OpenSenseMapSource implements sensebox.DataSource against /boxes/data.
type OpenSenseMapSource struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewOpenSenseMapSource(cfg HTTPClientConfig, baseURL string, logger *slog.Logger) *OpenSenseMapSource {
	if baseURL == "" {
		baseURL = DefaultOpenSenseMapURL
	}
	return &OpenSenseMapSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: cfg,
		circuit: newCircuitBreaker("opensensemap"),
		logger:  logger,
	}
}

// FetchBoxData returns the raw CSV body for one phenomenon in a bounding box.
func (s *OpenSenseMapSource) FetchBoxData(ctx context.Context, req sensebox.PhenomenonRequest) ([]byte, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("phenomenon", string(req.Phenomenon))
		values.Set("bbox", req.BBox.String())
		values.Set("from-date", req.From.UTC().Format(sensebox.APITimeLayout))
		values.Set("to-date", req.To.UTC().Format(sensebox.APITimeLayout))
		values.Set("limit", strconv.Itoa(req.Limit))
		values.Set("format", "csv")

		u := fmt.Sprintf("%s/boxes/data?%s", s.baseURL, values.Encode())
		s.logger.Debug("requesting box data", "url", u)
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, s.httpCfg, s.circuit, buildRequest)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			s.logger.Error("box data request failed", "phenomenon", req.Phenomenon, "status", se.Status, "body", se.Body)
			return nil, &sensebox.SensorAPIHTTPError{Phenomenon: req.Phenomenon, Status: se.Status, Body: se.Body}
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &sensebox.ConnectionError{URL: resp.Request.URL.Redacted(), Err: err}
	}
	return body, nil
}
