package acquire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FlareSolverr retrieves URLs through a FlareSolverr rendering proxy,
// which solves browser challenges that block plain HTTP clients.
type FlareSolverr struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Compile-time check that FlareSolverr satisfies the collaborator contract.
var _ AntiBotFetcher = (*FlareSolverr)(nil)

// NewFlareSolverr creates a fetcher pointed at a FlareSolverr endpoint,
// e.g. http://localhost:8191.
func NewFlareSolverr(endpoint string, logger zerolog.Logger) *FlareSolverr {
	return &FlareSolverr{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			// Challenge solving involves a headless browser and is slow.
			Timeout: 120 * time.Second,
		},
		logger: logger.With().Str("component", "flaresolverr").Logger(),
	}
}

type solverrRequest struct {
	Cmd        string          `json:"cmd"`
	URL        string          `json:"url"`
	MaxTimeout int             `json:"maxTimeout"`
	Cookies    []solverrCookie `json:"cookies,omitempty"`
}

type solverrCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type solverrResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		Status   int    `json:"status"`
		Response string `json:"response"`
	} `json:"solution"`
}

// Get fetches a URL through the proxy. Cookies are passed in HTTP header
// form ("name=value; name2=value2").
func (f *FlareSolverr) Get(ctx context.Context, rawURL, cookies string) (int, []byte, error) {
	payload := solverrRequest{
		Cmd:        "request.get",
		URL:        rawURL,
		MaxTimeout: 60000,
		Cookies:    parseCookieHeader(cookies),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint+"/v1", bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	var solverr solverrResponse
	if err := json.Unmarshal(respBody, &solverr); err != nil {
		return 0, nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if solverr.Status != "ok" {
		return 0, nil, fmt.Errorf("FlareSolverr error: %s", solverr.Message)
	}

	f.logger.Debug().
		Str("url", rawURL).
		Int("status", solverr.Solution.Status).
		Int("bodyLen", len(solverr.Solution.Response)).
		Msg("Anti-bot fetch completed")

	return solverr.Solution.Status, []byte(solverr.Solution.Response), nil
}

// parseCookieHeader splits an HTTP Cookie header value into name/value
// pairs. Malformed fragments are skipped.
func parseCookieHeader(cookies string) []solverrCookie {
	if cookies == "" {
		return nil
	}
	var out []solverrCookie
	for _, part := range strings.Split(cookies, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, solverrCookie{Name: name, Value: value})
	}
	return out
}
