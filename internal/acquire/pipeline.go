// Package acquire turns a raw download reference from a search result
// into adapter-ready input: a magnet URI passed through untouched, or
// fetched file bytes with a sniffed type, following redirects and
// falling back to anti-bot retrieval and HTML magnet scraping on the way.
package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medialoom/medialoom/internal/downloadclient/types"
)

// maxRedirects bounds manual redirect following.
const maxRedirects = 10

// Result is the adapter-ready outcome of resolving a reference. Exactly
// one of MagnetURI or FileContent is set.
type Result struct {
	MagnetURI   string
	FileContent []byte
	FileType    types.FileType
}

// IndexerSettings carries the per-indexer fetch configuration.
type IndexerSettings struct {
	Cookies    string
	UseAntiBot bool
}

// SettingsProvider looks up per-indexer download settings by name.
type SettingsProvider interface {
	IndexerSettings(ctx context.Context, indexerName string) (*IndexerSettings, error)
}

// StaticSettings is a SettingsProvider that returns the same settings
// for every indexer, for deployments with one global fetch policy.
type StaticSettings IndexerSettings

func (s StaticSettings) IndexerSettings(_ context.Context, _ string) (*IndexerSettings, error) {
	settings := IndexerSettings(s)
	return &settings, nil
}

// AntiBotFetcher retrieves a URL through a rendering proxy for sites
// that block plain HTTP clients.
type AntiBotFetcher interface {
	Get(ctx context.Context, rawURL, cookies string) (statusCode int, body []byte, err error)
}

// Resolver resolves download references. Redirects are followed manually
// so that magnet Location headers can short-circuit resolution.
type Resolver struct {
	httpClient *http.Client
	settings   SettingsProvider
	antiBot    AntiBotFetcher
	logger     zerolog.Logger
}

// NewResolver creates a resolver. settings and antiBot may be nil, in
// which case no cookies are attached and anti-bot bypass is unavailable.
func NewResolver(settings SettingsProvider, antiBot AntiBotFetcher, logger zerolog.Logger) *Resolver {
	return &Resolver{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		settings: settings,
		antiBot:  antiBot,
		logger:   logger.With().Str("component", "acquire").Logger(),
	}
}

// Resolve turns a reference string into adapter input. Magnet references
// are returned unchanged without touching the network.
func (r *Resolver) Resolve(ctx context.Context, reference, indexerName string) (*Result, error) {
	if strings.HasPrefix(reference, "magnet:") {
		return &Result{MagnetURI: reference}, nil
	}

	if !strings.HasPrefix(reference, "http://") && !strings.HasPrefix(reference, "https://") {
		return nil, fmt.Errorf("unsupported reference scheme in %q", truncateRef(reference))
	}

	rawURL := normalizeURL(reference)
	settings := r.lookupSettings(ctx, indexerName)

	if settings.UseAntiBot && r.antiBot != nil {
		return r.resolveAntiBot(ctx, rawURL, settings.Cookies)
	}

	finalURL, magnet, err := r.followRedirects(ctx, rawURL, settings.Cookies)
	if err != nil {
		return nil, err
	}
	if magnet != "" {
		return &Result{MagnetURI: magnet}, nil
	}

	body, err := r.fetch(ctx, finalURL, settings.Cookies)
	if err != nil {
		return nil, err
	}

	return classify(body)
}

// lookupSettings resolves fetch settings for a reference. The indexer
// name may be empty; providers with a global policy apply regardless.
func (r *Resolver) lookupSettings(ctx context.Context, indexerName string) IndexerSettings {
	if r.settings == nil {
		return IndexerSettings{}
	}
	settings, err := r.settings.IndexerSettings(ctx, indexerName)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("indexer", indexerName).
			Msg("Failed to load indexer settings, fetching without them")
		return IndexerSettings{}
	}
	if settings == nil {
		return IndexerSettings{}
	}
	return *settings
}

// followRedirects walks the redirect chain with redirect-disabled probe
// requests. It returns either the final URL to fetch, or a magnet URI
// found in a Location header.
func (r *Resolver) followRedirects(ctx context.Context, rawURL, cookies string) (string, string, error) {
	current := rawURL
	for hop := 0; ; hop++ {
		resp, err := r.probe(ctx, current, cookies)
		if err != nil {
			return "", "", fmt.Errorf("redirect resolution failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			if location == "" {
				return "", "", ErrMissingLocation
			}
			if strings.HasPrefix(location, "magnet:") {
				return "", location, nil
			}
			if hop == maxRedirects {
				return "", "", ErrTooManyRedirects
			}
			current = resolveLocation(current, location)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return current, "", nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyPreviewLimit))
		resp.Body.Close()
		return "", "", newUnexpectedStatusError(resp.StatusCode, body)
	}
}

// probe issues a redirect-disabled HEAD request, retrying as GET when
// the server rejects HEAD outright.
func (r *Resolver) probe(ctx context.Context, rawURL, cookies string) (*http.Response, error) {
	resp, err := r.do(ctx, http.MethodHead, rawURL, cookies)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		return r.do(ctx, http.MethodGet, rawURL, cookies)
	}
	return resp, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL, cookies string) ([]byte, error) {
	resp, err := r.do(ctx, http.MethodGet, rawURL, cookies)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyPreviewLimit))
		return nil, newUnexpectedStatusError(resp.StatusCode, body)
	}

	return io.ReadAll(resp.Body)
}

func (r *Resolver) do(ctx context.Context, method, rawURL, cookies string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	return r.httpClient.Do(req)
}

// resolveAntiBot delegates retrieval to the anti-bot collaborator and
// applies the same content detection to its response body.
func (r *Resolver) resolveAntiBot(ctx context.Context, rawURL, cookies string) (*Result, error) {
	statusCode, body, err := r.antiBot.Get(ctx, rawURL, cookies)
	if err != nil {
		return nil, fmt.Errorf("anti-bot fetch failed: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyAntiBotResponse
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, newUnexpectedStatusError(statusCode, body)
	}
	return classify(body)
}

// classify sniffs fetched bytes for a known file format and falls back
// to HTML magnet extraction.
func classify(body []byte) (*Result, error) {
	if fileType := DetectFileType(body); fileType != "" {
		return &Result{FileContent: body, FileType: fileType}, nil
	}
	magnet, err := ExtractMagnet(body)
	if err != nil {
		return nil, err
	}
	return &Result{MagnetURI: magnet}, nil
}

func resolveLocation(base, location string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return location
	}
	refURL, err := url.Parse(location)
	if err != nil {
		return location
	}
	return baseURL.ResolveReference(refURL).String()
}

func truncateRef(reference string) string {
	if len(reference) > 64 {
		return reference[:64] + "..."
	}
	return reference
}
