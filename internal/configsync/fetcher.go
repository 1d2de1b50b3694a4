package configsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxDocumentBytes    = 1 << 20
)

var ErrNoRemoteURL = errors.New("remote config url not set")

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Fetcher retrieves the raw settings document at rawURL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type HTTPFetcher struct {
	httpClient *http.Client
	now        func() time.Time
}

func NewHTTPFetcher(httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTTPFetcher{httpClient: httpClient, now: time.Now}
}

// Fetch issues a GET that bypasses every cache between here and the origin.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	q := target.Query()
	q.Set("_", strconv.FormatInt(f.now().UnixMilli(), 10))
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("X-Correlation-Id", uuid.NewString())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("document larger than %d bytes", maxDocumentBytes)
	}
	return body, nil
}

// FileFetcher reads documents from the local filesystem. It accepts
// file:// URLs and bare paths.
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	path, err := localPath(rawURL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("document larger than %d bytes", maxDocumentBytes)
	}
	return data, nil
}

// SchemeFetcher routes http(s) URLs to HTTP and everything else to File.
type SchemeFetcher struct {
	HTTP Fetcher
	File Fetcher
}

func NewFetcher(httpClient *http.Client) SchemeFetcher {
	return SchemeFetcher{HTTP: NewHTTPFetcher(httpClient), File: FileFetcher{}}
}

func (f SchemeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrNoRemoteURL
	}
	if isHTTPURL(rawURL) {
		if f.HTTP == nil {
			return nil, fmt.Errorf("no http fetcher for %s", rawURL)
		}
		return f.HTTP.Fetch(ctx, rawURL)
	}
	if f.File == nil {
		return nil, fmt.Errorf("no file fetcher for %s", rawURL)
	}
	return f.File.Fetch(ctx, rawURL)
}

// ValidateRemoteURL accepts http, https and file URLs.
func ValidateRemoteURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ErrNoRemoteURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		if parsed.Host == "" {
			return fmt.Errorf("missing host in %q", rawURL)
		}
		return nil
	case "file":
		_, err := localPath(rawURL)
		return err
	default:
		return fmt.Errorf("unsupported remote config scheme %q", parsed.Scheme)
	}
}

func isHTTPURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func localPath(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(strings.ToLower(rawURL), "file:") {
		if rawURL == "" {
			return "", ErrNoRemoteURL
		}
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	path := parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("missing path in %q", rawURL)
	}
	return path, nil
}
