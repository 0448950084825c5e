// Package remote performs the HTTP GETs behind metadata and target downloads.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/theupdateframework/go-tuf/v2/metadata"
)

// TokenFromEnv returns the bearer token for private update mirrors, if any.
func TokenFromEnv() string {
	return strings.TrimSpace(os.Getenv("TUFUP_TOKEN"))
}

// UserAgent is the User-Agent header sent with every request made by tufup at
// the given version.
func UserAgent(version string) string {
	return fmt.Sprintf("tufup/%s", version)
}

// Fetcher implements the go-tuf fetcher interface on top of an http.Client.
// Every request is bound to the context installed with Bind so callers can
// cancel a refresh or download mid-flight.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Token     string

	ctx context.Context
}

// NewFetcher builds a Fetcher. A nil client gets a 30s-timeout default.
func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{Client: client, UserAgent: userAgent, Token: TokenFromEnv(), ctx: context.Background()}
}

// Bind sets the context for subsequent requests. Callers serialize use.
func (f *Fetcher) Bind(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	f.ctx = ctx
}

// DownloadFile fetches urlPath, failing with metadata.ErrDownloadHTTP on a
// non-200 status and metadata.ErrDownloadLengthMismatch when the body
// exceeds maxLength.
func (f *Fetcher) DownloadFile(urlPath string, maxLength int64, timeout time.Duration) ([]byte, error) {
	ctx := f.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := Get(ctx, f.Client, urlPath, f.UserAgent, f.Token)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &metadata.ErrDownloadHTTP{StatusCode: resp.StatusCode, URL: urlPath}
	}
	if maxLength > 0 && resp.ContentLength > maxLength {
		return nil, &metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, length %d is larger than expected %d", urlPath, resp.ContentLength, maxLength)}
	}

	var body io.Reader = resp.Body
	if maxLength > 0 {
		body = io.LimitReader(resp.Body, maxLength+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &metadata.ErrDownload{Msg: fmt.Sprintf("read %s: %v", urlPath, err)}
	}
	if maxLength > 0 && int64(len(data)) > maxLength {
		return nil, &metadata.ErrDownloadLengthMismatch{Msg: fmt.Sprintf("download failed for %s, length exceeds %d", urlPath, maxLength)}
	}
	return data, nil
}

// Get issues a GET bound to ctx with the user agent and optional bearer token.
func Get(ctx context.Context, client *http.Client, url, userAgent, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
