package doctor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://open.cn2030.com"
	defaultTimeout = 60 * time.Second

	ssePrefix   = "data: "
	sseDone     = "[DONE]"
	maxSSELine  = 1 << 20
	errBodySize = 4096
)

type chatRequest struct {
	SessionID   string         `json:"sessionId"`
	Query       string         `json:"query"`
	Stream      bool           `json:"stream"`
	PatientInfo map[string]any `json:"patientInfo,omitempty"`
}

// HTTPStatusError captures non-2xx responses from the doctor API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("doctor: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func newHTTPStatusError(res *http.Response, url string) *HTTPStatusError {
	buf, _ := io.ReadAll(io.LimitReader(res.Body, errBodySize))
	return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
}

// Client talks to the remote doctor chat service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client that authenticates every request with tokens from ts.
func NewClient(ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, errors.New("doctor: token source must not be nil")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     ts,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c, nil
}

// Send posts message into the session and returns the fully assembled streamed reply.
// patientInfo is attached only when non-empty.
func (c *Client) Send(ctx context.Context, sessionID, message string, patientInfo map[string]any) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("doctor: session id must not be empty")
	}

	tok, err := c.tokens.Token()
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return "", authErr
		}
		return "", &AuthError{Err: err}
	}

	body, err := json.Marshal(chatRequest{
		SessionID:   sessionID,
		Query:       message,
		Stream:      true,
		PatientInfo: patientInfo,
	})
	if err != nil {
		return "", fmt.Errorf("doctor: marshal request: %w", err)
	}

	url := c.baseURL + "/api/doctor/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("doctor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	tok.SetAuthHeader(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("doctor: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", newHTTPStatusError(res, url)
	}

	reply, err := readEventStream(res.Body)
	if err != nil {
		return "", fmt.Errorf("doctor: read stream: %w", err)
	}
	return reply, nil
}

// readEventStream concatenates the payload of every "data: " line until EOF or the done sentinel.
func readEventStream(r io.Reader) (string, error) {
	var b strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		data := line[len(ssePrefix):]
		if data == sseDone {
			break
		}
		b.WriteString(data)
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}
