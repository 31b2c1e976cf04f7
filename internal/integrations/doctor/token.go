package doctor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultTokenTTL = 2 * time.Hour
	tokenEarlyRenew = time.Minute
)

// Credentials authenticate against the doctor login endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialsFunc resolves login credentials, typically from a secret store.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// AuthError reports a failed login against the doctor API.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("doctor: authenticate: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// loginSource is an oauth2.TokenSource that logs in with username/password.
// The doctor API does not report an expiry, so tokens are assumed valid for ttl.
type loginSource struct {
	ctx        context.Context
	baseURL    string
	httpClient *http.Client
	creds      CredentialsFunc
	ttl        time.Duration
	now        func() time.Time

	credsMu sync.Mutex
	cached  *Credentials
}

// NewTokenSource returns a token source that reuses a token until shortly
// before its assumed expiry and logs in again afterwards.
// ctx bounds every login request made by the source.
func NewTokenSource(ctx context.Context, baseURL string, httpClient *http.Client, creds CredentialsFunc, ttl time.Duration) (oauth2.TokenSource, error) {
	if creds == nil {
		return nil, errors.New("doctor: credentials func must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	src := &loginSource{
		ctx:        ctx,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		creds:      creds,
		ttl:        ttl,
		now:        time.Now,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, tokenEarlyRenew), nil
}

func (s *loginSource) Token() (*oauth2.Token, error) {
	creds, err := s.credentials()
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("marshal login request: %w", err)}
	}
	url := s.baseURL + "/api/doctor/login"
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("create login request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &AuthError{Err: newHTTPStatusError(res, url)}
	}

	var out loginResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, &AuthError{Err: fmt.Errorf("decode login response: %w", err)}
	}
	if out.Data.Token == "" {
		return nil, &AuthError{Err: errors.New("login response has no token")}
	}
	return &oauth2.Token{
		AccessToken: out.Data.Token,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(s.ttl),
	}, nil
}

// credentials resolves and caches credentials. A failed resolution is retried on the next login.
func (s *loginSource) credentials() (Credentials, error) {
	s.credsMu.Lock()
	defer s.credsMu.Unlock()
	if s.cached != nil {
		return *s.cached, nil
	}
	c, err := s.creds(s.ctx)
	if err != nil {
		return Credentials{}, err
	}
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return Credentials{}, errors.New("username and password are required")
	}
	s.cached = &c
	return c, nil
}
