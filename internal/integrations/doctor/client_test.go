package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func staticCreds(ctx context.Context) (Credentials, error) {
	return Credentials{Username: "tester", Password: "secret"}, nil
}

// fakeDoctor serves the login and chat endpoints.
type fakeDoctor struct {
	logins     atomic.Int32
	loginCode  int
	chatCode   int
	chunks     []string
	lastChat   chatRequest
	lastAuth   string
	chatCalled atomic.Int32
}

func (f *fakeDoctor) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/doctor/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if f.loginCode != 0 {
			w.WriteHeader(f.loginCode)
			_, _ = w.Write([]byte(`{"msg":"denied"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"data":{"token":"tok-%s-%d"}}`, creds.Username, f.logins.Load())
	})
	mux.HandleFunc("/api/doctor/chat", func(w http.ResponseWriter, r *http.Request) {
		f.chatCalled.Add(1)
		f.lastAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastChat))
		if f.chatCode != 0 {
			w.WriteHeader(f.chatCode)
			_, _ = w.Write([]byte(`{"msg":"upstream broken"}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range f.chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	ts, err := NewTokenSource(context.Background(), srv.URL, srv.Client(), staticCreds, time.Hour)
	require.NoError(t, err)
	c, err := NewClient(ts, WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return c
}

func TestNewClient_NilTokenSource(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"}))
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)
	require.Equal(t, defaultTimeout, c.httpClient.Timeout)
}

func TestSend_AssemblesStreamedReply(t *testing.T) {
	doc := &fakeDoctor{chunks: []string{"您好，", "请问", "发烧几天了？"}}
	srv := httptest.NewServer(doc.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	reply, err := c.Send(context.Background(), "session_test_1", "医生您好", map[string]any{"age": 45})
	require.NoError(t, err)
	require.Equal(t, "您好，请问发烧几天了？", reply)
	require.Equal(t, "Bearer tok-tester-1", doc.lastAuth)
	require.Equal(t, "session_test_1", doc.lastChat.SessionID)
	require.Equal(t, "医生您好", doc.lastChat.Query)
	require.True(t, doc.lastChat.Stream)
	require.Equal(t, float64(45), doc.lastChat.PatientInfo["age"])
}

func TestSend_OmitsEmptyPatientInfo(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/login") {
			_, _ = w.Write([]byte(`{"data":{"token":"t"}}`))
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte("data: ok\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Send(context.Background(), "s", "hello", nil)
	require.NoError(t, err)
	_, present := raw["patientInfo"]
	require.False(t, present)
}

func TestSend_ReusesTokenAcrossCalls(t *testing.T) {
	doc := &fakeDoctor{chunks: []string{"ok"}}
	srv := httptest.NewServer(doc.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	for i := 0; i < 3; i++ {
		_, err := c.Send(context.Background(), "s", "hi", nil)
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), doc.logins.Load())
	require.Equal(t, int32(3), doc.chatCalled.Load())
}

func TestSend_LoginFailureIsAuthError(t *testing.T) {
	doc := &fakeDoctor{loginCode: http.StatusUnauthorized}
	srv := httptest.NewServer(doc.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Send(context.Background(), "s", "hi", nil)
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
	require.Zero(t, doc.chatCalled.Load())
}

func TestSend_Non200(t *testing.T) {
	doc := &fakeDoctor{chatCode: http.StatusBadGateway}
	srv := httptest.NewServer(doc.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Send(context.Background(), "s", "hi", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestSend_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/login") {
			_, _ = w.Write([]byte(`{"data":{"token":"t"}}`))
			return
		}
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("data: late\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Send(context.Background(), "s", "hi", nil)
	require.Error(t, err)
}

func TestSend_EmptySessionID(t *testing.T) {
	c, err := NewClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"}))
	require.NoError(t, err)
	_, err = c.Send(context.Background(), " ", "hi", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "session id")
}

func TestReadEventStream(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "chunks", in: "data: a\n\ndata: b\n\n", want: "ab"},
		{name: "stops at done", in: "data: a\ndata: [DONE]\ndata: b\n", want: "a"},
		{name: "ignores other fields", in: "event: message\nid: 1\ndata: a\n: comment\n", want: "a"},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := readEventStream(strings.NewReader(tc.in))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestTokenSource_CredentialsError(t *testing.T) {
	calls := 0
	creds := func(context.Context) (Credentials, error) {
		calls++
		if calls == 1 {
			return Credentials{}, errors.New("ssm unavailable")
		}
		return Credentials{Username: "u", Password: "p"}, nil
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"token":"fresh"}}`))
	}))
	defer srv.Close()

	ts, err := NewTokenSource(context.Background(), srv.URL, srv.Client(), creds, time.Hour)
	require.NoError(t, err)

	_, err = ts.Token()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")

	tok, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, "fresh", tok.AccessToken)
}

func TestTokenSource_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	ts, err := NewTokenSource(context.Background(), srv.URL, srv.Client(), staticCreds, time.Hour)
	require.NoError(t, err)
	_, err = ts.Token()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no token")
}

func TestTokenSource_RejectsBlankCredentials(t *testing.T) {
	blank := func(context.Context) (Credentials, error) { return Credentials{}, nil }
	ts, err := NewTokenSource(context.Background(), "http://127.0.0.1:1", nil, blank, time.Hour)
	require.NoError(t, err)
	_, err = ts.Token()
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestTokenSource_ExpiryFromTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"token":"t"}}`))
	}))
	defer srv.Close()

	fixed := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	src := &loginSource{
		ctx:        context.Background(),
		baseURL:    srv.URL,
		httpClient: srv.Client(),
		creds:      staticCreds,
		ttl:        2 * time.Hour,
		now:        func() time.Time { return fixed },
	}
	tok, err := src.Token()
	require.NoError(t, err)
	require.Equal(t, fixed.Add(2*time.Hour), tok.Expiry)
	require.Equal(t, "Bearer", tok.TokenType)
}

func TestNewTokenSource_NilCredentials(t *testing.T) {
	_, err := NewTokenSource(context.Background(), DefaultBaseURL, nil, nil, 0)
	require.Error(t, err)
}
