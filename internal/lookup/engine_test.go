package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/tokencache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assetBody = `{"data":[{"id":"asset-1","compute":{"public_ips":["1.2.3.4"]},"tags_list":["prod"]}]}`

// mockAPI is a minimal stand-in for the asset inventory API.
type mockAPI struct {
	t *testing.T

	accessToken string
	jwtAccess   string
	authStatus  int
	authDelay   time.Duration

	// respond returns status and body for a lookup; phrase is the observable value.
	respond func(path, phrase string) (int, string)
	delay   time.Duration

	authCalls   atomic.Int64
	lookupCalls atomic.Int64
	inFlight    atomic.Int64
	peak        atomic.Int64

	mu          sync.Mutex
	bearers     []string
	phrases     []string
	sessionBody map[string]string
}

func newMockAPI(t *testing.T) *mockAPI {
	return &mockAPI{
		t:           t,
		accessToken: "T",
		jwtAccess:   "T",
		authStatus:  http.StatusOK,
		respond: func(path, phrase string) (int, string) {
			return http.StatusOK, assetBody
		},
	}
}

func (m *mockAPI) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/session", func(w http.ResponseWriter, r *http.Request) {
		m.authCalls.Add(1)
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.sessionBody = body
		m.mu.Unlock()
		if m.authDelay > 0 {
			time.Sleep(m.authDelay)
		}
		if m.authStatus != http.StatusOK {
			http.Error(w, `{"error":"bad token"}`, m.authStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": m.accessToken,
			"jwt":          map[string]string{"access": m.jwtAccess},
		})
	})
	lookup := func(w http.ResponseWriter, r *http.Request) {
		m.lookupCalls.Add(1)
		n := m.inFlight.Add(1)
		defer m.inFlight.Add(-1)
		for {
			p := m.peak.Load()
			if n <= p || m.peak.CompareAndSwap(p, n) {
				break
			}
		}

		var filter struct {
			Search []struct {
				Fields []string `json:"fields"`
				Phrase string   `json:"phrase"`
			} `json:"search"`
		}
		raw := r.URL.Query().Get("dsl_filter")
		if err := json.Unmarshal([]byte(raw), &filter); err != nil || len(filter.Search) != 1 {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
		phrase := filter.Search[0].Phrase

		m.mu.Lock()
		m.bearers = append(m.bearers, r.Header.Get("Authorization"))
		m.phrases = append(m.phrases, phrase)
		m.mu.Unlock()

		if m.delay > 0 {
			time.Sleep(m.delay)
		}
		status, body := m.respond(r.URL.Path, phrase)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
	mux.HandleFunc("/query/assets", lookup)
	mux.HandleFunc("/query/cves", lookup)

	srv := httptest.NewServer(mux)
	m.t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cache := tokencache.NewMemoryCache(tokencache.MemoryOptions{})
	t.Cleanup(func() { cache.Close() })
	return NewEngine(&http.Client{Timeout: 5 * time.Second}, cache, cfg, nil)
}

func ip(v string) Observable     { return Observable{Value: v, Kind: KindIPv4} }
func domain(v string) Observable { return Observable{Value: v, Kind: KindDomain} }
func cve(v string) Observable    { return Observable{Value: v, Kind: KindCVE} }

func TestDoLookup_EndToEnd(t *testing.T) {
	api := newMockAPI(t)
	api.respond = func(path, phrase string) (int, string) {
		if path == "/query/cves" {
			return http.StatusNotFound, `{"message":"not found"}`
		}
		return http.StatusOK, assetBody
	}
	srv := api.server()
	e := newTestEngine(t, Config{})

	obs := []Observable{ip("1.2.3.4"), cve("CVE-2021-0001")}
	results, err := e.DoLookup(context.Background(), obs, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, obs[0], results[0].Observable)
	require.NotNil(t, results[0].Data)
	assert.Equal(t, []string{}, results[0].Data.Summary)
	assert.JSONEq(t, assetBody, string(results[0].Data.Details))

	assert.Equal(t, obs[1], results[1].Observable)
	assert.Nil(t, results[1].Data)

	assert.Equal(t, int64(1), api.authCalls.Load())
	assert.Equal(t, map[string]string{"security_token": "sec"}, api.sessionBody)
	for _, b := range api.bearers {
		assert.Equal(t, "Bearer T", b)
	}

	m := e.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, int64(2), m.Requests)
	assert.Equal(t, int64(1), m.AuthCalls)
}

func TestDoLookup_SkippedObservablesIssueNoRequests(t *testing.T) {
	api := newMockAPI(t)
	srv := api.server()
	e := newTestEngine(t, Config{})

	obs := []Observable{
		{Value: "127.0.0.1", Kind: KindIPv4, IsIgnoredAddress: true},
		{Value: "0.0.0.0", Kind: KindIPv4, IsIgnoredAddress: true},
		{Value: "d41d8cd98f00b204e9800998ecf8427e", Kind: KindOther},
		domain("host.example.com"),
	}
	results, err := e.DoLookup(context.Background(), obs, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i := 0; i < 3; i++ {
		assert.Equal(t, obs[i], results[i].Observable)
		assert.Nil(t, results[i].Data)
	}
	assert.NotNil(t, results[3].Data)

	assert.Equal(t, int64(1), api.lookupCalls.Load())
	assert.Equal(t, []string{"host.example.com"}, api.phrases)
	assert.Equal(t, int64(3), e.Metrics().Skipped)
}

func TestDoLookup_AuthenticatesOncePerKey(t *testing.T) {
	api := newMockAPI(t)
	srv := api.server()
	e := newTestEngine(t, Config{})
	opts := Options{BaseURL: srv.URL, SecurityToken: "sec"}

	obs := make([]Observable, 50)
	for i := range obs {
		obs[i] = ip(fmt.Sprintf("10.0.0.%d", i+1))
	}

	_, err := e.DoLookup(context.Background(), obs, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.authCalls.Load())
	assert.Equal(t, int64(50), api.lookupCalls.Load())

	_, err = e.DoLookup(context.Background(), obs[:5], opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.authCalls.Load(), "second batch must reuse the cached token")
	assert.Equal(t, int64(1), e.Metrics().TokenCacheHits)

	_, err = e.DoLookup(context.Background(), obs[:1], Options{BaseURL: srv.URL, SecurityToken: "other"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), api.authCalls.Load(), "a different credential gets its own session")
}

func TestDoLookup_ConcurrentBatchesShareOneAuth(t *testing.T) {
	api := newMockAPI(t)
	api.authDelay = 50 * time.Millisecond
	srv := api.server()
	e := newTestEngine(t, Config{})
	opts := Options{BaseURL: srv.URL, SecurityToken: "sec"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.DoLookup(context.Background(), []Observable{ip(fmt.Sprintf("10.1.0.%d", i+1))}, opts)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(1), api.authCalls.Load())
}

func TestAuthenticate_CallerDeadlineDoesNotFailSharedExchange(t *testing.T) {
	api := newMockAPI(t)
	api.authDelay = 300 * time.Millisecond
	srv := api.server()
	cache := tokencache.NewMemoryCache(tokencache.MemoryOptions{})
	t.Cleanup(func() { cache.Close() })
	a := NewAuthenticator(&http.Client{Timeout: 5 * time.Second}, cache, "", nil)
	opts := Options{BaseURL: srv.URL, SecurityToken: "sec"}

	var errA, errB error
	var tokB string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, errA = a.Authenticate(ctx, opts)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		tokB, errB = a.Authenticate(context.Background(), opts)
	}()
	wg.Wait()

	var ae *AuthError
	require.True(t, errors.As(errA, &ae))
	assert.Equal(t, AuthTransport, ae.Kind)
	assert.True(t, errors.Is(errA, context.DeadlineExceeded))

	require.NoError(t, errB)
	assert.Equal(t, "T", tokB)
	assert.Equal(t, int64(1), api.authCalls.Load())

	_, ok := cache.Get(context.Background(), tokencache.Key(srv.URL, "sec"))
	assert.True(t, ok, "the shared exchange still populates the cache")
}

func TestDoLookup_ConcurrencyNeverExceedsLimit(t *testing.T) {
	api := newMockAPI(t)
	api.delay = 20 * time.Millisecond
	srv := api.server()
	e := newTestEngine(t, Config{})

	obs := make([]Observable, 45)
	for i := range obs {
		obs[i] = ip(fmt.Sprintf("10.2.0.%d", i+1))
	}
	results, err := e.DoLookup(context.Background(), obs, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	assert.Len(t, results, 45)

	assert.LessOrEqual(t, api.peak.Load(), int64(DefaultMaxConcurrent))
	assert.LessOrEqual(t, e.PeakInFlight(), int64(DefaultMaxConcurrent))
	assert.Greater(t, api.peak.Load(), int64(1), "requests should run in parallel")
}

func TestDoLookup_CustomConcurrencyLimit(t *testing.T) {
	api := newMockAPI(t)
	api.delay = 10 * time.Millisecond
	srv := api.server()
	e := newTestEngine(t, Config{MaxConcurrent: 3})

	obs := make([]Observable, 12)
	for i := range obs {
		obs[i] = ip(fmt.Sprintf("10.3.0.%d", i+1))
	}
	_, err := e.DoLookup(context.Background(), obs, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	assert.LessOrEqual(t, api.peak.Load(), int64(3))
}

func TestDoLookup_PreservesInputOrder(t *testing.T) {
	api := newMockAPI(t)
	api.respond = func(path, phrase string) (int, string) {
		return http.StatusOK, fmt.Sprintf(`{"data":[{"id":%q}]}`, phrase)
	}
	srv := api.server()
	e := newTestEngine(t, Config{})

	var obs []Observable
	for i := 0; i < 20; i++ {
		obs = append(obs, domain(fmt.Sprintf("h%02d.example.com", i)))
	}
	results, err := e.DoLookup(context.Background(), obs, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	for i, r := range results {
		require.NotNil(t, r.Data)
		assert.Contains(t, string(r.Data.Details), obs[i].Value)
	}
}

func TestDoLookup_EmptyArrayIsMiss(t *testing.T) {
	api := newMockAPI(t)
	api.respond = func(path, phrase string) (int, string) {
		return http.StatusOK, `{"data":[]}`
	}
	srv := api.server()
	e := newTestEngine(t, Config{})

	results, err := e.DoLookup(context.Background(), []Observable{ip("8.8.8.8")}, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Data)
}

func TestDoLookup_404And202AreIndistinguishable(t *testing.T) {
	api := newMockAPI(t)
	api.respond = func(path, phrase string) (int, string) {
		if phrase == "a.example.com" {
			return http.StatusNotFound, `{}`
		}
		return http.StatusAccepted, `{"status":"pending"}`
	}
	srv := api.server()
	e := newTestEngine(t, Config{})

	results, err := e.DoLookup(context.Background(),
		[]Observable{domain("a.example.com"), domain("b.example.com")},
		Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Data)
	assert.Nil(t, results[1].Data)
	assert.Nil(t, results[0].Err)
	assert.Nil(t, results[1].Err)
}

func TestDoLookup_NamedErrorFailsBatch(t *testing.T) {
	tests := []struct {
		status int
		kind   BatchErrorKind
	}{
		{http.StatusTooManyRequests, KindAPILimitExceeded},
		{http.StatusUnauthorized, KindJWTTokenExpired},
		{http.StatusForbidden, KindNonExistentDevice},
		{http.StatusBadGateway, KindServerError},
		{http.StatusTeapot, KindUnclassified},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			api := newMockAPI(t)
			api.respond = func(path, phrase string) (int, string) {
				if phrase == "10.9.0.7" {
					return tt.status, `{"error":"nope"}`
				}
				return http.StatusOK, assetBody
			}
			srv := api.server()
			e := newTestEngine(t, Config{})

			var obs []Observable
			for i := 1; i <= 15; i++ {
				obs = append(obs, ip(fmt.Sprintf("10.9.0.%d", i)))
			}
			results, err := e.DoLookup(context.Background(), obs, Options{BaseURL: srv.URL, SecurityToken: "sec"})
			require.Error(t, err)
			assert.Nil(t, results)

			var be *BatchError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, tt.status, be.StatusCode)
			assert.Equal(t, "10.9.0.7", be.Observable.Value)
			assert.True(t, errors.Is(err, ErrBatchFailed))
			assert.NotEmpty(t, be.Hint())
		})
	}
}

func TestDoLookup_401DoesNotEvictCachedToken(t *testing.T) {
	api := newMockAPI(t)
	api.respond = func(path, phrase string) (int, string) {
		return http.StatusUnauthorized, `{}`
	}
	srv := api.server()
	e := newTestEngine(t, Config{})
	opts := Options{BaseURL: srv.URL, SecurityToken: "sec"}

	_, err := e.DoLookup(context.Background(), []Observable{ip("8.8.8.8")}, opts)
	require.Error(t, err)
	_, err = e.DoLookup(context.Background(), []Observable{ip("8.8.4.4")}, opts)
	require.Error(t, err)
	assert.Equal(t, int64(1), api.authCalls.Load())
}

func TestDoLookup_IsolatePolicyKeepsOtherResults(t *testing.T) {
	api := newMockAPI(t)
	api.respond = func(path, phrase string) (int, string) {
		if phrase == "bad.example.com" {
			return http.StatusTooManyRequests, `{}`
		}
		return http.StatusOK, assetBody
	}
	srv := api.server()
	e := newTestEngine(t, Config{FailurePolicy: Isolate})

	results, err := e.DoLookup(context.Background(),
		[]Observable{domain("good.example.com"), domain("bad.example.com")},
		Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NotNil(t, results[0].Data)
	assert.Nil(t, results[0].Err)

	assert.Nil(t, results[1].Data)
	var be *BatchError
	require.True(t, errors.As(results[1].Err, &be))
	assert.Equal(t, KindAPILimitExceeded, be.Kind)
	assert.Equal(t, int64(1), e.Metrics().Errors)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestDoLookup_TransportErrorAbortsBatch(t *testing.T) {
	api := newMockAPI(t)
	srv := api.server()

	boom := errors.New("connection reset by peer")
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.RawQuery, "10.4.0.3") {
			return nil, boom
		}
		return http.DefaultTransport.RoundTrip(r)
	})}
	cache := tokencache.NewMemoryCache(tokencache.MemoryOptions{})
	defer cache.Close()
	e := NewEngine(client, cache, Config{FailurePolicy: Isolate}, nil)

	var obs []Observable
	for i := 1; i <= 6; i++ {
		obs = append(obs, ip(fmt.Sprintf("10.4.0.%d", i)))
	}
	results, err := e.DoLookup(context.Background(), obs, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.Error(t, err)
	assert.Nil(t, results)

	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindTransport, be.Kind)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, "Error Performing Lookup", be.Hint())
}

func TestDoLookup_TrailingSlashIsStripped(t *testing.T) {
	api := newMockAPI(t)
	srv := api.server()
	e := newTestEngine(t, Config{})

	_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, Options{BaseURL: srv.URL + "/", SecurityToken: "sec"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.authCalls.Load())
	assert.Equal(t, int64(1), api.lookupCalls.Load())
}

func TestDoLookup_InvalidOptionsNeverTouchNetwork(t *testing.T) {
	api := newMockAPI(t)
	srv := api.server()
	e := newTestEngine(t, Config{})

	_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, Options{BaseURL: srv.URL + "//"})
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve, 2)
	assert.Equal(t, int64(0), api.authCalls.Load())
}

func TestDoLookup_RequestTimeout(t *testing.T) {
	api := newMockAPI(t)
	api.delay = 200 * time.Millisecond
	srv := api.server()
	e := newTestEngine(t, Config{RequestTimeout: 20 * time.Millisecond})

	_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.Error(t, err)
	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, KindTransport, be.Kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAuthenticate_CachedAndFreshTokenPaths(t *testing.T) {
	api := newMockAPI(t)
	api.accessToken = "cached-access"
	api.jwtAccess = "fresh-jwt"
	srv := api.server()
	e := newTestEngine(t, Config{})
	opts := Options{BaseURL: srv.URL, SecurityToken: "sec"}

	_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, opts)
	require.NoError(t, err)
	_, err = e.DoLookup(context.Background(), []Observable{ip("1.2.3.5")}, opts)
	require.NoError(t, err)

	require.Len(t, api.bearers, 2)
	assert.Equal(t, "Bearer fresh-jwt", api.bearers[0], "fresh authentication hands back jwt.access")
	assert.Equal(t, "Bearer cached-access", api.bearers[1], "cache hit hands back the stored access_token")
}

func TestAuthenticate_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		api := newMockAPI(t)
		api.authStatus = http.StatusForbidden
		srv := api.server()
		e := newTestEngine(t, Config{})

		_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, Options{BaseURL: srv.URL, SecurityToken: "bad"})
		require.Error(t, err)
		var ae *AuthError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, AuthStatus, ae.Kind)
		assert.Equal(t, http.StatusForbidden, ae.StatusCode)
		assert.Contains(t, ae.Body, "bad token")
		assert.True(t, errors.Is(err, ErrAuthFailed))
		assert.Contains(t, ae.Hint(), "Verify your URL and Security Token")
		assert.Equal(t, int64(0), api.lookupCalls.Load())
	})

	t.Run("transport", func(t *testing.T) {
		api := newMockAPI(t)
		srv := api.server()
		url := srv.URL
		srv.Close()
		e := newTestEngine(t, Config{})

		_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, Options{BaseURL: url, SecurityToken: "sec"})
		var ae *AuthError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, AuthTransport, ae.Kind)
	})

	t.Run("missing jwt", func(t *testing.T) {
		api := newMockAPI(t)
		api.jwtAccess = ""
		srv := api.server()
		e := newTestEngine(t, Config{})

		_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, Options{BaseURL: srv.URL, SecurityToken: "sec"})
		var ae *AuthError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, AuthResponse, ae.Kind)
	})

	t.Run("failed auth is not cached", func(t *testing.T) {
		api := newMockAPI(t)
		api.authStatus = http.StatusInternalServerError
		srv := api.server()
		e := newTestEngine(t, Config{})
		opts := Options{BaseURL: srv.URL, SecurityToken: "sec"}

		_, err := e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, opts)
		require.Error(t, err)
		_, err = e.DoLookup(context.Background(), []Observable{ip("1.2.3.4")}, opts)
		require.Error(t, err)
		assert.Equal(t, int64(2), api.authCalls.Load())
	})
}

func TestAuthenticate_ExpiredTokenReauthenticates(t *testing.T) {
	api := newMockAPI(t)
	srv := api.server()

	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cache := tokencache.NewMemoryCache(tokencache.MemoryOptions{Clock: clock})
	defer cache.Close()
	auth := NewAuthenticator(srv.Client(), cache, "", nil)
	opts := Options{BaseURL: srv.URL, SecurityToken: "sec"}

	_, err := auth.Authenticate(context.Background(), opts)
	require.NoError(t, err)
	_, err = auth.Authenticate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), api.authCalls.Load())

	mu.Lock()
	now = now.Add(tokencache.DefaultTTL)
	mu.Unlock()

	_, err = auth.Authenticate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), api.authCalls.Load())
	assert.Equal(t, int64(2), auth.Calls())
	assert.Equal(t, int64(1), auth.CacheHits())
}

func TestDoLookup_NoClassifiableObservables(t *testing.T) {
	api := newMockAPI(t)
	srv := api.server()
	e := newTestEngine(t, Config{})

	results, err := e.DoLookup(context.Background(),
		[]Observable{{Value: "x", Kind: KindOther}},
		Options{BaseURL: srv.URL, SecurityToken: "sec"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Data)
	assert.Equal(t, int64(1), api.authCalls.Load())
	assert.Equal(t, int64(0), api.lookupCalls.Load())
}
