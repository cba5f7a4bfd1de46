package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/Ashfaaq98/assetintel/internal/tokencache"
	"golang.org/x/sync/singleflight"
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenCache is the subset of a token cache the Authenticator needs.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string)
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
	JWT         struct {
		Access string `json:"access"`
	} `json:"jwt"`
}

// Authenticator exchanges a security token for a session token.
//
// The cache stores the response's access_token while a fresh exchange hands
// back jwt.access. The two are expected to match; they are kept as separate
// paths because the API does not document that they do.
type Authenticator struct {
	doer      Doer
	cache     TokenCache
	userAgent string
	logger    *log.Logger
	group     singleflight.Group

	calls     atomic.Int64
	cacheHits atomic.Int64
}

func NewAuthenticator(doer Doer, cache TokenCache, userAgent string, logger *log.Logger) *Authenticator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Authenticator{doer: doer, cache: cache, userAgent: userAgent, logger: logger}
}

// Authenticate returns a bearer token for opts, hitting the network at most
// once per cache key while a cached token is valid.
func (a *Authenticator) Authenticate(ctx context.Context, opts Options) (string, error) {
	key := tokencache.Key(opts.BaseURL, opts.SecurityToken)
	if tok, ok := a.cache.Get(ctx, key); ok {
		a.cacheHits.Add(1)
		return tok, nil
	}

	// The shared exchange is detached from the first caller's cancellation;
	// each caller waits on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (interface{}, error) {
		if tok, ok := a.cache.Get(shared, key); ok {
			a.cacheHits.Add(1)
			return tok, nil
		}
		return a.exchange(shared, opts, key)
	})
	select {
	case <-ctx.Done():
		return "", &AuthError{Kind: AuthTransport, Err: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (a *Authenticator) exchange(ctx context.Context, opts Options, key string) (string, error) {
	a.calls.Add(1)

	payload, err := json.Marshal(map[string]string{"security_token": opts.SecurityToken})
	if err != nil {
		return "", &AuthError{Kind: AuthTransport, Err: fmt.Errorf("marshal session request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.BaseURL+"/user/session", bytes.NewReader(payload))
	if err != nil {
		return "", &AuthError{Kind: AuthTransport, Err: fmt.Errorf("create session request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.doer.Do(req)
	if err != nil {
		return "", &AuthError{Kind: AuthTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Kind: AuthTransport, Err: fmt.Errorf("read session response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Kind: AuthStatus, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", &AuthError{Kind: AuthResponse, StatusCode: resp.StatusCode, Err: err}
	}
	if sr.JWT.Access == "" {
		return "", &AuthError{Kind: AuthResponse, StatusCode: resp.StatusCode, Err: errors.New("jwt.access missing")}
	}

	if sr.AccessToken != "" {
		a.cache.Set(ctx, key, sr.AccessToken)
	} else {
		a.logger.Printf("Session response carried no access_token; token not cached")
	}
	return sr.JWT.Access, nil
}

// Calls is the number of session exchanges sent over the network.
func (a *Authenticator) Calls() int64 { return a.calls.Load() }

// CacheHits is the number of authentications served from the cache.
func (a *Authenticator) CacheHits() int64 { return a.cacheHits.Load() }
