package githubapi

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gatekeeper/internal/usecase"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v71/github"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultAPIURL = "https://api.github.com/"

	appTokenLifetime = 10 * time.Minute
	clockSkew        = 60 * time.Second
	tokenRefreshLead = time.Minute
)

var ErrMissingCredentials = errors.New("github: app id and private key, or a token, are required")

type Options struct {
	APIURL            string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Clock             usecase.Clock
}

// App authenticates as a GitHub App and hands out installation-scoped
// clients. Installation tokens are cached until shortly before they expire.
type App struct {
	appID string
	key   *rsa.PrivateKey
	opts  Options
	base  http.RoundTripper

	mu      sync.Mutex
	tokens  map[int64]*github.InstallationToken
	refresh singleflight.Group
}

var _ usecase.ClientFactory = (*App)(nil)

func NewApp(appID int64, privateKeyPEM []byte, opts Options) (*App, error) {
	if appID == 0 || len(privateKeyPEM) == 0 {
		return nil, ErrMissingCredentials
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("github: parse app private key: %w", err)
	}
	return &App{
		appID:  strconv.FormatInt(appID, 10),
		key:    key,
		opts:   opts,
		base:   baseTransport(opts),
		tokens: make(map[int64]*github.InstallationToken),
	}, nil
}

// AppJWT signs the short-lived token used for app-level endpoints. The
// issue time is backdated to tolerate clock drift.
func (a *App) AppJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-clockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appTokenLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

func (a *App) ForInstallation(ctx context.Context, installationID int64) (usecase.PlatformClient, error) {
	if installationID == 0 {
		return nil, errors.New("github: installation id required")
	}
	if _, err := a.InstallationToken(ctx, installationID); err != nil {
		return nil, err
	}
	transport := &installationTransport{app: a, installationID: installationID, next: a.base}
	gh, err := newGitHubClient(&http.Client{Transport: transport}, a.opts.APIURL)
	if err != nil {
		return nil, err
	}
	return NewClient(gh), nil
}

// InstallationToken returns a cached token or exchanges the app JWT for a
// new one. Concurrent callers for one installation share a single exchange.
func (a *App) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if tok, ok := a.cachedToken(installationID); ok {
		return tok, nil
	}
	v, err, _ := a.refresh.Do(strconv.FormatInt(installationID, 10), func() (any, error) {
		if tok, ok := a.cachedToken(installationID); ok {
			return tok, nil
		}
		return a.exchangeToken(ctx, installationID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *App) cachedToken(installationID int64) (string, bool) {
	a.mu.Lock()
	tok, ok := a.tokens[installationID]
	a.mu.Unlock()
	if ok && a.now().Add(tokenRefreshLead).Before(tok.GetExpiresAt().Time) {
		return tok.GetToken(), true
	}
	return "", false
}

func (a *App) exchangeToken(ctx context.Context, installationID int64) (string, error) {
	signed, err := a.AppJWT()
	if err != nil {
		return "", fmt.Errorf("github: sign app jwt: %w", err)
	}
	appClient, err := newGitHubClient(&http.Client{Transport: a.base}, a.opts.APIURL)
	if err != nil {
		return "", err
	}
	tok, _, err := appClient.WithAuthToken(signed).Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("github: installation %d token: %w", installationID, err)
	}

	a.mu.Lock()
	a.tokens[installationID] = tok
	a.mu.Unlock()
	return tok.GetToken(), nil
}

func (a *App) now() time.Time {
	if a.opts.Clock != nil {
		return a.opts.Clock()
	}
	return time.Now()
}

type installationTransport struct {
	app            *App
	installationID int64
	next           http.RoundTripper
}

func (t *installationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.app.InstallationToken(req.Context(), t.installationID)
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(clone)
}

// StaticFactory serves every installation with one personal or installation
// token. It backs the CLI and local development.
type StaticFactory struct {
	client *Client
}

var _ usecase.ClientFactory = (*StaticFactory)(nil)

func NewStaticFactory(token string, opts Options) (*StaticFactory, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}
	gh, err := newGitHubClient(&http.Client{Transport: baseTransport(opts)}, opts.APIURL)
	if err != nil {
		return nil, err
	}
	return &StaticFactory{client: NewClient(gh.WithAuthToken(token))}, nil
}

func (f *StaticFactory) ForInstallation(ctx context.Context, installationID int64) (usecase.PlatformClient, error) {
	return f.client, nil
}

// Client returns the token-authenticated client.
func (f *StaticFactory) Client() *Client { return f.client }

func baseTransport(opts Options) http.RoundTripper {
	var next http.RoundTripper
	if opts.HTTPClient != nil {
		next = opts.HTTPClient.Transport
	}
	return newThrottledTransport(opts.RequestsPerSecond, next)
}

func newGitHubClient(hc *http.Client, apiURL string) (*github.Client, error) {
	gh := github.NewClient(hc)
	if apiURL == "" || apiURL == DefaultAPIURL {
		return gh, nil
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("github: parse api url: %w", err)
	}
	gh.BaseURL = u
	return gh, nil
}
