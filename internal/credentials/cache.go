package credentials

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/resilience"
)

const (
	// ExpirySafetyMargin is subtracted from the advertised lifetime so a
	// token is never presented in its last minutes.
	ExpirySafetyMargin = 5 * time.Minute

	// defaultLifetime applies when the accounts service omits expires_in
	defaultLifetime = time.Hour

	refreshKey = "refresh"
)

// CachedToken is the single access token held by the Cache
type CachedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token may still be used at now
func (t *CachedToken) Valid(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// Config holds the OAuth client settings for the refresh grant
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scopes       []string
}

// Cache holds one access token and refreshes it on demand. Concurrent
// callers that find the cache empty or expired share a single refresh.
type Cache struct {
	oauth        *oauth2.Config
	refreshToken string
	httpClient   *http.Client
	retry        resilience.RetryConfig
	now          func() time.Time
	logger       *logging.Logger
	metrics      *metrics.Metrics

	mu    sync.RWMutex
	token *CachedToken
	group singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithHTTPClient sets the client used for the token exchange
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.httpClient = client
	}
}

// WithClock overrides the time source used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithRetryConfig overrides the refresh retry policy
func WithRetryConfig(config resilience.RetryConfig) Option {
	return func(c *Cache) {
		c.retry = config
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics records refresh outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// RefreshRetryConfig retries only rate-limit rejections, waiting 5s, 10s
// and 20s before giving up.
func RefreshRetryConfig() resilience.RetryConfig {
	return resilience.UpstreamBackoffConfig(IsRateLimited)
}

// NewCache creates a credential cache for the given client settings
func NewCache(config Config, opts ...Option) *Cache {
	c := &Cache{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       config.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		refreshToken: config.RefreshToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		retry:        RefreshRetryConfig(),
		now:          time.Now,
		logger:       logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Token returns a valid access token, refreshing it if needed. It fails
// with an AuthError when the credentials are rejected and with
// RateLimitExceeded when the accounts service keeps throttling.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	// The refresh runs detached from the first caller's cancellation since
	// every waiter shares its result.
	shared := context.WithoutCancel(ctx)
	result := c.group.DoChan(refreshKey, func() (interface{}, error) {
		// A refresh may have completed between the cache miss and joining
		// the group.
		if token, ok := c.cached(); ok {
			return token, nil
		}
		return c.refresh(shared)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call refreshes it
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

// ExpiresAt returns the expiry of the cached token, if one is held
func (c *Cache) ExpiresAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == nil {
		return time.Time{}, false
	}
	return c.token.ExpiresAt, true
}

func (c *Cache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token.Valid(c.now()) {
		return c.token.Value, true
	}
	return "", false
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	attempt := 0
	retrier := resilience.NewRetrier(c.retry)

	token, err := resilience.ExecuteWithResult(ctx, retrier, func(ctx context.Context) (*CachedToken, error) {
		attempt++
		token, err := c.exchange(ctx)
		if err != nil {
			c.logger.LogTokenEvent(ctx, "token_refresh", attempt, false, refreshErrorFields(err))
			if IsRateLimited(err) {
				c.metrics.RecordTokenRefresh("rate_limited")
			} else {
				c.metrics.RecordTokenRefresh("failed")
			}
			return nil, err
		}
		c.logger.LogTokenEvent(ctx, "token_refresh", attempt, true, logrus.Fields{
			"expires_at": token.ExpiresAt,
		})
		c.metrics.RecordTokenRefresh("success")
		return token, nil
	})
	if err != nil {
		var exhausted *resilience.ExhaustedError
		if stderrors.As(err, &exhausted) {
			return "", errors.NewRateLimitExceededError("token endpoint kept rate limiting refresh attempts").
				WithCause(exhausted.Last).
				WithDetail("attempts", strconv.Itoa(exhausted.Attempts))
		}
		if errors.IsType(err, errors.ErrorTypeAuthentication) || ctx.Err() != nil {
			return "", err
		}
		return "", errors.NewAuthError("token refresh failed").WithCause(err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	return token.Value, nil
}

// exchange performs one refresh_token grant against the accounts service
func (c *Cache) exchange(ctx context.Context) (*CachedToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	source := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: c.refreshToken})
	tok, err := source.Token()
	if err != nil {
		if IsRateLimited(err) {
			return nil, err
		}
		return nil, errors.NewAuthError("accounts service rejected the refresh grant").WithCause(err)
	}

	lifetime := defaultLifetime
	if !tok.Expiry.IsZero() {
		lifetime = time.Until(tok.Expiry).Round(time.Second)
	}

	return &CachedToken{
		Value:     tok.AccessToken,
		ExpiresAt: c.now().Add(lifetime - ExpirySafetyMargin),
	}, nil
}

// IsRateLimited reports whether the accounts service refused the grant
// because of request throttling ("access denied" with a "too many
// requests" description).
func IsRateLimited(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !stderrors.As(err, &retrieveErr) {
		return false
	}

	code := strings.ToLower(retrieveErr.ErrorCode)
	desc := strings.ToLower(retrieveErr.ErrorDescription)
	if desc == "" {
		desc = strings.ToLower(string(retrieveErr.Body))
	}

	accessDenied := code == "access_denied" || strings.Contains(code, "access denied")
	return accessDenied && strings.Contains(desc, "too many requests")
}

func refreshErrorFields(err error) logrus.Fields {
	fields := logrus.Fields{"error": err.Error()}

	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		fields["error_code"] = retrieveErr.ErrorCode
		if retrieveErr.Response != nil {
			fields["status"] = retrieveErr.Response.StatusCode
		}
	}
	return fields
}
