// Package source fetches ranked entity snapshots from the external ranking
// API: client-credentials authentication, cursor pagination, throttling and
// a circuit breaker around every HTTP call.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout         = 30 * time.Second
	defaultPageDelay       = 200 * time.Millisecond
	defaultBreakerFailures = 5
	defaultBreakerOpenFor  = 30 * time.Second
	maxErrorBody           = 512
	breakerName            = "ranking-source"
)

// Token is a bearer token issued by the source.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Page is one page of the ranking listing.
type Page struct {
	Entities   []model.Entity
	NextCursor string
	HasNext    bool
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type wireEntity struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Region string      `json:"region"`
	Score  model.Score `json:"score"`
	Metric float64     `json:"metric"`
	Rank   int         `json:"rank"`
	Active *bool       `json:"active"` // absent means active
}

type pageResponse struct {
	Entities   []wireEntity `json:"entities"`
	NextCursor *string      `json:"next_cursor"`
}

// Client talks to the ranking source.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string

	http            *http.Client
	timeout         time.Duration
	pageDelay       time.Duration
	maxPages        int
	breakerFailures uint32
	breakerOpenFor  time.Duration

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	now     func() time.Time
	logger  logger.Logger
}

// NewClient creates a client for the source at baseURL.
func NewClient(baseURL, clientID, clientSecret string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		clientID:        clientID,
		clientSecret:    clientSecret,
		http:            &http.Client{},
		timeout:         defaultTimeout,
		pageDelay:       defaultPageDelay,
		breakerFailures: defaultBreakerFailures,
		breakerOpenFor:  defaultBreakerOpenFor,
		now:             time.Now,
		logger:          logger.Get().Named("source"),
	}
	for _, opt := range opts {
		opt(c)
	}

	limit := rate.Inf
	if c.pageDelay > 0 {
		limit = rate.Every(c.pageDelay)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	metrics.SetSourceBreakerState(stateValue(gobreaker.StateClosed))
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     c.breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerFailures
		},
		// An expired token is a normal protocol step, not a source failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAuthExpired)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn(context.Background(), "circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.SetSourceBreakerState(stateValue(to))
		},
	})
	return c, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Authenticate exchanges client credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context, clientID, clientSecret string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	body, err := c.do(ctx, "authenticate", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			// 401 on the token endpoint means the credentials were rejected.
			return Token{}, fmt.Errorf("%w: credentials rejected", ErrAuthFailed)
		}
		return Token{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("%w: token: %w", ErrDecode, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}
	tok := Token{Value: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// FetchPage fetches the page at cursor; an empty cursor is the first page.
// A 401 is returned as ErrAuthExpired so the caller can re-authenticate.
func (c *Client) FetchPage(ctx context.Context, tok Token, cursor string) (Page, error) {
	u := c.baseURL + "/rankings"
	if cursor != "" {
		u += "?cursor=" + url.QueryEscape(cursor)
	}

	body, err := c.do(ctx, "fetch_page", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return Page{}, err
	}

	var pr pageResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return Page{}, fmt.Errorf("%w: page %q: %w", ErrDecode, cursor, err)
	}

	page := Page{Entities: make([]model.Entity, 0, len(pr.Entities))}
	for i := range pr.Entities {
		w := &pr.Entities[i]
		page.Entities = append(page.Entities, model.Entity{
			ID:         w.ID,
			Name:       w.Name,
			Region:     w.Region,
			Score:      w.Score,
			Metric:     w.Metric,
			SourceRank: w.Rank,
			Active:     w.Active == nil || *w.Active,
		})
	}
	if pr.NextCursor != nil && *pr.NextCursor != "" {
		page.NextCursor = *pr.NextCursor
		page.HasNext = true
	}
	return page, nil
}

// do runs one HTTP call through the circuit breaker and returns the body of
// a 2xx response. 401 maps to ErrAuthExpired, other statuses to
// ErrUnexpectedStatus.
func (c *Client) do(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSourceRequestLatency(op, float64(time.Since(start).Milliseconds()))
	}()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := build(rctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, ErrAuthExpired
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnexpectedStatus, op, resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: read body: %w", op, err)
		}
		return b, nil
	})
	if err != nil && !errors.Is(err, ErrAuthExpired) {
		metrics.RecordSourceError(op)
	}
	return body, err
}

// Drain authenticates and fetches every page into one snapshot. Every page
// request, retries included, is throttled by the configured delay. An
// expired token triggers one re-authentication and a retry of the same
// page; a second expiry on that page, or any other failure, aborts the drain.
func (c *Client) Drain(ctx context.Context) (model.Snapshot, error) {
	tok, err := c.Authenticate(ctx, c.clientID, c.clientSecret)
	if err != nil {
		return model.Snapshot{}, err
	}

	snap := model.Snapshot{}
	cursor := ""
	for {
		if c.maxPages > 0 && snap.Pages >= c.maxPages {
			return model.Snapshot{}, fmt.Errorf("%w: %d pages", ErrTooManyPages, c.maxPages)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return model.Snapshot{}, fmt.Errorf("throttle: %w", err)
		}

		page, err := c.FetchPage(ctx, tok, cursor)
		if errors.Is(err, ErrAuthExpired) {
			c.logger.Info(ctx, "token expired, re-authenticating",
				logger.Int("page", snap.Pages+1),
			)
			metrics.RecordSourceReauth()
			tok, err = c.Authenticate(ctx, c.clientID, c.clientSecret)
			if err != nil {
				return model.Snapshot{}, fmt.Errorf("re-authenticate at page %d: %w", snap.Pages+1, err)
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return model.Snapshot{}, fmt.Errorf("throttle: %w", err)
			}
			page, err = c.FetchPage(ctx, tok, cursor)
			if errors.Is(err, ErrAuthExpired) {
				return model.Snapshot{}, fmt.Errorf("page %d rejected after re-authentication: %w", snap.Pages+1, err)
			}
		}
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("fetch page %d: %w", snap.Pages+1, err)
		}

		snap.Pages++
		snap.Entities = append(snap.Entities, page.Entities...)
		metrics.RecordSourcePage(len(page.Entities))
		if !page.HasNext {
			break
		}
		cursor = page.NextCursor
	}

	snap.FetchedAt = c.now().UTC()
	c.logger.Info(ctx, "snapshot fetched",
		logger.Int("pages", snap.Pages),
		logger.Int("entities", len(snap.Entities)),
	)
	return snap, nil
}
