package reservoir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/httpclient"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

const (
	venueTag     = "reservoir"
	tokensPath   = "/tokens/v6"
	maxPageLimit = 100
)

// KeySource supplies the x-api-key header value.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a KeySource for a fixed key.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) { return string(k), nil }

// Client reads floor-ask-sorted listings from the Reservoir tokens API.
type Client struct {
	logger    *zap.Logger
	exec      *httpclient.Executor
	baseURL   string
	keys      KeySource
	contracts map[model.Class]string
}

// NewClient creates a listing source for the given collection contracts.
// exec should be built with ErrorHandler so 4xx bodies surface as *APIError.
func NewClient(
	logger *zap.Logger,
	exec *httpclient.Executor,
	baseURL string,
	keys KeySource,
	unitContract string,
	editionContract string,
) *Client {
	return &Client{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		keys:    keys,
		contracts: map[model.Class]string{
			model.ClassUnit:    strings.ToLower(unitContract),
			model.ClassEdition: strings.ToLower(editionContract),
		},
	}
}

// ErrorHandler decodes a Reservoir 4xx body into *APIError.
func ErrorHandler(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.ErrorLabel == "" {
		apiErr.ErrorLabel = http.StatusText(status)
	}
	apiErr.Status = status
	return apiErr
}

// Contract returns the collection address queried for class.
func (c *Client) Contract(class model.Class) string {
	return c.contracts[class]
}

// FetchPage implements model.ListingSource.
// Every failure is reported as model.ErrSourceUnavailable.
func (c *Client) FetchPage(ctx context.Context, q model.PageQuery) (model.Page, error) {
	contract, ok := c.contracts[q.Class]
	if !ok || contract == "" {
		return model.Page{}, fmt.Errorf("%w: no contract configured for class %q", model.ErrSourceUnavailable, q.Class)
	}

	req, err := c.newRequest(ctx, contract, q)
	if err != nil {
		return model.Page{}, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}

	var resp TokensResponse
	if err := c.exec.DoJSON(ctx, req, contract, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			if inv, ok := c.keys.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		c.logger.Warn("reservoir.fetch_failed",
			zap.String("class", string(q.Class)),
			zap.Int("denomination", q.Denomination),
			zap.Error(err))
		return model.Page{}, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}

	page := model.Page{Listings: make([]model.Listing, 0, len(resp.Tokens))}
	for _, t := range resp.Tokens {
		page.Listings = append(page.Listings, ToListing(t, contract))
	}
	if resp.Continuation != nil {
		page.Continuation = *resp.Continuation
	}

	c.logger.Debug("reservoir.page_fetched",
		zap.String("class", string(q.Class)),
		zap.Int("denomination", q.Denomination),
		zap.Int("listings", len(page.Listings)),
		zap.Bool("more", page.Continuation != ""))
	return page, nil
}

func (c *Client) newRequest(ctx context.Context, contract string, q model.PageQuery) (*http.Request, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	params := url.Values{}
	params.Set("collection", contract)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sortBy", "floorAskPrice")
	params.Set("sortDirection", "asc")
	params.Set("includeAttributes", "true")
	if q.Continuation != "" {
		params.Set("continuation", q.Continuation)
	}
	if q.Class == model.ClassUnit && q.Denomination > 0 {
		params.Set("attributes["+GridAttribute+"]", strconv.Itoa(q.Denomination))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokensPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("api key: %w", err)
	}
	req.Header.Set("accept", "*/*")
	req.Header.Set("x-api-key", key)
	return req, nil
}
