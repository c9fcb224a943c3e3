package reservoir

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/httpclient"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

const (
	unitContract    = "0xchecks"
	editionContract = "0xeditions"
)

func newTestClient(t *testing.T, h http.HandlerFunc, keys KeySource) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 2, time.Millisecond, venueTag, ErrorHandler)
	return NewClient(zap.NewNop(), exec, srv.URL+"/", keys, unitContract, editionContract)
}

func tokenJSON(id, name, grid string, price any) map[string]any {
	entry := map[string]any{
		"token": map[string]any{
			"contract":   unitContract,
			"tokenId":    id,
			"name":       name,
			"image":      "https://img/" + id,
			"attributes": []map[string]string{{"key": "Checks", "value": grid}},
		},
		"market": map[string]any{},
	}
	if price != nil {
		entry["market"] = map[string]any{
			"floorAsk": map[string]any{"price": map[string]any{"amount": map[string]any{"native": price}}},
		}
	}
	return entry
}

func TestFetchPage_QueryAndMapping(t *testing.T) {
	var gotQuery map[string][]string
	var gotKey, gotPath string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tokens": []any{
				tokenJSON("11", "Checks 20", "20", 0.25),
				tokenJSON("12", "Checks 20", "20", nil),
			},
			"continuation": "next-page",
		})
	}, StaticKey("secret"))

	page, err := c.FetchPage(context.Background(), model.PageQuery{
		Class:        model.ClassUnit,
		Denomination: 20,
		Continuation: "cursor-1",
		Limit:        50,
	})
	require.NoError(t, err)

	assert.Equal(t, "/tokens/v6", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, []string{unitContract}, gotQuery["collection"])
	assert.Equal(t, []string{"50"}, gotQuery["limit"])
	assert.Equal(t, []string{"floorAskPrice"}, gotQuery["sortBy"])
	assert.Equal(t, []string{"asc"}, gotQuery["sortDirection"])
	assert.Equal(t, []string{"cursor-1"}, gotQuery["continuation"])
	assert.Equal(t, []string{"20"}, gotQuery["attributes[Checks]"])

	require.Len(t, page.Listings, 2)
	assert.Equal(t, "next-page", page.Continuation)

	first := page.Listings[0]
	assert.Equal(t, "11", first.TokenID)
	assert.Equal(t, "20", first.GridLabel)
	assert.Equal(t, unitContract, first.Collection)
	require.NotNil(t, first.Price)
	assert.Equal(t, "0.25", first.Price.String())

	assert.Nil(t, page.Listings[1].Price, "listing without a floor ask has no price")
}

func TestFetchPage_EditionsUnfilteredAndLastPage(t *testing.T) {
	var gotQuery map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"tokens":[],"continuation":null}`))
	}, StaticKey("k"))

	page, err := c.FetchPage(context.Background(), model.PageQuery{Class: model.ClassEdition, Denomination: 80, Limit: 500})
	require.NoError(t, err)

	assert.Equal(t, []string{editionContract}, gotQuery["collection"])
	assert.Equal(t, []string{"100"}, gotQuery["limit"], "limit is capped at the API maximum")
	assert.NotContains(t, gotQuery, "attributes[Checks]")
	assert.NotContains(t, gotQuery, "continuation")
	assert.Empty(t, page.Continuation)
	assert.Empty(t, page.Listings)
}

func TestFetchPage_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"tokens":[]}`))
	}, StaticKey("k"))

	_, err := c.FetchPage(context.Background(), model.PageQuery{Class: model.ClassUnit})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchPage_FailuresAreSourceUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, StaticKey("k"))

	_, err := c.FetchPage(context.Background(), model.PageQuery{Class: model.ClassUnit})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
	assert.ErrorIs(t, err, httpclient.ErrRetriesExhausted)
}

type invalidatingKeys struct {
	invalidated atomic.Bool
}

func (k *invalidatingKeys) APIKey(context.Context) (string, error) { return "old", nil }
func (k *invalidatingKeys) Invalidate() { k.invalidated.Store(true) }

func TestFetchPage_UnauthorizedInvalidatesKey(t *testing.T) {
	keys := &invalidatingKeys{}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"statusCode":401,"error":"Unauthorized","message":"Invalid API key"}`))
	}, keys)

	_, err := c.FetchPage(context.Background(), model.PageQuery{Class: model.ClassUnit})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid API key", apiErr.Message)
	assert.True(t, keys.invalidated.Load())
}

type failingKeys struct{}

func (failingKeys) APIKey(context.Context) (string, error) { return "", errors.New("no key") }

func TestFetchPage_KeyFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) { calls.Add(1) }, failingKeys{})

	_, err := c.FetchPage(context.Background(), model.PageQuery{Class: model.ClassUnit})
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
	assert.Zero(t, calls.Load())
}

func TestFetchPage_UnknownClass(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, StaticKey("k"))
	_, err := c.FetchPage(context.Background(), model.PageQuery{Class: "bogus"})
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
}

func TestErrorHandler_NonJSONBody(t *testing.T) {
	err := ErrorHandler(http.StatusNotFound, []byte("<html>"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Not Found", apiErr.ErrorLabel)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
