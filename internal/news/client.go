// Package news fetches financial headlines from a NewsAPI compatible
// endpoint.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable reports that headlines could not be fetched.
var ErrUnavailable = errors.New("news: headlines unavailable")

const (
	// DefaultBaseURL is the public NewsAPI endpoint.
	DefaultBaseURL = "https://newsapi.org"

	// DefaultLimit bounds the number of articles per search.
	DefaultLimit = 5

	callTimeout = 10 * time.Second
)

// Article is a single headline.
type Article struct {
	Title       string
	URL         string
	Source      string
	Snippet     string
	PublishedAt time.Time
}

// Client talks to the headline API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a news Client. An empty apiKey leaves the client in a
// permanently unavailable state rather than failing construction.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

// Configured reports whether the client has credentials to make calls.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type searchResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Title  string `json:"title"`
		URL    string `json:"url"`
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Description string `json:"description"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Search fetches up to limit headlines matching query. A non-empty
// category switches to the curated headline feed for that category;
// otherwise the full article index is searched.
func (c *Client) Search(ctx context.Context, query string, limit int, category string) ([]Article, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("pageSize", strconv.Itoa(limit))
	q.Set("apiKey", c.apiKey)

	path := "/v2/everything"
	if category != "" {
		path = "/v2/top-headlines"
		q.Set("category", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: headline API returned %d", ErrUnavailable, resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("%w: headline API status %q", ErrUnavailable, payload.Status)
	}

	articles := make([]Article, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if a.Title == "" {
			continue
		}
		article := Article{
			Title:   a.Title,
			URL:     a.URL,
			Source:  a.Source.Name,
			Snippet: a.Description,
		}
		if ts, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			article.PublishedAt = ts
		}
		articles = append(articles, article)
		if len(articles) == limit {
			break
		}
	}
	return articles, nil
}
