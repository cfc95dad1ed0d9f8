// Package news provides the built-in "search_news" tool backed by the
// NewsAPI.org /v2/everything endpoint.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/toolcaller/internal/tools"
)

// DefaultBaseURL is the NewsAPI.org endpoint.
const DefaultBaseURL = "https://newsapi.org"

const (
	minCount       = 1
	maxCount       = 10
	contentPreview = 200
)

// ErrMissingAPIKey is returned by the handler when no API key is configured.
var ErrMissingAPIKey = errors.New("news: NEWS_API_KEY is not set")

// Config configures the news tool.
type Config struct {
	APIKey string

	// BaseURL overrides [DefaultBaseURL]; used by tests.
	BaseURL string

	// DefaultCount is used when the model omits count. Default: 3.
	DefaultCount int

	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

// Args are the arguments of search_news.
type Args struct {
	Topic string `json:"topic" jsonschema_description:"The topic to search for news about"`
	Count *int   `json:"count,omitempty" jsonschema:"minimum=1,maximum=10,default=3" jsonschema_description:"Number of articles to return (1-10)"`
}

// Article is one news article as presented to the model.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Author      string `json:"author"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Result is the successful result of search_news.
type Result struct {
	Topic        string    `json:"topic"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
}

// Tool returns the search_news tool.
func Tool(cfg Config) tools.Tool {
	c := &client{cfg: cfg}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = DefaultBaseURL
	}
	if c.cfg.DefaultCount <= 0 {
		c.cfg.DefaultCount = 3
	}
	if c.cfg.HTTPClient == nil {
		c.cfg.HTTPClient = tools.HTTPClient(15 * time.Second)
	}
	return tools.New("search_news", "Search for news articles on a specific topic", c.handle)
}

type client struct {
	cfg Config
}

func (c *client) handle(ctx context.Context, args Args) (any, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	count := c.cfg.DefaultCount
	if args.Count != nil {
		count = *args.Count
	}
	count = min(max(count, minCount), maxCount)

	data, err := c.fetch(ctx, args.Topic, count)
	if err != nil {
		return map[string]string{
			"error": fmt.Sprintf("Failed to get news for topic %q: %s", args.Topic, err),
		}, nil
	}

	out := Result{
		Topic:        args.Topic,
		TotalResults: data.TotalResults,
		Articles:     make([]Article, 0, len(data.Articles)),
	}
	for _, a := range data.Articles {
		out.Articles = append(out.Articles, Article{
			Title:       a.Title,
			Description: a.Description,
			Source:      a.Source.Name,
			Author:      a.Author,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
			Content:     preview(a.Content),
		})
	}
	return out, nil
}

func (c *client) fetch(ctx context.Context, topic string, count int) (*apiResponse, error) {
	q := url.Values{}
	q.Set("q", topic)
	q.Set("pageSize", strconv.Itoa(count))
	q.Set("apiKey", c.cfg.APIKey)
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v2/everything?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(c.cfg.APIKey), "REDACTED"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("News API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &data, nil
}

// preview truncates content to its first 200 runes followed by "...".
func preview(content string) string {
	if content == "" {
		return "No content available"
	}
	r := []rune(content)
	if len(r) > contentPreview {
		r = r[:contentPreview]
	}
	return string(r) + "..."
}

// ─── NewsAPI.org wire format ─────────────────────────────────────────────────

type apiResponse struct {
	Status       string `json:"status"`
	TotalResults int    `json:"totalResults"`
	Articles     []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Author      string `json:"author"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Content     string `json:"content"`
	} `json:"articles"`
}
