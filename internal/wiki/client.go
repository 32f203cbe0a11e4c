// Package wiki downloads Wikipedia articles through the MediaWiki Action API and
// stores them as plain-text files.
package wiki

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

	"golang.org/x/time/rate"

	"github.com/Yates-Labs/f1rag/internal/rag"
)

// Common errors for wiki operations
var (
	ErrCategoryNotFound = errors.New("category does not exist")
	ErrPageNotFound     = errors.New("page does not exist")
	ErrRedirect         = errors.New("page is a redirect")
	ErrDisambiguation   = errors.New("page is a disambiguation page")
	ErrAPI              = errors.New("mediawiki api error")
)

const (
	namespaceArticle  = 0
	namespaceCategory = 14
	categoryPrefix    = "Category:"
)

// ClientConfig holds configuration for the MediaWiki client
type ClientConfig struct {
	APIURL            string // e.g. https://en.wikipedia.org/w/api.php
	Language          string // used for document IDs, e.g. "en" -> "enwiki:<pageid>"
	UserAgent         string
	RequestsPerSecond float64 // <= 0 disables throttling
	Timeout           time.Duration
	MaxArticles       int // cap on CategoryMembers output, 0 = unlimited
	HTTPClient        *http.Client
}

// DefaultClientConfig returns the default client configuration for English Wikipedia
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		APIURL:            "https://en.wikipedia.org/w/api.php",
		Language:          "en",
		UserAgent:         "f1rag/1.0 (https://github.com/Yates-Labs/f1rag)",
		RequestsPerSecond: 5,
		Timeout:           30 * time.Second,
	}
}

// Client is a small MediaWiki Action API client. It is safe for concurrent use;
// all requests share one rate limiter.
type Client struct {
	config  ClientConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new MediaWiki client
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		config:  cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

type apiPage struct {
	PageID    int64  `json:"pageid"`
	NS        int    `json:"ns"`
	Title     string `json:"title"`
	Missing   bool   `json:"missing"`
	Invalid   bool   `json:"invalid"`
	Redirect  bool   `json:"redirect"`
	FullURL   string `json:"fullurl"`
	LastRevID int64  `json:"lastrevid"`
	PageProps struct {
		Disambiguation *string `json:"disambiguation"`
	} `json:"pageprops"`
}

type queryResponse struct {
	Error    *apiError `json:"error"`
	Continue struct {
		CMContinue string `json:"cmcontinue"`
	} `json:"continue"`
	Query struct {
		Pages           []apiPage `json:"pages"`
		CategoryMembers []apiPage `json:"categorymembers"`
	} `json:"query"`
}

type parseResponse struct {
	Error *apiError `json:"error"`
	Parse struct {
		Title  string `json:"title"`
		PageID int64  `json:"pageid"`
		RevID  int64  `json:"revid"`
		Text   string `json:"text"`
	} `json:"parse"`
}

// CategoryMembers returns the titles of all articles in category and its
// subcategories down to maxDepth levels. Categories and pages are visited once;
// the result follows traversal order and is capped at MaxArticles when set.
func (c *Client) CategoryMembers(ctx context.Context, category string, maxDepth int) ([]string, error) {
	root := categoryTitle(category)

	page, err := c.pageInfo(ctx, root)
	if err != nil {
		return nil, err
	}
	if page.Missing || page.Invalid {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, root)
	}

	var (
		titles         []string
		seenPages      = make(map[string]bool)
		seenCategories = make(map[string]bool)
	)

	var walk func(cat string, level int) error
	walk = func(cat string, level int) error {
		if level > maxDepth || seenCategories[cat] {
			return nil
		}
		seenCategories[cat] = true

		members, err := c.listMembers(ctx, cat)
		if err != nil {
			return err
		}
		for _, m := range members {
			if c.full(len(titles)) {
				return nil
			}
			switch m.NS {
			case namespaceCategory:
				if err := walk(m.Title, level+1); err != nil {
					return err
				}
			case namespaceArticle:
				if !seenPages[m.Title] {
					seenPages[m.Title] = true
					titles = append(titles, m.Title)
				}
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return titles, err
	}
	return titles, nil
}

func (c *Client) full(n int) bool {
	return c.config.MaxArticles > 0 && n >= c.config.MaxArticles
}

// listMembers follows cmcontinue until the category listing is exhausted.
func (c *Client) listMembers(ctx context.Context, category string) ([]apiPage, error) {
	var (
		members []apiPage
		cont    string
	)
	for {
		params := url.Values{
			"action":  {"query"},
			"list":    {"categorymembers"},
			"cmtitle": {category},
			"cmtype":  {"page|subcat"},
			"cmlimit": {"500"},
		}
		if cont != "" {
			params.Set("cmcontinue", cont)
		}

		var resp queryResponse
		if err := c.get(ctx, params, &resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrAPI, resp.Error.Code, resp.Error.Info)
		}
		members = append(members, resp.Query.CategoryMembers...)

		cont = resp.Continue.CMContinue
		if cont == "" {
			return members, nil
		}
	}
}

func (c *Client) pageInfo(ctx context.Context, title string) (*apiPage, error) {
	params := url.Values{
		"action": {"query"},
		"titles": {title},
		"prop":   {"info|pageprops"},
		"inprop": {"url"},
		"ppprop": {"disambiguation"},
	}

	var resp queryResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrAPI, resp.Error.Code, resp.Error.Info)
	}
	if len(resp.Query.Pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, title)
	}
	return &resp.Query.Pages[0], nil
}

// FetchArticle downloads one article and reduces its HTML to plain text.
// Redirects, disambiguation pages and missing pages are rejected with
// ErrRedirect, ErrDisambiguation and ErrPageNotFound.
func (c *Client) FetchArticle(ctx context.Context, title string) (*rag.RawDocument, error) {
	page, err := c.pageInfo(ctx, title)
	if err != nil {
		return nil, err
	}
	switch {
	case page.Missing || page.Invalid:
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, title)
	case page.Redirect:
		return nil, fmt.Errorf("%w: %s", ErrRedirect, title)
	case page.PageProps.Disambiguation != nil:
		return nil, fmt.Errorf("%w: %s", ErrDisambiguation, title)
	}

	params := url.Values{
		"action":             {"parse"},
		"pageid":             {strconv.FormatInt(page.PageID, 10)},
		"prop":               {"text"},
		"disableeditsection": {"1"},
		"disabletoc":         {"1"},
	}
	var resp parseResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.Code == "missingtitle" || resp.Error.Code == "nosuchpageid" {
			return nil, fmt.Errorf("%w: %s", ErrPageNotFound, title)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrAPI, resp.Error.Code, resp.Error.Info)
	}

	text, summary, err := ExtractText(resp.Parse.Text)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", title, err)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: %s has no text", ErrPageNotFound, title)
	}

	return &rag.RawDocument{
		ID:        fmt.Sprintf("%swiki:%d", c.config.Language, page.PageID),
		Title:     page.Title,
		Text:      text,
		Summary:   summary,
		SourceURL: page.FullURL,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// get performs a rate-limited GET against the API and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("format", "json")
	params.Set("formatversion", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mediawiki %s request: %w", params.Get("action"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrAPI, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrAPI, err)
	}
	return nil
}

func categoryTitle(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "_", " ")
	if strings.HasPrefix(name, categoryPrefix) {
		return name
	}
	return categoryPrefix + name
}
