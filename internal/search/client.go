package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	maxCandidates   = 10
	maxPageFetches  = 3
	pageExcerptSize = 4000
	fetchResultSize = 12000
	querySuffix     = " lang:ru"
)

// Filler prefixes users type before the actual question.
var fillerPrefix = regexp.MustCompile(`(?i)^(привет|здравствуй|как дела|найди мне|найди)\s+`)

// Client implements the browsing tools against a SearX-style JSON search
// endpoint. Tool methods always return text: failures become "ERROR: ..."
// strings the model can read and work around.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	region     string
	safety     string
}

func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, region, safety string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		region:     region,
		safety:     safety,
	}
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// WebSearch queries the search endpoint and stitches excerpts from the first
// pages that actually load. It stops after three successful fetches.
func (c *Client) WebSearch(ctx context.Context, query string) string {
	query = strings.TrimSpace(fillerPrefix.ReplaceAllString(strings.TrimSpace(query), ""))
	if query == "" {
		return "ERROR: пустой поисковый запрос"
	}
	if c.baseURL == "" {
		return "ERROR: поиск не настроен"
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&language=%s&safesearch=%s",
		strings.TrimRight(c.baseURL, "/"),
		url.QueryEscape(query+querySuffix),
		url.QueryEscape(c.region),
		url.QueryEscape(c.safety),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("search request failed", "error", err)
		return "ERROR: " + err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("ERROR: поисковый сервис вернул статус %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "ERROR: " + err.Error()
	}
	if len(parsed.Results) == 0 {
		return "По запросу ничего не найдено."
	}

	var b strings.Builder
	var sources []string
	fetched := 0
	candidates := parsed.Results
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	for _, r := range candidates {
		if fetched >= maxPageFetches {
			break
		}
		// Dictionary pages rarely answer a real question.
		if strings.Contains(r.URL, "wiktionary.org") {
			continue
		}
		text, err := c.fetchPage(ctx, r.URL)
		if err != nil {
			c.logger.Debug("page fetch failed", "url", r.URL, "error", err)
			continue
		}
		text = truncateRunes(text, pageExcerptSize)
		fmt.Fprintf(&b, "Источник: %s (%s)\n%s\n\n", r.Title, r.URL, text)
		sources = append(sources, r.URL)
		fetched++
	}
	if fetched == 0 {
		// Fall back to the engine's own snippets.
		for _, r := range candidates {
			fmt.Fprintf(&b, "Источник: %s (%s)\n%s\n\n", r.Title, r.URL, r.Content)
			sources = append(sources, r.URL)
		}
	}
	if len(sources) > 0 {
		b.WriteString("📚 Источники:\n")
		for _, u := range sources {
			fmt.Fprintf(&b, "%s\n", u)
		}
	}
	return strings.TrimSpace(b.String())
}

// FetchURL loads one page and returns its visible text, capped.
func (c *Client) FetchURL(ctx context.Context, pageURL string) string {
	text, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return truncateRunes(text, fetchResultSize)
}

// truncateRunes caps text at limit characters. The caps count runes, not
// bytes, so Cyrillic pages get the full budget and the cut never lands
// inside a multi-byte sequence.
func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; finnybot/1.0)")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("страница вернула статус %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return ExtractText(string(body)), nil
}

var whitespace = regexp.MustCompile(`\s+`)

// ExtractText strips markup from an HTML document, skipping script and style
// subtrees, and collapses runs of whitespace to single spaces.
func ExtractText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return strings.TrimSpace(whitespace.ReplaceAllString(page, " "))
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return strings.TrimSpace(whitespace.ReplaceAllString(b.String(), " "))
}
