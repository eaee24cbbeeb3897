package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string) *Client {
	return NewClient(&http.Client{Timeout: 5 * time.Second}, discardLogger(), baseURL, "ru-ru", "moderate")
}

func TestWebSearch_StripsFillerAndAppendsLanguage(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/search") {
			gotQuery = r.URL.Query().Get("q")
			json.NewEncoder(w).Encode(searchResponse{})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.WebSearch(context.Background(), "найди мне курс доллара")

	assert.Equal(t, "курс доллара lang:ru", gotQuery)
}

func TestWebSearch_FetchesTopPagesAndSkipsDictionaries(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/search"):
			json.NewEncoder(w).Encode(searchResponse{Results: []searchResult{
				{Title: "Словарь", URL: "https://ru.wiktionary.org/wiki/слово", Content: "словарная статья"},
				{Title: "Статья", URL: srv.URL + "/page1", Content: "сниппет"},
				{Title: "Недоступно", URL: srv.URL + "/missing", Content: "сниппет"},
				{Title: "Ещё статья", URL: srv.URL + "/page2", Content: "сниппет"},
			}})
		case r.URL.Path == "/page1":
			fmt.Fprint(w, "<html><body><p>содержимое первой страницы</p></body></html>")
		case r.URL.Path == "/page2":
			fmt.Fprint(w, "<html><body><p>содержимое второй страницы</p></body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out := c.WebSearch(context.Background(), "вопрос")

	assert.Contains(t, out, "содержимое первой страницы")
	assert.Contains(t, out, "содержимое второй страницы")
	assert.NotContains(t, out, "словарная статья", "dictionary results must be skipped")
	assert.NotContains(t, out, "ERROR:", "a failed page fetch must not fail the search")
}

func TestWebSearch_ErrorsBecomeText(t *testing.T) {
	c := newTestClient("")
	out := c.WebSearch(context.Background(), "вопрос")
	assert.True(t, strings.HasPrefix(out, "ERROR:"))

	c = newTestClient("http://127.0.0.1:1")
	out = c.WebSearch(context.Background(), "вопрос")
	assert.True(t, strings.HasPrefix(out, "ERROR:"))
}

func TestWebSearch_FallsBackToSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/search") {
			json.NewEncoder(w).Encode(searchResponse{Results: []searchResult{
				{Title: "Статья", URL: "http://127.0.0.1:1/unreachable", Content: "только сниппет"},
			}})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out := c.WebSearch(context.Background(), "вопрос")
	assert.Contains(t, out, "только сниппет", "engine snippets are the fallback when no page loads")
}

func TestFetchURL_TruncatesLongPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>")
		for i := 0; i < 5000; i++ {
			fmt.Fprint(w, "<p>очень длинный текст</p>")
		}
		fmt.Fprint(w, "</body></html>")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out := c.FetchURL(context.Background(), srv.URL)
	assert.False(t, strings.HasPrefix(out, "ERROR:"))
	// The cap counts characters, so a Cyrillic page keeps the full budget
	// and the cut never produces broken UTF-8.
	assert.Equal(t, fetchResultSize, len([]rune(out)))
	assert.True(t, utf8.ValidString(out))
}

func TestWebSearch_ExcerptBudgetCountsRunes(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>", strings.Repeat("ж", pageExcerptSize+500), "</p></body></html>")
	}))
	defer page.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"results":[{"title":"статья","url":%q,"content":"сниппет"}]}`, page.URL)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out := c.WebSearch(context.Background(), "вопрос")
	require.True(t, utf8.ValidString(out))
	assert.Equal(t, pageExcerptSize, strings.Count(out, "ж"))
}

func TestFetchURL_BadStatusBecomesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out := c.FetchURL(context.Background(), srv.URL)
	assert.True(t, strings.HasPrefix(out, "ERROR:"))
}

func TestExtractText(t *testing.T) {
	page := `<html><head><style>body{color:red}</style><script>alert(1)</script></head>
<body><h1>Заголовок</h1>
<p>Первый   абзац.</p>
<p>Второй абзац.</p></body></html>`

	text := ExtractText(page)
	assert.Contains(t, text, "Заголовок")
	assert.Contains(t, text, "Первый абзац.")
	assert.NotContains(t, text, "alert", "script content must be stripped")
	assert.NotContains(t, text, "color:red", "style content must be stripped")
	assert.NotContains(t, text, "  ", "whitespace runs must collapse")
}

func TestWebSearch_EmptyQueryAfterStripping(t *testing.T) {
	c := newTestClient("http://unused")
	out := c.WebSearch(context.Background(), "  найди   ")
	require.True(t, strings.HasPrefix(out, "ERROR:"))
}
