package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/LluisCV99/jarvis/pkg/toolexecutor"
	"github.com/tidwall/gjson"
)

// DefaultSearchEndpoint is the DuckDuckGo instant answer API
const DefaultSearchEndpoint = "https://api.duckduckgo.com/"

const maxSearchResults = 5

func webSearchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "web_search",
		Description: "Searches the web for the given query.",
		Category:    toolexecutor.CategoryWeb,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			query = strings.TrimSpace(query)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			return search(ctx, opts.HTTPClient, opts.SearchEndpoint, query)
		},
	}
}

func search(ctx context.Context, client *http.Client, endpoint, query string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "jarvis/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("search returned invalid JSON")
	}

	return formatSearchResults(query, gjson.ParseBytes(body)), nil
}

// formatSearchResults flattens an instant answer document into text
func formatSearchResults(query string, doc gjson.Result) string {
	var lines []string

	if answer := doc.Get("Answer").String(); answer != "" {
		lines = append(lines, answer)
	}
	if abstract := doc.Get("AbstractText").String(); abstract != "" {
		line := abstract
		if src := doc.Get("AbstractURL").String(); src != "" {
			line += " (" + src + ")"
		}
		lines = append(lines, line)
	}
	if def := doc.Get("Definition").String(); def != "" {
		lines = append(lines, def)
	}

	// Related topics are either entries or groups of entries
	var topics []string
	doc.Get("RelatedTopics").ForEach(func(_, topic gjson.Result) bool {
		if nested := topic.Get("Topics"); nested.Exists() {
			nested.ForEach(func(_, t gjson.Result) bool {
				topics = appendTopic(topics, t)
				return len(topics) < maxSearchResults
			})
		} else {
			topics = appendTopic(topics, topic)
		}
		return len(topics) < maxSearchResults
	})
	lines = append(lines, topics...)

	if len(lines) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	return strings.Join(lines, "\n")
}

func appendTopic(topics []string, t gjson.Result) []string {
	text := t.Get("Text").String()
	if text == "" {
		return topics
	}
	if link := t.Get("FirstURL").String(); link != "" {
		text += " (" + link + ")"
	}
	return append(topics, "- "+text)
}
