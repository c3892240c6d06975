package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const arxivEndpoint = "https://export.arxiv.org/api/query"

// arXiv asks clients to leave three seconds between calls.
var arxivLimiter = rate.NewLimiter(rate.Every(3*time.Second), 1)

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches the arXiv Atom API. It needs no credentials.
type Arxiv struct {
	Endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewArxiv constructs an arXiv provider.
func NewArxiv() *Arxiv {
	return &Arxiv{Endpoint: arxivEndpoint, client: defaultClient(20 * time.Second), limiter: arxivLimiter}
}

func (a *Arxiv) Name() string { return "arxiv" }

// Search queries arXiv and maps entries to results, preferring the abstract page link.
func (a *Arxiv) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(clampResults(maxResults)))
	params.Add("start", "0")
	apiURL := a.Endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create arxiv request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("arXiv returned non-200 status code", "status", resp.StatusCode)
		return nil, fmt.Errorf("arxiv http %d", resp.StatusCode)
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	results := make([]Result, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := entry.ID
		for _, l := range entry.Link {
			if l.Rel == "alternate" {
				link = l.Href
				break
			}
			if l.Type == "application/pdf" && link == "" {
				link = l.Href
			}
		}
		results = append(results, Result{
			Title:   collapseSpace(entry.Title),
			URL:     strings.TrimSpace(link),
			Snippet: collapseSpace(entry.Summary),
		})
	}
	return results, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
