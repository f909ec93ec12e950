package knowledge

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const SourceMedlinePlus = "MedlinePlus"

// Topic is one English MedlinePlus health topic, flattened for the CSV.
type Topic struct {
	ID          string
	Title       string
	Description string
	SourceURL   string
	SourceName  string
}

// FeedURL fills template with yesterday's date, the newest file MedlinePlus
// reliably publishes.
func FeedURL(template string, now time.Time) string {
	return fmt.Sprintf(template, now.AddDate(0, 0, -1).Format("2006-01-02"))
}

type Fetcher struct {
	client   *http.Client
	template string
}

func NewFetcher(template string, timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}, template: template}
}

// Fetch downloads and parses the topic feed for the day before now.
func (f *Fetcher) Fetch(ctx context.Context, now time.Time) ([]Topic, error) {
	url := FeedURL(f.template, now)
	slog.Info("Downloading MedlinePlus feed", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download feed: unexpected status %d", resp.StatusCode)
	}

	topics, err := ParseTopics(resp.Body)
	if err != nil {
		return nil, err
	}

	slog.Info("MedlinePlus feed parsed", "topics", len(topics))
	return topics, nil
}

type healthTopic struct {
	URL         string `xml:"url,attr"`
	Title       string `xml:"title,attr"`
	ID          string `xml:"id,attr"`
	FullSummary string `xml:"full-summary"`
}

// ParseTopics streams health-topic elements from the feed, skipping Spanish
// pages, and strips the HTML out of each summary.
func ParseTopics(r io.Reader) ([]Topic, error) {
	dec := xml.NewDecoder(r)
	var topics []Topic

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "health-topic" {
			continue
		}

		var ht healthTopic
		if err := dec.DecodeElement(&ht, &start); err != nil {
			return nil, fmt.Errorf("parse health-topic: %w", err)
		}
		if strings.Contains(ht.URL, "/spanish/") {
			continue
		}

		topics = append(topics, Topic{
			ID:          ht.ID,
			Title:       ht.Title,
			Description: StripHTML(ht.FullSummary),
			SourceURL:   ht.URL,
			SourceName:  SourceMedlinePlus,
		})
	}

	return topics, nil
}

// StripHTML returns the text content of an HTML fragment: every text node
// trimmed, blanks dropped, joined with single spaces.
func StripHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	var parts []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(parts, " ")
		case html.TextToken:
			if text := strings.TrimSpace(string(z.Text())); text != "" {
				parts = append(parts, text)
			}
		}
	}
}
