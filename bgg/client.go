// Package bgg fetches board-game metadata from the BoardGameGeek XML API.
package bgg

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"piazza-lending/library"
)

// DefaultBaseURL is the public XML API v2 endpoint.
const DefaultBaseURL = "https://boardgamegeek.com/xmlapi2"

const maxDescription = 1024

// Client implements library.MetadataSource.
type Client struct {
	baseURL    string
	http       *http.Client
	batchSize  int
	maxResults int
	log        logrus.FieldLogger
}

var _ library.MetadataSource = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

// WithBatchSize sets how many ids go into one thing request.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithMaxResults caps the ids returned by a search.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option { return func(c *Client) { c.log = l } }

// New creates a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 10 * time.Second},
		batchSize:  20,
		maxResults: 200,
		log:        discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

type valueAttr struct {
	Value string `xml:"value,attr"`
}

type searchResponse struct {
	Items []struct {
		Type string `xml:"type,attr"`
		ID   int64  `xml:"id,attr"`
	} `xml:"item"`
}

type thing struct {
	Type        string `xml:"type,attr"`
	ID          int64  `xml:"id,attr"`
	Thumbnail   string `xml:"thumbnail"`
	Description string `xml:"description"`
	Names       []struct {
		Type  string `xml:"type,attr"`
		Value string `xml:"value,attr"`
	} `xml:"name"`
	MinPlayers  valueAttr `xml:"minplayers"`
	MaxPlayers  valueAttr `xml:"maxplayers"`
	PlayingTime valueAttr `xml:"playingtime"`
	Links       []struct {
		Type  string `xml:"type,attr"`
		Value string `xml:"value,attr"`
	} `xml:"link"`
	Ranks []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"statistics>ratings>ranks>rank"`
	Average      valueAttr `xml:"statistics>ratings>average"`
	BayesAverage valueAttr `xml:"statistics>ratings>bayesaverage"`
}

type thingResponse struct {
	Items []thing `xml:"item"`
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, q url.Values, into any) error {
	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bgg %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		// BGG queues expensive requests and answers 202 until ready.
		return fmt.Errorf("bgg %s: request queued, retry later", path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("bgg %s: unexpected status %s", path, resp.Status)
	}
	if err := xml.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("bgg %s: decode: %w", path, err)
	}
	return nil
}

// SearchIDs returns the ids of board games matching query, at most
// maxResults of them.
func (c *Client) SearchIDs(ctx context.Context, query string) ([]int64, error) {
	var res searchResponse
	if err := c.get(ctx, "/search", url.Values{"query": {query}, "type": {"boardgame"}}, &res); err != nil {
		return nil, err
	}
	ids := []int64{}
	for _, it := range res.Items {
		if it.Type != "boardgame" {
			continue
		}
		ids = append(ids, it.ID)
		if len(ids) == c.maxResults {
			break
		}
	}
	c.log.WithFields(logrus.Fields{"query": query, "results": len(ids)}).Debug("bgg search")
	return ids, nil
}

// FetchByIDs resolves ids to drafts in batches. Non-boardgame things are
// skipped. Drafts carry one copy; callers override it.
func (c *Client) FetchByIDs(ctx context.Context, ids []int64) ([]library.ItemDraft, error) {
	drafts := []library.ItemDraft{}
	for start := 0; start < len(ids); start += c.batchSize {
		end := min(start+c.batchSize, len(ids))
		batch := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			batch = append(batch, strconv.FormatInt(id, 10))
		}
		var res thingResponse
		if err := c.get(ctx, "/thing", url.Values{"id": {strings.Join(batch, ",")}, "stats": {"1"}}, &res); err != nil {
			return nil, err
		}
		for _, t := range res.Items {
			if t.Type != "boardgame" {
				continue
			}
			drafts = append(drafts, t.draft())
		}
		c.log.WithFields(logrus.Fields{"batch": len(batch), "total": len(drafts)}).Debug("bgg fetch")
	}
	return drafts, nil
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func (t thing) draft() library.ItemDraft {
	ref := t.ID
	details := library.BoardGameDetails{
		MinPlayers:  atoi(t.MinPlayers.Value),
		MaxPlayers:  atoi(t.MaxPlayers.Value),
		PlayingTime: atoi(t.PlayingTime.Value),
		ExternalRef: &ref,
		AvgRating:   parseFloat(t.Average.Value),
		BGGRating:   parseFloat(t.BayesAverage.Value),
	}
	if len(t.Ranks) > 0 {
		details.Rank = parseInt(t.Ranks[0].Value)
	}

	var categories []string
	for _, l := range t.Links {
		if l.Type == "boardgamecategory" {
			categories = append(categories, l.Value)
		}
	}
	return library.ItemDraft{
		Name:        t.primaryName(),
		Description: truncate(html.UnescapeString(strings.TrimSpace(t.Description)), maxDescription),
		Thumbnail:   strings.TrimSpace(t.Thumbnail),
		Categories:  categories,
		TotalCopies: 1,
		Details:     details,
	}
}

func (t thing) primaryName() string {
	for _, n := range t.Names {
		if n.Type == "primary" {
			return n.Value
		}
	}
	if len(t.Names) > 0 {
		return t.Names[0].Value
	}
	return ""
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// parseInt returns nil for "Not Ranked" and other non-numbers.
func parseInt(s string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// parseFloat returns nil for missing values and for BGG's "0" placeholder.
func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f == 0 {
		return nil
	}
	return &f
}
