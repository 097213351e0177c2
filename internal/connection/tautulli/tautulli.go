// Package tautulli implements the Tautulli connector. Tautulli observes a
// Plex server's playback, so it serves one purpose here: reporting which
// series were watched recently so watched-state polling can focus on them.
package tautulli

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// Client is a Tautulli connector.
type Client struct {
	client        *connection.Client
	logger        zerolog.Logger
	id            int64
	baseURL       string
	apiKey        string
	active        bool
	activationErr error
}

// New creates a Tautulli connector and runs its activation probe.
func New(ctx context.Context, conn *library.Connection, logger zerolog.Logger) connection.Connector {
	c := &Client{
		client:  connection.NewClient(logger, conn.VerifySSL),
		logger:  logger.With().Str("component", "tautulli").Int64("interfaceId", conn.ID).Logger(),
		id:      conn.ID,
		baseURL: strings.TrimRight(conn.URL, "/"),
		apiKey:  conn.APIKey,
	}
	c.activate(ctx)
	return c
}

func (c *Client) activate(ctx context.Context) {
	var resp struct {
		Response struct {
			Result string `json:"result"`
		} `json:"response"`
	}
	if err := c.client.GetJSON(ctx, c.request("status", nil), &resp); err != nil {
		c.activationErr = &connection.ActivationError{Kind: "tautulli", Err: err}
		return
	}
	c.active = true
	c.logger.Debug().Msg("Activated Tautulli connection")
}

func (c *Client) request(cmd string, params url.Values) connection.Request {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	params.Set("cmd", cmd)
	return connection.Request{URL: c.baseURL + "/api/v2", Params: params}
}

func (c *Client) ID() int64                    { return c.id }
func (c *Client) Kind() library.ConnectionKind { return library.KindTautulli }
func (c *Client) Active() bool                 { return c.active }
func (c *Client) ActivationErr() error         { return c.activationErr }

// WatchedEntry is one recently watched episode from Tautulli's history.
type WatchedEntry struct {
	SeriesName           string
	Year                 int
	GrandparentRatingKey string
	WatchedAt            time.Time
}

// SeriesInfo builds a matchable identity for the watched series.
func (e WatchedEntry) SeriesInfo(plexInterfaceID int64, libraryName string) *info.SeriesInfo {
	si := info.NewSeriesInfo(e.SeriesName, e.Year)
	if e.GrandparentRatingKey != "" && plexInterfaceID != 0 {
		_ = si.IDs.Set(info.LibraryKey(info.SourcePlex, plexInterfaceID, libraryName), e.GrandparentRatingKey)
	}
	return si
}

// RecentlyWatched returns episode watch history entries newer than since.
func (c *Client) RecentlyWatched(ctx context.Context, since time.Time) ([]WatchedEntry, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}

	params := url.Values{}
	params.Set("media_type", "episode")
	params.Set("length", "200")
	params.Set("order_column", "date")
	params.Set("order_dir", "desc")
	var resp struct {
		Response struct {
			Data struct {
				Data []struct {
					GrandparentTitle     string `json:"grandparent_title"`
					GrandparentRatingKey int    `json:"grandparent_rating_key"`
					Year                 int    `json:"year"`
					Date                 int64  `json:"date"`
					WatchedStatus        any    `json:"watched_status"`
				} `json:"data"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := c.client.GetJSON(ctx, c.request("get_history", params), &resp); err != nil {
		return nil, err
	}

	var entries []WatchedEntry
	for _, h := range resp.Response.Data.Data {
		watchedAt := time.Unix(h.Date, 0)
		if watchedAt.Before(since) {
			continue
		}
		entry := WatchedEntry{
			SeriesName: h.GrandparentTitle,
			Year:       h.Year,
			WatchedAt:  watchedAt,
		}
		if h.GrandparentRatingKey != 0 {
			entry.GrandparentRatingKey = strconv.Itoa(h.GrandparentRatingKey)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var _ connection.Connector = (*Client)(nil)
