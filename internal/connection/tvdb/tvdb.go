// Package tvdb implements TheTVDB v4 connector. Authentication is a
// bearer token obtained from /login; tokens are valid for a month and are
// refreshed proactively after 25 days.
package tvdb

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

const (
	apiBase = "https://api4.thetvdb.com/v4"

	// tokenLifetime is how long a login token is trusted before a new
	// login. TVDb tokens last a month; refreshing at 25 days leaves slack.
	tokenLifetime = 25 * 24 * time.Hour
)

// TVDb v4 artwork type ids.
const (
	artSeriesBackground = 3
	artSeriesClearLogo  = 23
)

// Client is a TVDb connector.
type Client struct {
	client        *connection.Client
	logger        zerolog.Logger
	id            int64
	apiKey        string
	languages     []string
	active        bool
	activationErr error

	tokenMu    sync.Mutex
	token      string
	tokenUntil time.Time
}

// New creates a TVDb connector and runs its activation probe.
func New(ctx context.Context, conn *library.Connection, logger zerolog.Logger) connection.Connector {
	c := &Client{
		client:    connection.NewClient(logger, conn.VerifySSL),
		logger:    logger.With().Str("component", "tvdb").Int64("interfaceId", conn.ID).Logger(),
		id:        conn.ID,
		apiKey:    conn.APIKey,
		languages: conn.LanguagePriority,
	}
	if _, err := c.bearerToken(ctx); err != nil {
		c.activationErr = &connection.ActivationError{Kind: "tvdb", Err: err}
		return c
	}
	c.active = true
	c.logger.Debug().Msg("Activated TVDb connection")
	return c
}

// bearerToken returns a valid login token, logging in again once the
// current one ages past the refresh window. Double-checked under the lock
// so concurrent callers trigger at most one login.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenUntil) {
		return c.token, nil
	}

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	req := connection.Request{URL: apiBase + "/login"}
	if err := c.client.PostJSON(ctx, req, map[string]string{"apikey": c.apiKey}, &resp); err != nil {
		return "", fmt.Errorf("tvdb login: %w", err)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("tvdb login: %w", connection.ErrAuth)
	}
	c.token = resp.Data.Token
	c.tokenUntil = time.Now().Add(tokenLifetime)
	return c.token, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}
	req := connection.Request{
		URL:     apiBase + path,
		Params:  params,
		Headers: map[string]string{"Authorization": "Bearer " + token},
	}
	return c.client.GetJSON(ctx, req, out)
}

func (c *Client) ID() int64                    { return c.id }
func (c *Client) Kind() library.ConnectionKind { return library.KindTVDb }
func (c *Client) Active() bool                 { return c.active }
func (c *Client) ActivationErr() error         { return c.activationErr }

// tvdbID resolves the TVDb series id, preferring the stored ID over a
// title search.
func (c *Client) tvdbID(ctx context.Context, si *info.SeriesInfo) (int, error) {
	if id := si.IDs.Get(info.GlobalKey(info.SourceTVDb)); id != "" {
		if n, err := strconv.Atoi(id); err == nil {
			return n, nil
		}
	}

	params := url.Values{}
	params.Set("query", si.Name)
	params.Set("type", "series")
	var search struct {
		Data []struct {
			TVDbID string `json:"tvdb_id"`
			Name   string `json:"name"`
			Year   string `json:"year"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/search", params, &search); err != nil {
		return 0, err
	}
	for _, hit := range search.Data {
		year, _ := strconv.Atoi(hit.Year)
		if si.Matches(info.NewSeriesInfo(hit.Name, year)) {
			n, err := strconv.Atoi(hit.TVDbID)
			if err != nil {
				continue
			}
			_ = si.IDs.Set(info.GlobalKey(info.SourceTVDb), hit.TVDbID)
			return n, nil
		}
	}
	return 0, connection.ErrNotFound
}

type tvdbEpisode struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"number"`
	AbsoluteNum   *int   `json:"absoluteNumber"`
	Aired         string `json:"aired"`
	Image         string `json:"image"`
}

func (ep tvdbEpisode) episodeInfo() *info.EpisodeInfo {
	ei := info.NewEpisodeInfo(ep.Name, ep.SeasonNumber, ep.EpisodeNumber)
	if ep.AbsoluteNum != nil && *ep.AbsoluteNum > 0 {
		ei.AbsoluteNumber = ep.AbsoluteNum
	}
	if t, err := time.Parse("2006-01-02", ep.Aired); err == nil {
		ei.Airdate = &t
	}
	_ = ei.IDs.Set(info.GlobalKey(info.SourceTVDb), strconv.Itoa(ep.ID))
	return ei
}

// allEpisodes pages through the default season order.
func (c *Client) allEpisodes(ctx context.Context, seriesID int) ([]tvdbEpisode, error) {
	var episodes []tvdbEpisode
	for page := 0; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		var resp struct {
			Data struct {
				Episodes []tvdbEpisode `json:"episodes"`
			} `json:"data"`
			Links struct {
				Next *string `json:"next"`
			} `json:"links"`
		}
		path := fmt.Sprintf("/series/%d/episodes/default", seriesID)
		if err := c.getJSON(ctx, path, params, &resp); err != nil {
			return nil, err
		}
		episodes = append(episodes, resp.Data.Episodes...)
		if resp.Links.Next == nil || *resp.Links.Next == "" {
			break
		}
	}
	return episodes, nil
}

// SetSeriesIDs fills the series' TVDb id.
func (c *Client) SetSeriesIDs(ctx context.Context, libraryName string, si *info.SeriesInfo) error {
	if !c.active {
		return connection.ErrInactive
	}
	_, err := c.tvdbID(ctx, si)
	return err
}

// SetEpisodeIDs fills TVDb episode ids for the given episodes.
func (c *Client) SetEpisodeIDs(ctx context.Context, libraryName string, si *info.SeriesInfo, episodes []*info.EpisodeInfo) error {
	if !c.active {
		return connection.ErrInactive
	}
	entries, err := c.GetAllEpisodes(ctx, libraryName, si)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		for _, entry := range entries {
			if ep.Matches(entry.Info, false) {
				if err := ep.MergeIDs(entry.Info); err != nil {
					c.logger.Warn().Err(err).Str("episode", ep.Key()).Msg("Conflicting episode IDs")
				}
				break
			}
		}
	}
	return nil
}

// GetAllEpisodes enumerates the series' episodes in default order.
func (c *Client) GetAllEpisodes(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]connection.EpisodeEntry, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	seriesID, err := c.tvdbID(ctx, si)
	if err != nil {
		return nil, err
	}
	episodes, err := c.allEpisodes(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	entries := make([]connection.EpisodeEntry, 0, len(episodes))
	for _, ep := range episodes {
		entries = append(entries, connection.EpisodeEntry{Info: ep.episodeInfo()})
	}
	return entries, nil
}

// QuerySeries searches TVDb for matching series.
func (c *Client) QuerySeries(ctx context.Context, query string) ([]connection.SearchResult, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "series")
	var search struct {
		Data []struct {
			TVDbID   string `json:"tvdb_id"`
			Name     string `json:"name"`
			Year     string `json:"year"`
			Overview string `json:"overview"`
			Image    string `json:"image_url"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/search", params, &search); err != nil {
		return nil, err
	}

	results := make([]connection.SearchResult, 0, len(search.Data))
	for _, hit := range search.Data {
		year, _ := strconv.Atoi(hit.Year)
		ids := make(info.IDSet)
		_ = ids.Set(info.GlobalKey(info.SourceTVDb), hit.TVDbID)
		results = append(results, connection.SearchResult{
			Name:     hit.Name,
			Year:     year,
			Overview: hit.Overview,
			Poster:   hit.Image,
			IDs:      ids,
		})
	}
	return results, nil
}

// GetAllSourceImages returns still candidates for an episode. TVDb stores
// one still per episode.
func (c *Client) GetAllSourceImages(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo) ([]connection.RemoteImage, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	seriesID, err := c.tvdbID(ctx, si)
	if err != nil {
		return nil, err
	}
	episodes, err := c.allEpisodes(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	for _, ep := range episodes {
		if ep.Image == "" || !ei.Matches(ep.episodeInfo(), false) {
			continue
		}
		return []connection.RemoteImage{{URL: ep.Image}}, nil
	}
	return nil, nil
}

// artworks fetches series artwork of one type, best-first by language
// priority and then score.
func (c *Client) artworks(ctx context.Context, si *info.SeriesInfo, artType int) ([]connection.RemoteImage, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	seriesID, err := c.tvdbID(ctx, si)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Artworks []struct {
				Image    string  `json:"image"`
				Type     int     `json:"type"`
				Language string  `json:"language"`
				Score    float64 `json:"score"`
				Width    int     `json:"width"`
				Height   int     `json:"height"`
			} `json:"artworks"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/series/%d/artworks", seriesID)
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	var images []connection.RemoteImage
	for _, art := range resp.Data.Artworks {
		if art.Type != artType {
			continue
		}
		images = append(images, connection.RemoteImage{
			URL:         art.Image,
			Width:       art.Width,
			Height:      art.Height,
			Language:    art.Language,
			VoteAverage: art.Score,
		})
	}

	pos := func(lang string) int {
		for i, l := range c.languages {
			if strings.EqualFold(l, lang) {
				return i
			}
		}
		return len(c.languages)
	}
	sort.SliceStable(images, func(i, j int) bool {
		pi, pj := pos(images[i].Language), pos(images[j].Language)
		if pi != pj {
			return pi < pj
		}
		return images[i].VoteAverage > images[j].VoteAverage
	})
	return images, nil
}

// GetAllBackdrops returns the series' background candidates.
func (c *Client) GetAllBackdrops(ctx context.Context, si *info.SeriesInfo) ([]connection.RemoteImage, error) {
	return c.artworks(ctx, si, artSeriesBackground)
}

// GetAllLogos returns the series' clear logo candidates.
func (c *Client) GetAllLogos(ctx context.Context, si *info.SeriesInfo) ([]connection.RemoteImage, error) {
	return c.artworks(ctx, si, artSeriesClearLogo)
}

func best(images []connection.RemoteImage, err error) (*connection.RemoteImage, error) {
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, connection.ErrNotFound
	}
	return &images[0], nil
}

// GetSourceImage returns the episode's still.
func (c *Client) GetSourceImage(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo) (*connection.RemoteImage, error) {
	images, err := c.GetAllSourceImages(ctx, si, ei)
	return best(images, err)
}

// GetSeriesBackdrop returns the best series background.
func (c *Client) GetSeriesBackdrop(ctx context.Context, si *info.SeriesInfo) (*connection.RemoteImage, error) {
	images, err := c.GetAllBackdrops(ctx, si)
	return best(images, err)
}

// GetSeriesLogo returns the best series clear logo.
func (c *Client) GetSeriesLogo(ctx context.Context, si *info.SeriesInfo) (*connection.RemoteImage, error) {
	images, err := c.GetAllLogos(ctx, si)
	return best(images, err)
}

// GetEpisodeTitle returns the episode title in the requested language.
func (c *Client) GetEpisodeTitle(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo, languageCode string) (string, error) {
	if !c.active {
		return "", connection.ErrInactive
	}
	epID := ei.IDs.Get(info.GlobalKey(info.SourceTVDb))
	if epID == "" {
		if err := c.SetEpisodeIDs(ctx, "", si, []*info.EpisodeInfo{ei}); err != nil {
			return "", err
		}
		epID = ei.IDs.Get(info.GlobalKey(info.SourceTVDb))
		if epID == "" {
			return "", connection.ErrNotFound
		}
	}

	var resp struct {
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/episodes/%s/translations/%s", epID, languageCode)
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.Data.Name == "" {
		return "", connection.ErrNotFound
	}
	return resp.Data.Name, nil
}

var (
	_ connection.ImageSource   = (*Client)(nil)
	_ connection.EpisodeSource = (*Client)(nil)
)
