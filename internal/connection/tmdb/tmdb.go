// Package tmdb implements The Movie Database connector, the primary source
// of episode artwork and translated titles.
package tmdb

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

const (
	apiBase   = "https://api.themoviedb.org/3"
	imageBase = "https://image.tmdb.org/t/p/original"
)

// Client is a TMDb connector. Artwork candidates are ranked by the
// connection's language priority first, then pixel area, then vote average.
type Client struct {
	client        *connection.Client
	logger        zerolog.Logger
	id            int64
	apiKey        string
	languages     []string
	active        bool
	activationErr error
}

// New creates a TMDb connector and runs its activation probe.
func New(ctx context.Context, conn *library.Connection, logger zerolog.Logger) connection.Connector {
	c := &Client{
		client:    connection.NewClient(logger, conn.VerifySSL),
		logger:    logger.With().Str("component", "tmdb").Int64("interfaceId", conn.ID).Logger(),
		id:        conn.ID,
		apiKey:    conn.APIKey,
		languages: conn.LanguagePriority,
	}
	c.activate(ctx)
	return c
}

func (c *Client) activate(ctx context.Context) {
	if err := c.client.GetJSON(ctx, c.request("/configuration", nil), &struct{}{}); err != nil {
		c.activationErr = &connection.ActivationError{Kind: "tmdb", Err: err}
		return
	}
	c.active = true
	c.logger.Debug().Msg("Activated TMDb connection")
}

func (c *Client) request(path string, params url.Values) connection.Request {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	return connection.Request{URL: apiBase + path, Params: params}
}

func (c *Client) ID() int64                    { return c.id }
func (c *Client) Kind() library.ConnectionKind { return library.KindTMDb }
func (c *Client) Active() bool                 { return c.active }
func (c *Client) ActivationErr() error         { return c.activationErr }

// tmdbID resolves the TMDb series id, trying the stored ID first, then
// the external-id find endpoint, then a title search.
func (c *Client) tmdbID(ctx context.Context, si *info.SeriesInfo) (int, error) {
	if id := si.IDs.Get(info.GlobalKey(info.SourceTMDb)); id != "" {
		if n, err := strconv.Atoi(id); err == nil {
			return n, nil
		}
	}

	type findResult struct {
		TVResults []struct {
			ID int `json:"id"`
		} `json:"tv_results"`
	}
	external := []struct {
		key    info.IDKey
		source string
	}{
		{info.GlobalKey(info.SourceIMDb), "imdb_id"},
		{info.GlobalKey(info.SourceTVDb), "tvdb_id"},
	}
	for _, ext := range external {
		id := si.IDs.Get(ext.key)
		if id == "" {
			continue
		}
		params := url.Values{}
		params.Set("external_source", ext.source)
		var result findResult
		if err := c.client.GetJSON(ctx, c.request("/find/"+id, params), &result); err != nil {
			continue
		}
		if len(result.TVResults) > 0 {
			tid := result.TVResults[0].ID
			_ = si.IDs.Set(info.GlobalKey(info.SourceTMDb), strconv.Itoa(tid))
			return tid, nil
		}
	}

	params := url.Values{}
	params.Set("query", si.Name)
	if si.Year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(si.Year))
	}
	var search struct {
		Results []struct {
			ID           int    `json:"id"`
			Name         string `json:"name"`
			FirstAirDate string `json:"first_air_date"`
		} `json:"results"`
	}
	if err := c.client.GetJSON(ctx, c.request("/search/tv", params), &search); err != nil {
		return 0, err
	}
	for _, r := range search.Results {
		year := 0
		if len(r.FirstAirDate) >= 4 {
			year, _ = strconv.Atoi(r.FirstAirDate[:4])
		}
		if si.Matches(info.NewSeriesInfo(r.Name, year)) {
			_ = si.IDs.Set(info.GlobalKey(info.SourceTMDb), strconv.Itoa(r.ID))
			return r.ID, nil
		}
	}
	return 0, connection.ErrNotFound
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Language    string  `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
}

func (c *Client) toRemote(images []tmdbImage) []connection.RemoteImage {
	remote := make([]connection.RemoteImage, 0, len(images))
	for _, img := range images {
		remote = append(remote, connection.RemoteImage{
			URL:         imageBase + img.FilePath,
			Width:       img.Width,
			Height:      img.Height,
			Language:    img.Language,
			VoteAverage: img.VoteAverage,
		})
	}
	c.rank(remote)
	return remote
}

// rank orders candidates best-first: language priority position, then pixel
// area, then vote average.
func (c *Client) rank(images []connection.RemoteImage) {
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
		if ai, aj := images[i].PixelArea(), images[j].PixelArea(); ai != aj {
			return ai > aj
		}
		return images[i].VoteAverage > images[j].VoteAverage
	})
}

// GetAllSourceImages returns the episode's still candidates, best-first.
func (c *Client) GetAllSourceImages(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo) ([]connection.RemoteImage, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	id, err := c.tmdbID(ctx, si)
	if err != nil {
		return nil, err
	}
	var images struct {
		Stills []tmdbImage `json:"stills"`
	}
	path := fmt.Sprintf("/tv/%d/season/%d/episode/%d/images", id, ei.SeasonNumber, ei.EpisodeNumber)
	if err := c.client.GetJSON(ctx, c.request(path, nil), &images); err != nil {
		return nil, err
	}
	return c.toRemote(images.Stills), nil
}

// GetAllBackdrops returns the series' backdrop candidates, best-first.
func (c *Client) GetAllBackdrops(ctx context.Context, si *info.SeriesInfo) ([]connection.RemoteImage, error) {
	backdrops, _, err := c.seriesImages(ctx, si)
	return backdrops, err
}

// GetAllLogos returns the series' logo candidates, best-first.
func (c *Client) GetAllLogos(ctx context.Context, si *info.SeriesInfo) ([]connection.RemoteImage, error) {
	_, logos, err := c.seriesImages(ctx, si)
	return logos, err
}

func (c *Client) seriesImages(ctx context.Context, si *info.SeriesInfo) (backdrops, logos []connection.RemoteImage, err error) {
	if !c.active {
		return nil, nil, connection.ErrInactive
	}
	id, err := c.tmdbID(ctx, si)
	if err != nil {
		return nil, nil, err
	}
	var images struct {
		Backdrops []tmdbImage `json:"backdrops"`
		Logos     []tmdbImage `json:"logos"`
	}
	if err := c.client.GetJSON(ctx, c.request(fmt.Sprintf("/tv/%d/images", id), nil), &images); err != nil {
		return nil, nil, err
	}
	return c.toRemote(images.Backdrops), c.toRemote(images.Logos), nil
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

// GetSourceImage returns the best episode still.
func (c *Client) GetSourceImage(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo) (*connection.RemoteImage, error) {
	images, err := c.GetAllSourceImages(ctx, si, ei)
	return best(images, err)
}

// GetSeriesBackdrop returns the best series backdrop.
func (c *Client) GetSeriesBackdrop(ctx context.Context, si *info.SeriesInfo) (*connection.RemoteImage, error) {
	images, err := c.GetAllBackdrops(ctx, si)
	return best(images, err)
}

// GetSeriesLogo returns the best series logo.
func (c *Client) GetSeriesLogo(ctx context.Context, si *info.SeriesInfo) (*connection.RemoteImage, error) {
	images, err := c.GetAllLogos(ctx, si)
	return best(images, err)
}

// GetEpisodeTitle returns the episode title in the requested language.
func (c *Client) GetEpisodeTitle(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo, languageCode string) (string, error) {
	if !c.active {
		return "", connection.ErrInactive
	}
	id, err := c.tmdbID(ctx, si)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("language", languageCode)
	var ep struct {
		Name string `json:"name"`
	}
	path := fmt.Sprintf("/tv/%d/season/%d/episode/%d", id, ei.SeasonNumber, ei.EpisodeNumber)
	if err := c.client.GetJSON(ctx, c.request(path, params), &ep); err != nil {
		return "", err
	}
	if ep.Name == "" {
		return "", connection.ErrNotFound
	}
	return ep.Name, nil
}

// SetSeriesIDs fills the series' TMDb id.
func (c *Client) SetSeriesIDs(ctx context.Context, libraryName string, si *info.SeriesInfo) error {
	if !c.active {
		return connection.ErrInactive
	}
	_, err := c.tmdbID(ctx, si)
	return err
}

// SetEpisodeIDs fills TMDb episode ids for the given episodes.
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

// GetAllEpisodes enumerates the series' episodes season by season. TMDb
// has no watched state.
func (c *Client) GetAllEpisodes(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]connection.EpisodeEntry, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	id, err := c.tmdbID(ctx, si)
	if err != nil {
		return nil, err
	}

	var detail struct {
		Seasons []struct {
			SeasonNumber int `json:"season_number"`
		} `json:"seasons"`
	}
	if err := c.client.GetJSON(ctx, c.request(fmt.Sprintf("/tv/%d", id), nil), &detail); err != nil {
		return nil, err
	}

	var entries []connection.EpisodeEntry
	for _, season := range detail.Seasons {
		var sd struct {
			Episodes []struct {
				ID            int    `json:"id"`
				Name          string `json:"name"`
				SeasonNumber  int    `json:"season_number"`
				EpisodeNumber int    `json:"episode_number"`
				AirDate       string `json:"air_date"`
			} `json:"episodes"`
		}
		path := fmt.Sprintf("/tv/%d/season/%d", id, season.SeasonNumber)
		req := c.request(path, nil)
		req.Enumeration = true
		if err := c.client.GetJSON(ctx, req, &sd); err != nil {
			return nil, err
		}
		for _, ep := range sd.Episodes {
			ei := info.NewEpisodeInfo(ep.Name, ep.SeasonNumber, ep.EpisodeNumber)
			_ = ei.IDs.Set(info.GlobalKey(info.SourceTMDb), strconv.Itoa(ep.ID))
			if t, err := parseAirDate(ep.AirDate); err == nil {
				ei.Airdate = &t
			}
			entries = append(entries, connection.EpisodeEntry{Info: ei})
		}
	}
	return entries, nil
}

// QuerySeries searches TMDb for matching series.
func (c *Client) QuerySeries(ctx context.Context, query string) ([]connection.SearchResult, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	params := url.Values{}
	params.Set("query", query)
	var search struct {
		Results []struct {
			ID           int    `json:"id"`
			Name         string `json:"name"`
			Overview     string `json:"overview"`
			PosterPath   string `json:"poster_path"`
			FirstAirDate string `json:"first_air_date"`
		} `json:"results"`
	}
	if err := c.client.GetJSON(ctx, c.request("/search/tv", params), &search); err != nil {
		return nil, err
	}

	results := make([]connection.SearchResult, 0, len(search.Results))
	for _, r := range search.Results {
		year := 0
		if len(r.FirstAirDate) >= 4 {
			year, _ = strconv.Atoi(r.FirstAirDate[:4])
		}
		ids := make(info.IDSet)
		_ = ids.Set(info.GlobalKey(info.SourceTMDb), strconv.Itoa(r.ID))
		result := connection.SearchResult{
			Name:     r.Name,
			Year:     year,
			Overview: r.Overview,
			IDs:      ids,
		}
		if r.PosterPath != "" {
			result.Poster = imageBase + r.PosterPath
		}
		results = append(results, result)
	}
	return results, nil
}

func parseAirDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

var (
	_ connection.ImageSource   = (*Client)(nil)
	_ connection.EpisodeSource = (*Client)(nil)
)
