// Package sonarr implements the Sonarr connector, an episode data source
// and sync source backed by the Sonarr v3 API.
package sonarr

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// Client is a Sonarr connector. The configured URL is normalized so that
// every request goes through /api/v3/ regardless of how the user wrote it.
type Client struct {
	client        *connection.Client
	logger        zerolog.Logger
	id            int64
	baseURL       string
	apiKey        string
	active        bool
	activationErr error
}

// New creates a Sonarr connector and runs its activation probe.
func New(ctx context.Context, conn *library.Connection, logger zerolog.Logger) connection.Connector {
	c := &Client{
		client:  connection.NewClient(logger, conn.VerifySSL),
		logger:  logger.With().Str("component", "sonarr").Int64("interfaceId", conn.ID).Logger(),
		id:      conn.ID,
		baseURL: normalizeURL(conn.URL),
		apiKey:  conn.APIKey,
	}
	c.activate(ctx)
	return c
}

// normalizeURL rewrites the configured base URL to end in /api/v3/.
func normalizeURL(raw string) string {
	u := strings.TrimRight(raw, "/")
	u = strings.TrimSuffix(u, "/api/v3")
	u = strings.TrimSuffix(u, "/api")
	return u + "/api/v3/"
}

func (c *Client) activate(ctx context.Context) {
	var status struct {
		Version string `json:"version"`
	}
	if err := c.client.GetJSON(ctx, c.request("system/status", nil), &status); err != nil {
		c.activationErr = &connection.ActivationError{Kind: "sonarr", Err: err}
		return
	}
	c.active = true
	c.logger.Debug().Str("version", status.Version).Msg("Activated Sonarr connection")
}

func (c *Client) request(path string, params url.Values) connection.Request {
	return connection.Request{
		URL:     c.baseURL + path,
		Params:  params,
		Headers: map[string]string{"X-Api-Key": c.apiKey},
	}
}

func (c *Client) ID() int64                    { return c.id }
func (c *Client) Kind() library.ConnectionKind { return library.KindSonarr }
func (c *Client) Active() bool                 { return c.active }
func (c *Client) ActivationErr() error         { return c.activationErr }

type series struct {
	ID        int     `json:"id"`
	Title     string  `json:"title"`
	Year      int     `json:"year"`
	TvdbID    int     `json:"tvdbId"`
	ImdbID    string  `json:"imdbId"`
	TvRageID  int     `json:"tvRageId"`
	Ended     bool    `json:"ended"`
	Overview  string  `json:"overview"`
	Tags      []int   `json:"tags"`
	RootPath  string  `json:"rootFolderPath"`
	Monitored bool    `json:"monitored"`
	Images    []image `json:"images"`
}

type image struct {
	CoverType string `json:"coverType"`
	RemoteURL string `json:"remoteUrl"`
}

func (sr series) seriesInfo(interfaceID int64) *info.SeriesInfo {
	si := info.NewSeriesInfo(sr.Title, sr.Year)
	_ = si.IDs.Set(info.InstanceKey(info.SourceSonarr, interfaceID), strconv.Itoa(sr.ID))
	if sr.TvdbID != 0 {
		_ = si.IDs.Set(info.GlobalKey(info.SourceTVDb), strconv.Itoa(sr.TvdbID))
	}
	if sr.ImdbID != "" {
		_ = si.IDs.Set(info.GlobalKey(info.SourceIMDb), sr.ImdbID)
	}
	if sr.TvRageID != 0 {
		_ = si.IDs.Set(info.GlobalKey(info.SourceTVRage), strconv.Itoa(sr.TvRageID))
	}
	return si
}

// lookupSeries resolves the Sonarr internal series id for a SeriesInfo.
func (c *Client) lookupSeries(ctx context.Context, si *info.SeriesInfo) (int, error) {
	if id := si.IDs.Get(info.InstanceKey(info.SourceSonarr, c.id)); id != "" {
		n, err := strconv.Atoi(id)
		if err == nil {
			return n, nil
		}
	}

	var all []series
	req := c.request("series", nil)
	req.Enumeration = true
	if err := c.client.GetJSON(ctx, req, &all); err != nil {
		return 0, err
	}
	for _, sr := range all {
		if si.Matches(sr.seriesInfo(c.id)) {
			return sr.ID, nil
		}
	}
	return 0, connection.ErrNotFound
}

// SetSeriesIDs fills the Sonarr series id and the provider IDs Sonarr
// tracks (TVDb, IMDb, TVRage).
func (c *Client) SetSeriesIDs(ctx context.Context, libraryName string, si *info.SeriesInfo) error {
	if !c.active {
		return connection.ErrInactive
	}
	sonarrID, err := c.lookupSeries(ctx, si)
	if err != nil {
		return err
	}

	var sr series
	if err := c.client.GetJSON(ctx, c.request("series/"+strconv.Itoa(sonarrID), nil), &sr); err != nil {
		return err
	}
	if err := si.MergeIDs(sr.seriesInfo(c.id)); err != nil {
		return fmt.Errorf("%w: %v", connection.ErrConflict, err)
	}
	return nil
}

type episode struct {
	ID            int    `json:"id"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	AbsoluteNum   *int   `json:"absoluteEpisodeNumber"`
	Title         string `json:"title"`
	AirDateUTC    string `json:"airDateUtc"`
	HasFile       bool   `json:"hasFile"`
	EpisodeFile   *struct {
		Path string `json:"path"`
	} `json:"episodeFile"`
}

func (ep episode) episodeInfo(interfaceID int64) *info.EpisodeInfo {
	ei := info.NewEpisodeInfo(ep.Title, ep.SeasonNumber, ep.EpisodeNumber)
	ei.AbsoluteNumber = ep.AbsoluteNum
	if ep.AirDateUTC != "" {
		if t, err := time.Parse(time.RFC3339, ep.AirDateUTC); err == nil {
			ei.Airdate = &t
		}
	}
	_ = ei.IDs.Set(info.InstanceKey(info.SourceSonarr, interfaceID), strconv.Itoa(ep.ID))
	return ei
}

// SetEpisodeIDs fills Sonarr episode ids for the given episodes.
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

// GetAllEpisodes enumerates a series' episodes. Sonarr has no watched
// state, so entries carry a nil Watched flag.
func (c *Client) GetAllEpisodes(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]connection.EpisodeEntry, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	sonarrID, err := c.lookupSeries(ctx, si)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("seriesId", strconv.Itoa(sonarrID))
	params.Set("includeEpisodeFile", "true")
	var eps []episode
	req := c.request("episode", params)
	req.Enumeration = true
	if err := c.client.GetJSON(ctx, req, &eps); err != nil {
		return nil, err
	}

	entries := make([]connection.EpisodeEntry, 0, len(eps))
	for _, ep := range eps {
		entries = append(entries, connection.EpisodeEntry{Info: ep.episodeInfo(c.id)})
	}
	return entries, nil
}

// QuerySeries searches Sonarr's lookup endpoint.
func (c *Client) QuerySeries(ctx context.Context, query string) ([]connection.SearchResult, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}
	params := url.Values{}
	params.Set("term", query)
	var hits []series
	if err := c.client.GetJSON(ctx, c.request("series/lookup", params), &hits); err != nil {
		return nil, err
	}

	results := make([]connection.SearchResult, 0, len(hits))
	for _, sr := range hits {
		result := connection.SearchResult{
			Name:     sr.Title,
			Year:     sr.Year,
			Overview: sr.Overview,
			Ongoing:  !sr.Ended,
			IDs:      sr.seriesInfo(c.id).IDs,
		}
		for _, img := range sr.Images {
			if img.CoverType == "poster" {
				result.Poster = img.RemoteURL
				break
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// tagLabels resolves Sonarr tag ids to their labels.
func (c *Client) tagLabels(ctx context.Context) (map[int]string, error) {
	var tags []struct {
		ID    int    `json:"id"`
		Label string `json:"label"`
	}
	if err := c.client.GetJSON(ctx, c.request("tag", nil), &tags); err != nil {
		return nil, err
	}
	labels := make(map[int]string, len(tags))
	for _, t := range tags {
		labels[t.ID] = t.Label
	}
	return labels, nil
}

// AllSeries enumerates Sonarr's tracked series, filtered by the sync's tag
// requirements. Sonarr has no media-server libraries; the sync's required
// libraries, when set, name the libraries returned series are bound to.
func (c *Client) AllSeries(ctx context.Context, sync *library.Sync) ([]connection.SyncedSeries, error) {
	if !c.active {
		return nil, connection.ErrInactive
	}

	var all []series
	req := c.request("series", nil)
	req.Enumeration = true
	if err := c.client.GetJSON(ctx, req, &all); err != nil {
		return nil, err
	}

	var labels map[int]string
	if len(sync.RequiredTags) > 0 || len(sync.ExcludedTags) > 0 {
		var err error
		labels, err = c.tagLabels(ctx)
		if err != nil {
			return nil, err
		}
		c.warnUnknownTags(sync, labels)
	}

	var libraries []library.Library
	for _, name := range sync.RequiredLibraries {
		libraries = append(libraries, library.Library{InterfaceID: c.id, Name: name})
	}

	var synced []connection.SyncedSeries
	for _, sr := range all {
		if !sr.Monitored {
			continue
		}
		if !tagsAllow(sr.Tags, labels, sync.RequiredTags, sync.ExcludedTags) {
			continue
		}
		synced = append(synced, connection.SyncedSeries{
			Info:      sr.seriesInfo(c.id),
			Libraries: libraries,
		})
	}
	return synced, nil
}

// warnUnknownTags flags required tag labels that exist on no Sonarr tag.
// A typoed required tag silently empties the sync otherwise.
func (c *Client) warnUnknownTags(sync *library.Sync, labels map[int]string) {
	known := make(map[string]bool, len(labels))
	for _, label := range labels {
		known[strings.ToLower(label)] = true
	}
	for _, req := range sync.RequiredTags {
		if !known[strings.ToLower(req)] {
			c.logger.Warn().Int64("syncId", sync.ID).Str("tag", req).
				Msg("Required tag matches no Sonarr tag, sync will select no series")
		}
	}
}

// tagsAllow applies required and excluded tag label filters to a series'
// tag id set.
func tagsAllow(tagIDs []int, labels map[int]string, required, excluded []string) bool {
	if len(required) == 0 && len(excluded) == 0 {
		return true
	}
	have := make(map[string]bool, len(tagIDs))
	for _, id := range tagIDs {
		if label, ok := labels[id]; ok {
			have[strings.ToLower(label)] = true
		}
	}
	for _, ex := range excluded {
		if have[strings.ToLower(ex)] {
			return false
		}
	}
	for _, req := range required {
		if !have[strings.ToLower(req)] {
			return false
		}
	}
	return true
}

var (
	_ connection.EpisodeSource = (*Client)(nil)
	_ connection.SyncSource    = (*Client)(nil)
)
