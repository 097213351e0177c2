// Package plex implements the Plex media server connector. Requests
// authenticate with the X-Plex-Token header and responses are requested as
// JSON MediaContainers.
package plex

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// Server is a Plex connector. Rating keys are scoped per library section,
// so series and episode IDs are stored under library-scoped keys.
type Server struct {
	client        *connection.Client
	logger        zerolog.Logger
	id            int64
	baseURL       string
	token         string
	clientID      string
	filesizeLimit *int64
	active        bool
	activationErr error

	// sections maps library name to Plex section key, filled at activation.
	sections map[string]string
}

// New creates a Plex connector and runs its activation probe.
func New(ctx context.Context, conn *library.Connection, logger zerolog.Logger) connection.Connector {
	s := &Server{
		client:        connection.NewClient(logger, conn.VerifySSL),
		logger:        logger.With().Str("component", "plex").Int64("interfaceId", conn.ID).Logger(),
		id:            conn.ID,
		baseURL:       strings.TrimRight(conn.URL, "/"),
		token:         conn.APIKey,
		clientID:      uuid.NewString(),
		filesizeLimit: conn.FilesizeLimit,
		sections:      make(map[string]string),
	}
	s.activate(ctx)
	return s
}

func (s *Server) activate(ctx context.Context) {
	var container struct {
		MediaContainer struct {
			FriendlyName string `json:"friendlyName"`
			Directory    []struct {
				Key   string `json:"key"`
				Title string `json:"title"`
				Type  string `json:"type"`
			} `json:"Directory"`
		} `json:"MediaContainer"`
	}
	if err := s.client.GetJSON(ctx, s.request("/library/sections", nil), &container); err != nil {
		s.activationErr = &connection.ActivationError{Kind: "plex", Err: err}
		return
	}

	for _, d := range container.MediaContainer.Directory {
		if d.Type == "show" {
			s.sections[d.Title] = d.Key
		}
	}
	s.active = true
	s.logger.Debug().Int("sections", len(s.sections)).Msg("Activated Plex connection")
}

func (s *Server) request(path string, params url.Values) connection.Request {
	return connection.Request{
		URL:     s.baseURL + path,
		Params:  params,
		Headers: map[string]string{
			"X-Plex-Token":             s.token,
			"X-Plex-Client-Identifier": s.clientID,
		},
	}
}

func (s *Server) ID() int64                    { return s.id }
func (s *Server) Kind() library.ConnectionKind { return library.KindPlex }
func (s *Server) Active() bool                 { return s.active }
func (s *Server) ActivationErr() error         { return s.activationErr }

// FilesizeLimit returns the configured upload size limit, if any.
func (s *Server) FilesizeLimit() *int64 { return s.filesizeLimit }

// parseGUID maps a Plex guid like "imdb://tt0903747" to a global ID key.
func parseGUID(guid string) (info.IDKey, string, bool) {
	scheme, value, ok := strings.Cut(guid, "://")
	if !ok || value == "" {
		return info.IDKey{}, "", false
	}
	switch scheme {
	case "imdb":
		return info.GlobalKey(info.SourceIMDb), value, true
	case "tmdb":
		return info.GlobalKey(info.SourceTMDb), value, true
	case "tvdb":
		return info.GlobalKey(info.SourceTVDb), value, true
	}
	return info.IDKey{}, "", false
}

type metadataItem struct {
	RatingKey string `json:"ratingKey"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Index     *int   `json:"index"`
	ParentIdx *int   `json:"parentIndex"`
	ViewCount int    `json:"viewCount"`
	GUID      string `json:"guid"`
	GUIDs     []struct {
		ID string `json:"id"`
	} `json:"Guid"`
	OriginallyAvailableAt string `json:"originallyAvailableAt"`
}

func (m metadataItem) mergeGUIDs(ids info.IDSet) {
	if key, val, ok := parseGUID(m.GUID); ok {
		_ = ids.Set(key, val)
	}
	for _, g := range m.GUIDs {
		if key, val, ok := parseGUID(g.ID); ok {
			_ = ids.Set(key, val)
		}
	}
}

type mediaContainer struct {
	MediaContainer struct {
		Metadata []metadataItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

// GetLibraries returns the names of the server's show sections.
func (s *Server) GetLibraries(ctx context.Context) ([]string, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	return names, nil
}

func (s *Server) sectionKey(libraryName string) (string, error) {
	key, ok := s.sections[libraryName]
	if !ok {
		return "", fmt.Errorf("%w: library %q", connection.ErrNotFound, libraryName)
	}
	return key, nil
}

// findSeries locates the rating key for a series within a section.
func (s *Server) findSeries(ctx context.Context, libraryName string, si *info.SeriesInfo) (string, error) {
	if rk := si.IDs.Get(info.LibraryKey(info.SourcePlex, s.id, libraryName)); rk != "" {
		return rk, nil
	}
	section, err := s.sectionKey(libraryName)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("type", "2")
	params.Set("title", si.Name)
	var container mediaContainer
	if err := s.client.GetJSON(ctx, s.request("/library/sections/"+section+"/all", params), &container); err != nil {
		return "", err
	}

	for _, m := range container.MediaContainer.Metadata {
		candidate := info.NewSeriesInfo(m.Title, m.Year)
		m.mergeGUIDs(candidate.IDs)
		if si.Matches(candidate) {
			return m.RatingKey, nil
		}
	}
	return "", connection.ErrNotFound
}

// SetSeriesIDs fills the series' Plex rating key and any provider IDs the
// server's agent resolved.
func (s *Server) SetSeriesIDs(ctx context.Context, libraryName string, si *info.SeriesInfo) error {
	if !s.active {
		return connection.ErrInactive
	}
	ratingKey, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return err
	}
	if err := si.IDs.Set(info.LibraryKey(info.SourcePlex, s.id, libraryName), ratingKey); err != nil {
		return fmt.Errorf("%w: %v", connection.ErrConflict, err)
	}

	var container mediaContainer
	if err := s.client.GetJSON(ctx, s.request("/library/metadata/"+ratingKey, nil), &container); err != nil {
		return err
	}
	for _, m := range container.MediaContainer.Metadata {
		m.mergeGUIDs(si.IDs)
	}
	return nil
}

// SetEpisodeIDs fills library-scoped rating keys for the given episodes.
func (s *Server) SetEpisodeIDs(ctx context.Context, libraryName string, si *info.SeriesInfo, episodes []*info.EpisodeInfo) error {
	if !s.active {
		return connection.ErrInactive
	}
	entries, err := s.GetAllEpisodes(ctx, libraryName, si)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		for _, entry := range entries {
			if ep.Matches(entry.Info, false) {
				if err := ep.MergeIDs(entry.Info); err != nil {
					s.logger.Warn().Err(err).Str("episode", ep.Key()).Msg("Conflicting episode IDs")
				}
				break
			}
		}
	}
	return nil
}

// GetAllEpisodes enumerates a series' episodes. An episode is watched when
// its view count is positive.
func (s *Server) GetAllEpisodes(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]connection.EpisodeEntry, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	ratingKey, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return nil, err
	}

	var container mediaContainer
	req := s.request("/library/metadata/"+ratingKey+"/allLeaves", nil)
	req.Enumeration = true
	if err := s.client.GetJSON(ctx, req, &container); err != nil {
		return nil, err
	}

	var entries []connection.EpisodeEntry
	for _, m := range container.MediaContainer.Metadata {
		if m.ParentIdx == nil || m.Index == nil {
			continue
		}
		ei := info.NewEpisodeInfo(m.Title, *m.ParentIdx, *m.Index)
		_ = ei.IDs.Set(info.LibraryKey(info.SourcePlex, s.id, libraryName), m.RatingKey)
		m.mergeGUIDs(ei.IDs)

		watched := m.ViewCount > 0
		entries = append(entries, connection.EpisodeEntry{Info: ei, Watched: &watched})
	}
	return entries, nil
}

// QuerySeries searches every show section for matching series.
func (s *Server) QuerySeries(ctx context.Context, query string) ([]connection.SearchResult, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	var results []connection.SearchResult
	for libraryName, section := range s.sections {
		params := url.Values{}
		params.Set("type", "2")
		params.Set("title", query)
		var container mediaContainer
		if err := s.client.GetJSON(ctx, s.request("/library/sections/"+section+"/all", params), &container); err != nil {
			return nil, err
		}
		for _, m := range container.MediaContainer.Metadata {
			ids := make(info.IDSet)
			_ = ids.Set(info.LibraryKey(info.SourcePlex, s.id, libraryName), m.RatingKey)
			m.mergeGUIDs(ids)
			results = append(results, connection.SearchResult{Name: m.Title, Year: m.Year, IDs: ids})
		}
	}
	return results, nil
}

// GetSourceImage returns the episode's current thumbnail. Thumbnails
// carrying the owner mark are cards this tool uploaded earlier, not source
// material, and are reported as not found.
func (s *Server) GetSourceImage(ctx context.Context, libraryName string, si *info.SeriesInfo, ei *info.EpisodeInfo) ([]byte, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	ratingKey, err := s.episodeRatingKey(ctx, libraryName, si, ei)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Do(ctx, s.request("/library/metadata/"+ratingKey+"/thumb", nil))
	if err != nil {
		return nil, err
	}
	if isMarked(data) {
		return nil, fmt.Errorf("%w: episode thumbnail is a previously uploaded card", connection.ErrNotFound)
	}
	return data, nil
}

func (s *Server) episodeRatingKey(ctx context.Context, libraryName string, si *info.SeriesInfo, ei *info.EpisodeInfo) (string, error) {
	key := info.LibraryKey(info.SourcePlex, s.id, libraryName)
	if rk := ei.IDs.Get(key); rk != "" {
		return rk, nil
	}
	if err := s.SetEpisodeIDs(ctx, libraryName, si, []*info.EpisodeInfo{ei}); err != nil {
		return "", err
	}
	if rk := ei.IDs.Get(key); rk != "" {
		return rk, nil
	}
	return "", connection.ErrNotFound
}

// uploadPoster pushes an image to a metadata item's artwork endpoint as a
// multipart upload. The image is stamped with the owner EXIF mark and the
// item is labeled, so later reads can tell uploaded cards from server
// source material.
func (s *Server) uploadPoster(ctx context.Context, ratingKey, endpoint string, image []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "card.jpg")
	if err != nil {
		return fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(markImage(image)); err != nil {
		return fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build upload body: %w", err)
	}

	req := s.request("/library/metadata/"+ratingKey+"/"+endpoint, nil)
	req.Method = "POST"
	req.Body = body.Bytes()
	req.ContentType = w.FormDataContentType()
	if _, err := s.client.Do(ctx, req); err != nil {
		return err
	}
	return s.labelOwned(ctx, ratingKey)
}

// labelOwned attaches the owner label to a metadata item.
func (s *Server) labelOwned(ctx context.Context, ratingKey string) error {
	params := url.Values{}
	params.Set("label[0].tag.tag", ownerMark)
	params.Set("label.locked", "1")
	req := s.request("/library/metadata/"+ratingKey, params)
	req.Method = "PUT"
	_, err := s.client.Do(ctx, req)
	return err
}

// LoadTitleCards pushes cards as episode posters. Returns how many uploads
// the server accepted.
func (s *Server) LoadTitleCards(ctx context.Context, libraryName string, si *info.SeriesInfo, uploads []connection.CardUpload) (int, error) {
	if !s.active {
		return 0, connection.ErrInactive
	}
	loaded := 0
	for _, up := range uploads {
		ratingKey := up.Episode.IDs.Get(info.LibraryKey(info.SourcePlex, s.id, libraryName))
		if ratingKey == "" {
			s.logger.Debug().Str("episode", up.Episode.Key()).Msg("No rating key, skipping card upload")
			continue
		}
		if err := s.uploadPoster(ctx, ratingKey, "posters", up.Image); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// LoadSeriesPoster uploads the series poster.
func (s *Server) LoadSeriesPoster(ctx context.Context, libraryName string, si *info.SeriesInfo, image []byte) error {
	if !s.active {
		return connection.ErrInactive
	}
	ratingKey, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return err
	}
	return s.uploadPoster(ctx, ratingKey, "posters", image)
}

// LoadSeriesBackground uploads the series background art.
func (s *Server) LoadSeriesBackground(ctx context.Context, libraryName string, si *info.SeriesInfo, image []byte) error {
	if !s.active {
		return connection.ErrInactive
	}
	ratingKey, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return err
	}
	return s.uploadPoster(ctx, ratingKey, "arts", image)
}

// LoadSeasonPoster uploads a poster for one season.
func (s *Server) LoadSeasonPoster(ctx context.Context, libraryName string, si *info.SeriesInfo, season int, image []byte) error {
	if !s.active {
		return connection.ErrInactive
	}
	ratingKey, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return err
	}

	var container mediaContainer
	if err := s.client.GetJSON(ctx, s.request("/library/metadata/"+ratingKey+"/children", nil), &container); err != nil {
		return err
	}
	for _, m := range container.MediaContainer.Metadata {
		if m.Index != nil && *m.Index == season {
			return s.uploadPoster(ctx, m.RatingKey, "posters", image)
		}
	}
	return fmt.Errorf("%w: season %d", connection.ErrNotFound, season)
}

// UpdateWatchedStatuses reads watched flags from the episodes' view counts.
func (s *Server) UpdateWatchedStatuses(ctx context.Context, libraryName string, si *info.SeriesInfo, episodes []*info.EpisodeInfo) ([]info.WatchedStatus, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	entries, err := s.GetAllEpisodes(ctx, libraryName, si)
	if err != nil {
		return nil, err
	}

	var statuses []info.WatchedStatus
	for _, ep := range episodes {
		for _, entry := range entries {
			if !ep.Matches(entry.Info, false) {
				continue
			}
			statuses = append(statuses, info.WatchedStatus{
				InterfaceID: s.id,
				Library:     libraryName,
				Watched:     *entry.Watched,
			})
			break
		}
	}
	return statuses, nil
}

// GetSeriesPoster returns the series' current poster bytes.
func (s *Server) GetSeriesPoster(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]byte, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	ratingKey, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return nil, err
	}
	return s.client.Do(ctx, s.request("/library/metadata/"+ratingKey+"/thumb", nil))
}

// GetSeriesLogo returns the series' clear logo bytes.
func (s *Server) GetSeriesLogo(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]byte, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	ratingKey, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return nil, err
	}
	return s.client.Do(ctx, s.request("/library/metadata/"+ratingKey+"/clearLogo", nil))
}

// AllSeries enumerates every series in the server's show sections, subject
// to the sync's library filters.
func (s *Server) AllSeries(ctx context.Context, sync *library.Sync) ([]connection.SyncedSeries, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}

	var synced []connection.SyncedSeries
	for libraryName, section := range s.sections {
		if !libraryAllowed(libraryName, sync.RequiredLibraries, sync.ExcludedLibraries) {
			continue
		}

		params := url.Values{}
		params.Set("type", "2")
		var container mediaContainer
		req := s.request("/library/sections/"+section+"/all", params)
		req.Enumeration = true
		if err := s.client.GetJSON(ctx, req, &container); err != nil {
			return nil, err
		}

		for _, m := range container.MediaContainer.Metadata {
			si := info.NewSeriesInfo(m.Title, m.Year)
			_ = si.IDs.Set(info.LibraryKey(info.SourcePlex, s.id, libraryName), m.RatingKey)
			m.mergeGUIDs(si.IDs)
			synced = append(synced, connection.SyncedSeries{
				Info:      si,
				Libraries: []library.Library{{InterfaceID: s.id, Name: libraryName}},
			})
		}
	}
	return synced, nil
}

// libraryAllowed applies required and excluded library name filters.
func libraryAllowed(name string, required, excluded []string) bool {
	for _, ex := range excluded {
		if strings.EqualFold(ex, name) {
			return false
		}
	}
	if len(required) == 0 {
		return true
	}
	for _, req := range required {
		if strings.EqualFold(req, name) {
			return true
		}
	}
	return false
}

var (
	_ connection.MediaServer = (*Server)(nil)
	_ connection.SyncSource  = (*Server)(nil)
)
