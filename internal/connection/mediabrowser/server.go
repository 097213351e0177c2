// Package mediabrowser implements the Emby and Jellyfin connectors. Both
// servers descend from MediaBrowser and share the API surface; the kind
// only changes the ID namespace and a few defaults.
package mediabrowser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// Server is an Emby or Jellyfin connector. The API key is passed as the
// api_key query parameter; the configured username resolves to an opaque
// user id used for watched state.
type Server struct {
	client        *connection.Client
	logger        zerolog.Logger
	id            int64
	kind          library.ConnectionKind
	sourceKind    info.SourceKind
	baseURL       string
	apiKey        string
	username      string
	userID        string
	filesizeLimit *int64
	active        bool
	activationErr error
}

// NewEmby creates an Emby connector and runs its activation probe.
func NewEmby(ctx context.Context, conn *library.Connection, logger zerolog.Logger) connection.Connector {
	return newServer(ctx, conn, logger, library.KindEmby, info.SourceEmby)
}

// NewJellyfin creates a Jellyfin connector and runs its activation probe.
func NewJellyfin(ctx context.Context, conn *library.Connection, logger zerolog.Logger) connection.Connector {
	return newServer(ctx, conn, logger, library.KindJellyfin, info.SourceJellyfin)
}

func newServer(ctx context.Context, conn *library.Connection, logger zerolog.Logger,
	kind library.ConnectionKind, sourceKind info.SourceKind) *Server {
	s := &Server{
		client:        connection.NewClient(logger, conn.VerifySSL),
		logger:        logger.With().Str("component", string(kind)).Int64("interfaceId", conn.ID).Logger(),
		id:            conn.ID,
		kind:          kind,
		sourceKind:    sourceKind,
		baseURL:       strings.TrimRight(conn.URL, "/"),
		apiKey:        conn.APIKey,
		username:      conn.Username,
		filesizeLimit: conn.FilesizeLimit,
	}
	s.activate(ctx)
	return s
}

// activate probes connectivity and auth, then resolves the watched-state
// user id from the configured username.
func (s *Server) activate(ctx context.Context) {
	var sysInfo struct {
		ServerName string `json:"ServerName"`
		Version    string `json:"Version"`
	}
	if err := s.client.GetJSON(ctx, s.request("/System/Info", nil), &sysInfo); err != nil {
		s.activationErr = &connection.ActivationError{Kind: string(s.kind), Err: err}
		return
	}

	if s.username != "" {
		var users []struct {
			Name string `json:"Name"`
			ID   string `json:"Id"`
		}
		if err := s.client.GetJSON(ctx, s.request("/Users", nil), &users); err != nil {
			s.activationErr = &connection.ActivationError{Kind: string(s.kind), Err: err}
			return
		}
		for _, u := range users {
			if strings.EqualFold(u.Name, s.username) {
				s.userID = u.ID
				break
			}
		}
		if s.userID == "" {
			s.activationErr = &connection.ActivationError{
				Kind: string(s.kind),
				Err:  fmt.Errorf("user %q not found", s.username),
			}
			return
		}
	}

	s.active = true
	s.logger.Debug().Str("server", sysInfo.ServerName).Str("version", sysInfo.Version).
		Msg("Activated media server connection")
}

func (s *Server) request(path string, params url.Values) connection.Request {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", s.apiKey)
	return connection.Request{URL: s.baseURL + path, Params: params}
}

func (s *Server) ID() int64                    { return s.id }
func (s *Server) Kind() library.ConnectionKind { return s.kind }
func (s *Server) Active() bool                 { return s.active }
func (s *Server) ActivationErr() error         { return s.activationErr }

type item struct {
	Name              string            `json:"Name"`
	ID                string            `json:"Id"`
	ProductionYear    int               `json:"ProductionYear"`
	IndexNumber       *int              `json:"IndexNumber"`
	ParentIndexNumber *int              `json:"ParentIndexNumber"`
	ProviderIds       map[string]string `json:"ProviderIds"`
	PremiereDate      string            `json:"PremiereDate"`
	UserData          *struct {
		Played bool `json:"Played"`
	} `json:"UserData"`
}

type itemsPage struct {
	Items            []item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// mediaFolders maps the server's TV library names to their folder ids.
func (s *Server) mediaFolders(ctx context.Context) (map[string]string, error) {
	var folders struct {
		Items []struct {
			Name           string `json:"Name"`
			ID             string `json:"Id"`
			CollectionType string `json:"CollectionType"`
		} `json:"Items"`
	}
	if err := s.client.GetJSON(ctx, s.request("/Library/MediaFolders", nil), &folders); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, f := range folders.Items {
		if f.CollectionType == "" || f.CollectionType == "tvshows" {
			out[f.Name] = f.ID
		}
	}
	return out, nil
}

// GetLibraries returns the names of the server's TV libraries.
func (s *Server) GetLibraries(ctx context.Context) ([]string, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	folders, err := s.mediaFolders(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(folders))
	for name := range folders {
		names = append(names, name)
	}
	return names, nil
}

// findSeries locates the server item for a series within a library and
// returns its item id.
func (s *Server) findSeries(ctx context.Context, libraryName string, si *info.SeriesInfo) (string, error) {
	if id := si.IDs.Get(info.LibraryKey(s.sourceKind, s.id, libraryName)); id != "" {
		return id, nil
	}

	params := url.Values{}
	params.Set("Recursive", "true")
	params.Set("IncludeItemTypes", "Series")
	params.Set("SearchTerm", si.Name)
	params.Set("Fields", "ProviderIds,ProductionYear")
	var page itemsPage
	if err := s.client.GetJSON(ctx, s.request("/Items", params), &page); err != nil {
		return "", err
	}

	for _, it := range page.Items {
		candidate := info.NewSeriesInfo(it.Name, it.ProductionYear)
		mergeProviderIDs(candidate.IDs, it.ProviderIds)
		if si.Matches(candidate) {
			return it.ID, nil
		}
	}
	return "", connection.ErrNotFound
}

// mergeProviderIDs maps the server's ProviderIds block to global ID keys.
func mergeProviderIDs(ids info.IDSet, provider map[string]string) {
	for name, value := range provider {
		switch strings.ToLower(name) {
		case "imdb":
			_ = ids.Set(info.GlobalKey(info.SourceIMDb), value)
		case "tmdb":
			_ = ids.Set(info.GlobalKey(info.SourceTMDb), value)
		case "tvdb":
			_ = ids.Set(info.GlobalKey(info.SourceTVDb), value)
		case "tvrage":
			_ = ids.Set(info.GlobalKey(info.SourceTVRage), value)
		}
	}
}

// SetSeriesIDs fills the series' server ID and any provider IDs the server
// knows.
func (s *Server) SetSeriesIDs(ctx context.Context, libraryName string, si *info.SeriesInfo) error {
	if !s.active {
		return connection.ErrInactive
	}
	itemID, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return err
	}
	if err := si.IDs.Set(info.LibraryKey(s.sourceKind, s.id, libraryName), itemID); err != nil {
		return fmt.Errorf("%w: %v", connection.ErrConflict, err)
	}

	var it item
	params := url.Values{}
	params.Set("Fields", "ProviderIds")
	if err := s.client.GetJSON(ctx, s.request("/Items/"+itemID, params), &it); err != nil {
		return err
	}
	mergeProviderIDs(si.IDs, it.ProviderIds)
	return nil
}

// SetEpisodeIDs fills server item IDs for the given episodes.
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

// GetAllEpisodes enumerates a series' episodes with their watched state.
func (s *Server) GetAllEpisodes(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]connection.EpisodeEntry, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	seriesID, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("Fields", "ProviderIds,PremiereDate")
	if s.userID != "" {
		params.Set("UserId", s.userID)
	}
	var page itemsPage
	req := s.request("/Shows/"+seriesID+"/Episodes", params)
	req.Enumeration = true
	if err := s.client.GetJSON(ctx, req, &page); err != nil {
		return nil, err
	}

	var entries []connection.EpisodeEntry
	for _, it := range page.Items {
		if it.ParentIndexNumber == nil || it.IndexNumber == nil {
			continue
		}
		ei := info.NewEpisodeInfo(it.Name, *it.ParentIndexNumber, *it.IndexNumber)
		if it.PremiereDate != "" {
			if t, err := time.Parse(time.RFC3339, it.PremiereDate); err == nil {
				ei.Airdate = &t
			}
		}
		_ = ei.IDs.Set(info.InstanceKey(s.sourceKind, s.id), it.ID)
		mergeProviderIDs(ei.IDs, it.ProviderIds)

		entry := connection.EpisodeEntry{Info: ei}
		if it.UserData != nil {
			watched := it.UserData.Played
			entry.Watched = &watched
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// QuerySeries searches the server for series matching the text.
func (s *Server) QuerySeries(ctx context.Context, query string) ([]connection.SearchResult, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	params := url.Values{}
	params.Set("Recursive", "true")
	params.Set("IncludeItemTypes", "Series")
	params.Set("SearchTerm", query)
	params.Set("Fields", "ProviderIds,ProductionYear,Overview")
	params.Set("Limit", "30")
	var page itemsPage
	if err := s.client.GetJSON(ctx, s.request("/Items", params), &page); err != nil {
		return nil, err
	}

	results := make([]connection.SearchResult, 0, len(page.Items))
	for _, it := range page.Items {
		ids := make(info.IDSet)
		_ = ids.Set(info.InstanceKey(s.sourceKind, s.id), it.ID)
		mergeProviderIDs(ids, it.ProviderIds)
		results = append(results, connection.SearchResult{
			Name: it.Name,
			Year: it.ProductionYear,
			IDs:  ids,
		})
	}
	return results, nil
}

// GetSourceImage returns the server's primary episode thumbnail, or
// ErrNotFound when the episode has none.
func (s *Server) GetSourceImage(ctx context.Context, libraryName string, si *info.SeriesInfo, ei *info.EpisodeInfo) ([]byte, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	itemID := ei.IDs.Get(info.InstanceKey(s.sourceKind, s.id))
	if itemID == "" {
		if err := s.SetEpisodeIDs(ctx, libraryName, si, []*info.EpisodeInfo{ei}); err != nil {
			return nil, err
		}
		itemID = ei.IDs.Get(info.InstanceKey(s.sourceKind, s.id))
		if itemID == "" {
			return nil, connection.ErrNotFound
		}
	}
	return s.client.Do(ctx, s.request("/Items/"+itemID+"/Images/Primary", nil))
}

// LoadTitleCards pushes cards as base64 primary images. Returns how many
// uploads the server accepted; the order of uploads is preserved so a late
// failure cannot mask earlier successes.
func (s *Server) LoadTitleCards(ctx context.Context, libraryName string, si *info.SeriesInfo, uploads []connection.CardUpload) (int, error) {
	if !s.active {
		return 0, connection.ErrInactive
	}
	loaded := 0
	for _, up := range uploads {
		itemID := up.Episode.IDs.Get(info.InstanceKey(s.sourceKind, s.id))
		if itemID == "" {
			s.logger.Debug().Str("episode", up.Episode.Key()).Msg("No server ID, skipping card upload")
			continue
		}
		if err := s.uploadImage(ctx, "/Items/"+itemID+"/Images/Primary", up.Image); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// uploadImage posts base64-encoded image bytes, the upload form both
// servers accept.
func (s *Server) uploadImage(ctx context.Context, path string, image []byte) error {
	encoded := base64.StdEncoding.EncodeToString(image)
	req := s.request(path, nil)
	req.Method = "POST"
	req.Body = []byte(encoded)
	req.ContentType = "image/jpeg"
	_, err := s.client.Do(ctx, req)
	return err
}

// LoadSeriesPoster uploads the series poster.
func (s *Server) LoadSeriesPoster(ctx context.Context, libraryName string, si *info.SeriesInfo, image []byte) error {
	if !s.active {
		return connection.ErrInactive
	}
	seriesID, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return err
	}
	return s.uploadImage(ctx, "/Items/"+seriesID+"/Images/Primary", image)
}

// LoadSeriesBackground uploads the series backdrop.
func (s *Server) LoadSeriesBackground(ctx context.Context, libraryName string, si *info.SeriesInfo, image []byte) error {
	if !s.active {
		return connection.ErrInactive
	}
	seriesID, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return err
	}
	return s.uploadImage(ctx, "/Items/"+seriesID+"/Images/Backdrop", image)
}

// LoadSeasonPoster is not supported by the MediaBrowser API surface used
// here.
func (s *Server) LoadSeasonPoster(ctx context.Context, libraryName string, si *info.SeriesInfo, season int, image []byte) error {
	return connection.ErrNotImplemented
}

// UpdateWatchedStatuses reads the watched flag for each episode from the
// configured user's play state.
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
			if entry.Watched == nil || !ep.Matches(entry.Info, false) {
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

// GetSeriesPoster returns the series' primary image bytes.
func (s *Server) GetSeriesPoster(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]byte, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	seriesID, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return nil, err
	}
	return s.client.Do(ctx, s.request("/Items/"+seriesID+"/Images/Primary", nil))
}

// GetSeriesLogo returns the series' logo image bytes.
func (s *Server) GetSeriesLogo(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]byte, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	seriesID, err := s.findSeries(ctx, libraryName, si)
	if err != nil {
		return nil, err
	}
	return s.client.Do(ctx, s.request("/Items/"+seriesID+"/Images/Logo", nil))
}

// FilesizeLimit returns the configured upload size limit, if any.
func (s *Server) FilesizeLimit() *int64 {
	return s.filesizeLimit
}

// AllSeries enumerates every series in the server's TV libraries, subject
// to the sync's library filters.
func (s *Server) AllSeries(ctx context.Context, sync *library.Sync) ([]connection.SyncedSeries, error) {
	if !s.active {
		return nil, connection.ErrInactive
	}
	folders, err := s.mediaFolders(ctx)
	if err != nil {
		return nil, err
	}

	var synced []connection.SyncedSeries
	for name, folderID := range folders {
		if !libraryAllowed(name, sync.RequiredLibraries, sync.ExcludedLibraries) {
			continue
		}

		params := url.Values{}
		params.Set("Recursive", "true")
		params.Set("IncludeItemTypes", "Series")
		params.Set("ParentId", folderID)
		params.Set("Fields", "ProviderIds,ProductionYear")
		var page itemsPage
		req := s.request("/Items", params)
		req.Enumeration = true
		if err := s.client.GetJSON(ctx, req, &page); err != nil {
			return nil, err
		}

		for _, it := range page.Items {
			si := info.NewSeriesInfo(it.Name, it.ProductionYear)
			_ = si.IDs.Set(info.LibraryKey(s.sourceKind, s.id, name), it.ID)
			mergeProviderIDs(si.IDs, it.ProviderIds)
			synced = append(synced, connection.SyncedSeries{
				Info:      si,
				Libraries: []library.Library{{InterfaceID: s.id, Name: name}},
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
