package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/titlecardmaker/titlecardmaker/internal/assets"
	"github.com/titlecardmaker/titlecardmaker/internal/cardtype"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
)

// BuildResult says what EnsureBuilt did.
type BuildResult int

const (
	// Unchanged means the active card already matches the recipe.
	Unchanged BuildResult = iota
	// Built means a new artifact was rendered and recorded.
	Built
)

// DefaultFilenameFormat is the card path pattern under the cards root.
const DefaultFilenameFormat = "{series}/Season {season}/{series} - S{season2}E{episode2}"

// Coordinator owns card artifacts: it decides whether a build is needed,
// renders through the card-type registry, and guarantees at most one
// concurrent build per fingerprint process-wide.
type Coordinator struct {
	library        *library.Service
	types          *cardtype.Registry
	cardsRoot      string
	filenameFormat string
	builds         singleflight.Group
	logger         zerolog.Logger
}

// NewCoordinator creates a Coordinator. An empty filenameFormat selects
// the default pattern.
func NewCoordinator(svc *library.Service, types *cardtype.Registry, cardsRoot, filenameFormat string, logger zerolog.Logger) *Coordinator {
	if filenameFormat == "" {
		filenameFormat = DefaultFilenameFormat
	}
	return &Coordinator{
		library:        svc,
		types:          types,
		cardsRoot:      cardsRoot,
		filenameFormat: filenameFormat,
		logger:         logger.With().Str("component", "cards").Logger(),
	}
}

// CardPath is where the artifact for an episode's card lives.
func (c *Coordinator) CardPath(series *library.Series, episode *library.Episode) string {
	name := assets.Sanitize(series.Info.FullName())
	replacer := strings.NewReplacer(
		"{series}", name,
		"{season}", fmt.Sprintf("%d", episode.Info.SeasonNumber),
		"{season2}", fmt.Sprintf("%02d", episode.Info.SeasonNumber),
		"{episode}", fmt.Sprintf("%d", episode.Info.EpisodeNumber),
		"{episode2}", fmt.Sprintf("%02d", episode.Info.EpisodeNumber),
		"{title}", assets.Sanitize(episode.Info.Title),
	)
	return filepath.Join(c.cardsRoot, filepath.FromSlash(replacer.Replace(c.filenameFormat))+".jpg")
}

type buildOutcome struct {
	card *library.Card
}

// EnsureBuilt makes sure the episode's card for a library matches the
// recipe. When the active card's fingerprint matches and its file is
// intact, nothing happens. Otherwise exactly one caller renders per
// fingerprint; concurrent callers with the same fingerprint block on that
// build and observe its result.
func (c *Coordinator) EnsureBuilt(ctx context.Context, series *library.Series, episode *library.Episode, libraryName string, interfaceID *int64, recipe *resolver.Recipe) (BuildResult, *library.Card, error) {
	fp, err := Fingerprint(recipe)
	if err != nil {
		return Unchanged, nil, err
	}

	if card, ok := c.current(ctx, episode.ID, libraryName, fp); ok {
		return Unchanged, card, nil
	}

	v, err, _ := c.builds.Do(fp, func() (any, error) {
		// Another caller may have completed the identical build while this
		// one waited on the flight group.
		if card, ok := c.current(ctx, episode.ID, libraryName, fp); ok {
			return buildOutcome{card: card}, nil
		}
		card, err := c.build(ctx, series, episode, libraryName, interfaceID, recipe, fp)
		if err != nil {
			return nil, err
		}
		return buildOutcome{card: card}, nil
	})
	if err != nil {
		return Unchanged, nil, err
	}
	return Built, v.(buildOutcome).card, nil
}

// current reports whether the active card already satisfies the
// fingerprint, verifying the artifact is on disk with the recorded size.
func (c *Coordinator) current(ctx context.Context, episodeID int64, libraryName, fingerprint string) (*library.Card, bool) {
	card, err := c.library.GetActiveCard(ctx, episodeID, libraryName)
	if err != nil {
		if !errors.Is(err, library.ErrCardNotFound) {
			c.logger.Warn().Err(err).Int64("episodeId", episodeID).Msg("Failed to read active card")
		}
		return nil, false
	}
	if card.Fingerprint != fingerprint {
		return nil, false
	}
	stat, err := os.Stat(card.FilePath)
	if err != nil || stat.Size() != card.FileSize {
		return nil, false
	}
	return card, true
}

func (c *Coordinator) build(ctx context.Context, series *library.Series, episode *library.Episode, libraryName string, interfaceID *int64, recipe *resolver.Recipe, fingerprint string) (*library.Card, error) {
	ct := c.types.Get(ctx, recipe.CardType)
	if ct == nil {
		return nil, fmt.Errorf("%w: unknown card type %q", cardtype.ErrInvalidRecipe, recipe.CardType)
	}
	if err := c.types.Validate(ctx, recipe.CardType, recipe); err != nil {
		return nil, err
	}

	data, err := ct.Render(ctx, recipe)
	if err != nil {
		return nil, fmt.Errorf("failed to render card: %w", err)
	}

	path := c.CardPath(series, episode)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create card directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write card: %w", err)
	}

	recipeJSON, err := json.Marshal(recipe)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize recipe: %w", err)
	}
	card, err := c.library.SaveCard(ctx, &library.Card{
		EpisodeID:   episode.ID,
		InterfaceID: interfaceID,
		LibraryName: libraryName,
		FilePath:    path,
		FileSize:    int64(len(data)),
		Fingerprint: fingerprint,
		Recipe:      recipeJSON,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("path", path).Str("fingerprint", fingerprint).
		Int64("episodeId", episode.ID).Msg("Built card")
	return card, nil
}

// Invalidate deletes the episode's card artifacts and clears their
// records, forcing the next EnsureBuilt to render.
func (c *Coordinator) Invalidate(ctx context.Context, episode *library.Episode) error {
	cards, err := c.library.ListActiveCardsBySeries(ctx, episode.SeriesID)
	if err != nil {
		return err
	}
	for _, card := range cards {
		if card.EpisodeID != episode.ID {
			continue
		}
		if err := os.Remove(card.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("path", card.FilePath).Msg("Failed to remove card file")
		}
	}
	return c.library.DeactivateCards(ctx, episode.ID)
}

// ReloadNeeded reports whether the server-side copy of an episode's card
// is stale: the active artifact's fingerprint or size differs from what
// the server last accepted.
func (c *Coordinator) ReloadNeeded(ctx context.Context, interfaceID int64, libraryName string, seriesID int64, episode *library.Episode) (bool, error) {
	card, err := c.library.GetActiveCard(ctx, episode.ID, libraryName)
	if err != nil {
		if errors.Is(err, library.ErrCardNotFound) {
			return false, nil
		}
		return false, err
	}

	loaded, err := c.library.GetLoaded(ctx, library.LoadedKey{
		InterfaceID: interfaceID,
		LibraryName: libraryName,
		SeriesID:    seriesID,
		EpisodeID:   &episode.ID,
		AssetType:   library.AssetCard,
	})
	if err != nil {
		return false, err
	}
	if loaded == nil {
		return true, nil
	}
	return loaded.Fingerprint != card.Fingerprint || loaded.FileSize != card.FileSize, nil
}
