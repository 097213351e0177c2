// Package cardtype defines the card rendering plugin contract and the
// registry of available card types, both built-in and remotely loaded.
package cardtype

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
)

// ErrInvalidRecipe means a recipe failed card-type validation. The card is
// not built and the episode is flagged so the next resolution produces a
// fresh recipe instead of looping.
var ErrInvalidRecipe = errors.New("invalid recipe")

// CardType renders one visual style of title card.
type CardType interface {
	// Name is the identifier recipes reference.
	Name() string
	// SupportedOptions lists the recognized recipe option keys.
	SupportedOptions() []string
	// Validate checks a recipe's required fields and asset references.
	Validate(recipe *resolver.Recipe) error
	// Render produces the card image bytes. Equal recipes must yield
	// byte-identical output.
	Render(ctx context.Context, recipe *resolver.Recipe) ([]byte, error)
}

// Registry holds the loadable card types by identifier.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]CardType
	remote *RemoteLoader
	logger zerolog.Logger
}

// NewRegistry creates a card-type registry. remote may be nil when remote
// loading is not configured.
func NewRegistry(remote *RemoteLoader, logger zerolog.Logger) *Registry {
	return &Registry{
		types:  make(map[string]CardType),
		remote: remote,
		logger: logger.With().Str("component", "cardtypes").Logger(),
	}
}

// Register installs a built-in card type.
func (r *Registry) Register(ct CardType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[ct.Name()] = ct
}

// Get returns the card type for an identifier, loading remote identifiers
// ("username/ClassName") on first use. Unknown identifiers return nil with
// a logged error.
func (r *Registry) Get(ctx context.Context, identifier string) CardType {
	r.mu.RLock()
	ct, ok := r.types[identifier]
	r.mu.RUnlock()
	if ok {
		return ct
	}

	if r.remote != nil && IsRemoteIdentifier(identifier) {
		remote, err := r.remote.Load(ctx, identifier)
		if err != nil {
			r.logger.Error().Err(err).Str("cardType", identifier).
				Msg("Failed to load remote card type")
			return nil
		}
		r.mu.Lock()
		r.types[identifier] = remote
		r.mu.Unlock()
		return remote
	}

	r.logger.Error().Str("cardType", identifier).Msg("Unknown card type")
	return nil
}

// Validate resolves the identifier and validates the recipe against it,
// additionally checking that referenced local assets exist.
func (r *Registry) Validate(ctx context.Context, identifier string, recipe *resolver.Recipe) error {
	ct := r.Get(ctx, identifier)
	if ct == nil {
		return fmt.Errorf("%w: unknown card type %q", ErrInvalidRecipe, identifier)
	}
	if err := ct.Validate(recipe); err != nil {
		return err
	}
	if recipe.SourceFile != "" {
		if _, err := os.Stat(recipe.SourceFile); err != nil {
			return fmt.Errorf("%w: source file %s missing", ErrInvalidRecipe, recipe.SourceFile)
		}
	}
	if recipe.LogoFile != "" {
		if _, err := os.Stat(recipe.LogoFile); err != nil {
			return fmt.Errorf("%w: logo file %s missing", ErrInvalidRecipe, recipe.LogoFile)
		}
	}
	return nil
}

// CoerceString reads an option as a string, accepting numeric values.
func CoerceString(options map[string]any, key string) (string, bool) {
	v, ok := options[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// CoerceFloat reads an option as a float, accepting numeric strings.
func CoerceFloat(options map[string]any, key string) (float64, bool) {
	v, ok := options[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// CoerceBool reads an option as a bool, accepting string forms.
func CoerceBool(options map[string]any, key string) (bool, bool) {
	v, ok := options[key]
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}
