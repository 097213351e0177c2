package cardtype

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
)

// IsRemoteIdentifier reports whether a card-type identifier names a remote
// definition ("username/ClassName").
func IsRemoteIdentifier(identifier string) bool {
	user, class, ok := strings.Cut(identifier, "/")
	return ok && user != "" && class != "" && !strings.Contains(class, "/")
}

// RemoteFile is an auxiliary file a remote definition depends on. A failed
// download invalidates the whole card type.
type RemoteFile struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// RemoteDefinition is the YAML document describing a remotely hosted card
// type.
type RemoteDefinition struct {
	Name             string         `yaml:"name"`
	Base             string         `yaml:"base"`
	SupportedOptions []string       `yaml:"supported_options"`
	RequiredOptions  []string       `yaml:"required_options"`
	Defaults         map[string]any `yaml:"defaults"`
	Files            []RemoteFile   `yaml:"files"`
}

// RemoteLoader fetches card-type definitions from a known repository and
// caches them, with their file dependencies, in a private directory.
type RemoteLoader struct {
	repositoryURL string
	cacheDir      string
	httpClient    *http.Client
	logger        zerolog.Logger
}

// NewRemoteLoader creates a loader against the given definition repository.
func NewRemoteLoader(repositoryURL, cacheDir string, logger zerolog.Logger) *RemoteLoader {
	return &RemoteLoader{
		repositoryURL: strings.TrimRight(repositoryURL, "/"),
		cacheDir:      cacheDir,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		logger:        logger.With().Str("component", "remotecards").Logger(),
	}
}

func (l *RemoteLoader) definitionPath(identifier string) string {
	return filepath.Join(l.cacheDir, filepath.FromSlash(identifier)+".yml")
}

func (l *RemoteLoader) filesDir(identifier string) string {
	return filepath.Join(l.cacheDir, filepath.FromSlash(identifier))
}

// Load fetches, caches and materializes a remote card type. A cached
// definition is reused; its file dependencies are verified on every load.
func (l *RemoteLoader) Load(ctx context.Context, identifier string) (CardType, error) {
	if !IsRemoteIdentifier(identifier) {
		return nil, fmt.Errorf("malformed remote card type identifier %q", identifier)
	}

	defPath := l.definitionPath(identifier)
	data, err := os.ReadFile(defPath)
	if err != nil {
		data, err = l.download(ctx, l.repositoryURL+"/"+identifier+".yml")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch definition for %s: %w", identifier, err)
		}
		if err := os.MkdirAll(filepath.Dir(defPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		if err := os.WriteFile(defPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to cache definition: %w", err)
		}
	}

	var def RemoteDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition for %s: %w", identifier, err)
	}
	if def.Name == "" {
		def.Name = identifier
	}

	filesDir := l.filesDir(identifier)
	for _, rf := range def.Files {
		path := filepath.Join(filesDir, filepath.Base(rf.Name))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		fileData, err := l.download(ctx, rf.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch dependency %s of %s: %w", rf.Name, identifier, err)
		}
		if err := os.MkdirAll(filesDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		if err := os.WriteFile(path, fileData, 0o644); err != nil {
			return nil, fmt.Errorf("failed to cache dependency: %w", err)
		}
	}

	l.logger.Info().Str("cardType", identifier).Int("files", len(def.Files)).
		Msg("Loaded remote card type")
	return &remoteType{definition: def, filesDir: filesDir}, nil
}

func (l *RemoteLoader) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// remoteType is a card type materialized from a remote definition. It
// renders through the standard compositor with the definition's defaults
// folded in below the recipe's own options.
type remoteType struct {
	definition RemoteDefinition
	filesDir   string
}

func (r *remoteType) Name() string { return r.definition.Name }

func (r *remoteType) SupportedOptions() []string {
	if len(r.definition.SupportedOptions) > 0 {
		return r.definition.SupportedOptions
	}
	return standardOptions
}

func (r *remoteType) Validate(recipe *resolver.Recipe) error {
	for _, required := range r.definition.RequiredOptions {
		if _, ok := recipe.Options[required]; ok {
			continue
		}
		if _, ok := r.definition.Defaults[required]; ok {
			continue
		}
		return fmt.Errorf("%w: %s requires option %q", ErrInvalidRecipe, r.definition.Name, required)
	}
	return Standard{}.Validate(recipe)
}

func (r *remoteType) Render(ctx context.Context, recipe *resolver.Recipe) ([]byte, error) {
	if len(r.definition.Defaults) > 0 {
		effective := *recipe
		effective.Options = make(map[string]any, len(r.definition.Defaults)+len(recipe.Options))
		for k, v := range r.definition.Defaults {
			effective.Options[k] = v
		}
		for k, v := range recipe.Options {
			effective.Options[k] = v
		}
		recipe = &effective
	}
	return Standard{}.Render(ctx, recipe)
}

var _ CardType = (*remoteType)(nil)
