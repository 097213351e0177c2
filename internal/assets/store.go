package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library/info"

	_ "image/png"
)

// ErrResourceExceeded means an image could not be compressed under the
// target server's filesize limit even at the lowest JPEG quality.
var ErrResourceExceeded = errors.New("filesize limit unreachable after compression")

const (
	compressStartQuality = 95
	compressStep         = 5

	downloadTimeout = 60 * time.Second
)

// Store lays out and persists asset files under the source and assets
// roots.
type Store struct {
	sourceRoot string
	assetsRoot string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewStore creates an asset store rooted at the given directories.
func NewStore(sourceRoot, assetsRoot string, logger zerolog.Logger) *Store {
	return &Store{
		sourceRoot: sourceRoot,
		assetsRoot: assetsRoot,
		httpClient: &http.Client{Timeout: downloadTimeout},
		logger:     logger.With().Str("component", "assets").Logger(),
	}
}

// SeriesDir is the per-series source directory.
func (s *Store) SeriesDir(si *info.SeriesInfo) string {
	return filepath.Join(s.sourceRoot, Sanitize(si.FullName()))
}

// EpisodeSourcePath is where an episode's source image lives.
func (s *Store) EpisodeSourcePath(si *info.SeriesInfo, ei *info.EpisodeInfo, ext string) string {
	return filepath.Join(s.SeriesDir(si), ei.Key()+ext)
}

// LogoPath is where a series' logo lives.
func (s *Store) LogoPath(si *info.SeriesInfo) string {
	return filepath.Join(s.SeriesDir(si), "logo.png")
}

// BackdropPath is where a series' backdrop lives.
func (s *Store) BackdropPath(si *info.SeriesInfo) string {
	return filepath.Join(s.SeriesDir(si), "backdrop.jpg")
}

// FontDir is the cache directory for one font's files.
func (s *Store) FontDir(fontID int64) string {
	return filepath.Join(s.assetsRoot, "fonts", strconv.FormatInt(fontID, 10))
}

// FontPath is where a font file lives, keyed by font id and the original
// filename.
func (s *Store) FontPath(fontID int64, filename string) string {
	return filepath.Join(s.FontDir(fontID), filepath.Base(filename))
}

// WriteFile writes bytes to path through a temporary file and rename, so a
// failed write never leaves a partial file at the final path.
func (s *Store) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Download fetches a URL to the given path. Re-downloads overwrite any
// previous or partial file.
func (s *Store) Download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read download body: %w", err)
	}
	return s.WriteFile(path, data)
}

// Dimensions returns an image's pixel size without decoding it fully.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// CompressToLimit re-encodes an image as JPEG, stepping the quality down
// from 95 in 5-point decrements until the result fits under limit.
// Returns ErrResourceExceeded when even the lowest quality is too large.
func CompressToLimit(data []byte, limit int64) ([]byte, error) {
	if limit <= 0 || int64(len(data)) <= limit {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	for quality := compressStartQuality; quality >= 0; quality -= compressStep {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		if int64(buf.Len()) <= limit {
			return buf.Bytes(), nil
		}
	}
	return nil, ErrResourceExceeded
}
