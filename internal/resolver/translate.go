package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// TranslationRequest asks for the episode title in one language, stored
// under the recipe key DataKey.
type TranslationRequest struct {
	DataKey      string `json:"data_key"`
	LanguageCode string `json:"language_code"`
}

// TranslationRequests extracts the translation list from resolved options.
// The option value is a list of {data_key, language_code} objects.
func TranslationRequests(options map[string]any) []TranslationRequest {
	raw, ok := options["translations"].([]any)
	if !ok {
		return nil
	}
	var requests []TranslationRequest
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["data_key"].(string)
		lang, _ := m["language_code"].(string)
		if key != "" && lang != "" {
			requests = append(requests, TranslationRequest{DataKey: key, LanguageCode: lang})
		}
	}
	return requests
}

// genericTitlePatterns matches placeholder titles a provider emits when no
// real translation exists, per language. A rejected placeholder is not
// stored and the failure is recorded for back-off.
var genericTitlePatterns = map[string]*regexp.Regexp{
	"en": regexp.MustCompile(`(?i)^episode\s*\d+$`),
	"es": regexp.MustCompile(`(?i)^episodio\s*\d+$`),
	"fr": regexp.MustCompile(`(?i)^[ée]pisode\s*\d+$`),
	"de": regexp.MustCompile(`(?i)^(folge|episode)\s*\d+$`),
	"it": regexp.MustCompile(`(?i)^episodio\s*\d+$`),
	"pt": regexp.MustCompile(`(?i)^epis[óo]dio\s*\d+$`),
	"ja": regexp.MustCompile(`^第\d+話$`),
}

var genericTitleFallback = regexp.MustCompile(`(?i)^(episode|chapter)\s*\d+$`)

// IsGenericTitle reports whether a translated title is the localized
// "Episode N" placeholder for its language.
func IsGenericTitle(title, languageCode string) bool {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return true
	}
	lang := strings.ToLower(languageCode)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if re, ok := genericTitlePatterns[lang]; ok && re.MatchString(trimmed) {
		return true
	}
	return genericTitleFallback.MatchString(trimmed)
}

// Translator fetches missing episode title translations through the
// image-source connections.
type Translator struct {
	library  *library.Service
	registry *connection.Registry
	backoff  time.Duration
	logger   zerolog.Logger
}

// NewTranslator creates a Translator. backoff is how long a rejected or
// missing translation is not re-requested.
func NewTranslator(svc *library.Service, registry *connection.Registry, backoff time.Duration, logger zerolog.Logger) *Translator {
	return &Translator{
		library:  svc,
		registry: registry,
		backoff:  backoff,
		logger:   logger.With().Str("component", "translator").Logger(),
	}
}

// failureKey identifies one (data_key, language) request in the episode's
// failure map.
func failureKey(req TranslationRequest) string {
	return req.DataKey + ":" + req.LanguageCode
}

// TranslateEpisode fills the requested translations on the episode,
// persisting it when anything changed. Placeholder titles are rejected and
// recorded so the request is not repeated within the back-off window.
func (t *Translator) TranslateEpisode(ctx context.Context, series *library.Series, episode *library.Episode, requests []TranslationRequest) (bool, error) {
	sources := t.registry.ImageSources()
	if sources.Len() == 0 {
		return false, nil
	}

	changed := false
	for _, req := range requests {
		if _, ok := episode.Translations[req.DataKey]; ok {
			continue
		}
		if failedAt, ok := episode.TranslationFailures[failureKey(req)]; ok &&
			time.Since(failedAt) < t.backoff {
			continue
		}

		title, err := t.fetchTitle(ctx, series, episode, req.LanguageCode)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return changed, err
			}
			t.logger.Debug().Err(err).Int64("episodeId", episode.ID).
				Str("language", req.LanguageCode).Msg("Translation lookup failed")
			t.recordFailure(episode, req)
			changed = true
			continue
		}
		if IsGenericTitle(title, req.LanguageCode) {
			t.logger.Debug().Int64("episodeId", episode.ID).
				Str("language", req.LanguageCode).Str("title", title).
				Msg("Rejected placeholder translation")
			t.recordFailure(episode, req)
			changed = true
			continue
		}

		if episode.Translations == nil {
			episode.Translations = make(map[string]string)
		}
		episode.Translations[req.DataKey] = title
		delete(episode.TranslationFailures, failureKey(req))
		changed = true
	}

	if changed {
		if err := t.library.UpdateEpisode(ctx, episode); err != nil {
			return false, fmt.Errorf("failed to persist translations: %w", err)
		}
	}
	return changed, nil
}

// fetchTitle asks each image source in turn until one returns a title.
func (t *Translator) fetchTitle(ctx context.Context, series *library.Series, episode *library.Episode, languageCode string) (string, error) {
	sources := t.registry.ImageSources()
	var lastErr error
	for _, id := range sources.IDs() {
		source, _ := sources.Get(id)
		title, err := source.GetEpisodeTitle(ctx, series.Info, episode.Info, languageCode)
		if err == nil && title != "" {
			return title, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = connection.ErrNotFound
	}
	return "", lastErr
}

func (t *Translator) recordFailure(episode *library.Episode, req TranslationRequest) {
	if episode.TranslationFailures == nil {
		episode.TranslationFailures = make(map[string]time.Time)
	}
	episode.TranslationFailures[failureKey(req)] = time.Now().UTC()
}
