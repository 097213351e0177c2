// Package cards is the content-addressed render cache: it fingerprints
// recipes, builds missing artifacts through the card-type registry, and
// coalesces concurrent builds of the same fingerprint.
package cards

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
)

// fingerprintVersion prefixes every fingerprint. Any semantic change to
// fingerprinting bumps this so stale records never collide.
const fingerprintVersion = "v1:"

// hashFile returns the hex SHA-256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fingerprintDoc is what actually gets hashed: the recipe with asset paths
// replaced by content hashes, so moving a file does not change the
// fingerprint but editing it does.
type fingerprintDoc struct {
	Recipe     json.RawMessage `json:"recipe"`
	SourceHash string          `json:"sourceHash,omitempty"`
	LogoHash   string          `json:"logoHash,omitempty"`
}

// Fingerprint derives the deterministic identity of a card build from its
// recipe and the content of its input assets.
func Fingerprint(r *resolver.Recipe) (string, error) {
	// Paths are hashed by content; the copy strips them so relocation does
	// not churn fingerprints.
	stripped := *r
	stripped.SourceFile = ""
	stripped.LogoFile = ""
	canonical, err := stripped.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize recipe: %w", err)
	}

	doc := fingerprintDoc{Recipe: canonical}
	if r.SourceFile != "" {
		if doc.SourceHash, err = hashFile(r.SourceFile); err != nil {
			return "", err
		}
	}
	if r.LogoFile != "" {
		if doc.LogoHash, err = hashFile(r.LogoFile); err != nil {
			return "", err
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fingerprint document: %w", err)
	}
	sum := sha256.Sum256(payload)
	return fingerprintVersion + hex.EncodeToString(sum[:]), nil
}
