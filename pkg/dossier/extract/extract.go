package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cognicore/dossier/pkg/dossier/index"
	"github.com/cognicore/dossier/pkg/dossier/internalerr"
)

// DefaultMaxBytes bounds the total excerpt text taken from one document,
// keeping downstream enrichment request payloads bounded.
const DefaultMaxBytes = 8192

// Identity is the entity context used for paragraph selection and for the
// enrichment prompt: stable key, display name, and known name variants.
type Identity struct {
	ID       string
	Name     string
	Variants []string
}

// Needles returns the non-empty match strings for the identity.
func (id Identity) Needles() []string {
	out := make([]string, 0, 1+len(id.Variants))
	if id.Name != "" {
		out = append(out, id.Name)
	}
	for _, v := range id.Variants {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Excerpt is one paragraph of document text believed relevant to an entity.
// Ephemeral: created per enrichment run, never persisted on its own.
type Excerpt struct {
	DocID    string
	Text     string
	Position int // paragraph index within the source document
}

// Extractor selects entity-relevant paragraphs from source documents.
// Read-only; deterministic given the same input.
type Extractor struct {
	MaxBytes int // 0 selects DefaultMaxBytes
}

// Extract loads the referenced document, segments it into paragraphs, and
// returns those containing the entity's name or a variant. Total excerpt
// text never exceeds MaxBytes; the selection is truncated at a paragraph
// boundary once the budget is reached.
//
// An unreadable document yields internalerr.ErrDocumentUnavailable, which
// is non-fatal for the entity: the caller proceeds with the documents that
// did load.
func (e *Extractor) Extract(ref index.DocumentReference, who Identity) ([]Excerpt, error) {
	maxBytes := e.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	raw, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %v: %w", ref.DocID, err, internalerr.ErrDocumentUnavailable)
	}

	text := string(raw)
	switch strings.ToLower(filepath.Ext(ref.Path)) {
	case ".html", ".htm":
		text = stripHTML(text)
	}

	needles := make([]string, 0, 4)
	for _, n := range who.Needles() {
		needles = append(needles, fold(n))
	}

	var out []Excerpt
	budget := maxBytes
	for pos, para := range paragraphs(text) {
		if !matchesAny(fold(para), needles) {
			continue
		}
		if len(para) > budget {
			break
		}
		budget -= len(para)
		out = append(out, Excerpt{DocID: ref.DocID, Text: para, Position: pos})
	}
	return out, nil
}

// paragraphs segments text into trimmed paragraph units split on blank lines.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

// fold lower-cases and collapses runs of whitespace so that OCR line breaks
// inside a name still match.
func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func matchesAny(folded string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(folded, n) {
			return true
		}
	}
	return false
}
