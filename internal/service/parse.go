package service

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/surpriz/queenmama/internal/domain"
)

// extractedAtom is the wire shape the completion model is asked to emit.
// Field presence is loose on purpose; normalization happens after decode.
type extractedAtom struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
}

// wrapper keys models commonly nest the array under despite instructions.
var extractionWrapperKeys = []string{"atoms", "knowledge", "extracted", "results"}

// parseExtractionResponse decodes the completion output defensively. It
// accepts a bare JSON array, an object wrapping the array under a known key,
// or either of those inside a markdown code fence. Returns ErrParseFailed
// when no atom array can be recovered.
func parseExtractionResponse(raw string) ([]extractedAtom, error) {
	text := stripCodeFences(strings.TrimSpace(raw))
	if text == "" {
		return nil, domain.NewDomainError(domain.ErrCodeParse, "empty extraction response")
	}

	var atoms []extractedAtom
	if err := json.Unmarshal([]byte(text), &atoms); err == nil {
		return atoms, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeParse, "extraction response is not valid JSON", err)
	}

	for _, key := range extractionWrapperKeys {
		rawArr, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(rawArr, &atoms); err == nil {
			return atoms, nil
		}
	}

	// Last resort: any value that decodes as an atom array.
	for _, rawVal := range wrapped {
		if err := json.Unmarshal(rawVal, &atoms); err == nil && len(atoms) > 0 {
			return atoms, nil
		}
	}

	return nil, domain.NewDomainError(domain.ErrCodeParse, "no atom array found in extraction response")
}

// stripCodeFences removes a surrounding markdown fence, with or without a
// language tag.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		// A short first line is a language tag, not content.
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalizeAtomType maps a model-emitted category label onto a known atom
// type. Matching ignores case and separators; unknown labels fall back to
// talking_point.
func normalizeAtomType(raw string) domain.AtomType {
	key := canonicalTypeKey(raw)
	for _, t := range domain.AtomTypes() {
		if canonicalTypeKey(string(t)) == key {
			return t
		}
	}
	return domain.AtomTypeTalkingPoint
}

// canonicalTypeKey keeps only letters, lowercased.
func canonicalTypeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// clampConfidence forces a confidence into [0, 1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
