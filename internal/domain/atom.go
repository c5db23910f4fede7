package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// AtomType represents the category of a knowledge atom
type AtomType string

const (
	AtomTypeObjectionResponse AtomType = "objection_response"
	AtomTypeTalkingPoint      AtomType = "talking_point"
	AtomTypeQuestion          AtomType = "question"
	AtomTypeClosingTechnique  AtomType = "closing_technique"
	AtomTypeTopicExpertise    AtomType = "topic_expertise"
)

// AtomSource identifies how an atom entered the store
type AtomSource string

const (
	AtomSourceExtraction AtomSource = "extraction"
	AtomSourceManual     AtomSource = "manual"
)

const (
	// MaxContentChars is the maximum length of atom content
	MaxContentChars = 1000
	// MaxContextChars is the maximum length of atom context metadata
	MaxContextChars = 500
)

// AtomMetadata holds extraction provenance for a knowledge atom
type AtomMetadata struct {
	Context    string
	Confidence float64
	Source     AtomSource
}

// KnowledgeAtom represents one stored unit of conversational insight
type KnowledgeAtom struct {
	ID              string
	UserID          string
	Type            AtomType
	Content         string
	Embedding       []float32
	UsageCount      int
	HelpfulCount    int
	LastUsedAt      *time.Time
	CreatedAt       time.Time
	SourceSessionID string
	Metadata        AtomMetadata
}

// HelpfulRatio returns helpfulCount/usageCount, or 0 when the atom is unused.
func (a *KnowledgeAtom) HelpfulRatio() float64 {
	if a.UsageCount == 0 {
		return 0
	}
	return float64(a.HelpfulCount) / float64(a.UsageCount)
}

// ValidateKnowledgeAtom validates a KnowledgeAtom instance
func ValidateKnowledgeAtom(a *KnowledgeAtom) error {
	if a == nil {
		return fmt.Errorf("atom cannot be nil")
	}

	if a.ID == "" {
		return fmt.Errorf("atom ID is required")
	}

	if a.UserID == "" {
		return fmt.Errorf("atom UserID is required")
	}

	if a.Content == "" {
		return fmt.Errorf("atom Content is required")
	}

	if utf8.RuneCountInString(a.Content) > MaxContentChars {
		return fmt.Errorf("atom Content exceeds %d characters", MaxContentChars)
	}

	if utf8.RuneCountInString(a.Metadata.Context) > MaxContextChars {
		return fmt.Errorf("atom Context exceeds %d characters", MaxContextChars)
	}

	if !isValidAtomType(a.Type) {
		return fmt.Errorf("atom Type is invalid: %s", a.Type)
	}

	if a.UsageCount < 0 {
		return fmt.Errorf("atom UsageCount cannot be negative")
	}

	if a.HelpfulCount < 0 || a.HelpfulCount > a.UsageCount {
		return fmt.Errorf("atom HelpfulCount must be between 0 and UsageCount")
	}

	if a.Metadata.Confidence < 0 || a.Metadata.Confidence > 1 {
		return fmt.Errorf("atom Confidence must be in [0,1]: %f", a.Metadata.Confidence)
	}

	if !isValidAtomSource(a.Metadata.Source) {
		return fmt.Errorf("atom Source is invalid: %s", a.Metadata.Source)
	}

	return nil
}

// AtomTypes returns all valid atom types in a fixed order.
func AtomTypes() []AtomType {
	return []AtomType{
		AtomTypeObjectionResponse,
		AtomTypeTalkingPoint,
		AtomTypeQuestion,
		AtomTypeClosingTechnique,
		AtomTypeTopicExpertise,
	}
}

// isValidAtomType checks if an AtomType is valid
func isValidAtomType(t AtomType) bool {
	switch t {
	case AtomTypeObjectionResponse, AtomTypeTalkingPoint, AtomTypeQuestion,
		AtomTypeClosingTechnique, AtomTypeTopicExpertise:
		return true
	}
	return false
}

// isValidAtomSource checks if an AtomSource is valid
func isValidAtomSource(s AtomSource) bool {
	switch s {
	case AtomSourceExtraction, AtomSourceManual:
		return true
	}
	return false
}
