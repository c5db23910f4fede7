package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAtom() *KnowledgeAtom {
	return &KnowledgeAtom{
		ID:           "atom-1",
		UserID:       "user-1",
		Type:         AtomTypeTalkingPoint,
		Content:      "Lead with the ROI story before discussing price",
		UsageCount:   4,
		HelpfulCount: 3,
		CreatedAt:    time.Now().UTC(),
		Metadata: AtomMetadata{
			Context:    "discovery call",
			Confidence: 0.8,
			Source:     AtomSourceExtraction,
		},
	}
}

func TestValidateKnowledgeAtom(t *testing.T) {
	t.Run("accepts a valid atom", func(t *testing.T) {
		require.NoError(t, ValidateKnowledgeAtom(validAtom()))
	})

	t.Run("rejects nil atom", func(t *testing.T) {
		assert.Error(t, ValidateKnowledgeAtom(nil))
	})

	t.Run("rejects missing user", func(t *testing.T) {
		a := validAtom()
		a.UserID = ""
		assert.Error(t, ValidateKnowledgeAtom(a))
	})

	t.Run("rejects empty content", func(t *testing.T) {
		a := validAtom()
		a.Content = ""
		assert.Error(t, ValidateKnowledgeAtom(a))
	})

	t.Run("rejects content over the limit", func(t *testing.T) {
		a := validAtom()
		a.Content = strings.Repeat("x", MaxContentChars+1)
		assert.Error(t, ValidateKnowledgeAtom(a))
	})

	t.Run("rejects context over the limit", func(t *testing.T) {
		a := validAtom()
		a.Metadata.Context = strings.Repeat("x", MaxContextChars+1)
		assert.Error(t, ValidateKnowledgeAtom(a))
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		a := validAtom()
		a.Type = AtomType("anecdote")
		assert.Error(t, ValidateKnowledgeAtom(a))
	})

	t.Run("rejects helpful count above usage count", func(t *testing.T) {
		a := validAtom()
		a.UsageCount = 2
		a.HelpfulCount = 3
		assert.Error(t, ValidateKnowledgeAtom(a))
	})

	t.Run("rejects confidence outside unit interval", func(t *testing.T) {
		a := validAtom()
		a.Metadata.Confidence = 1.2
		assert.Error(t, ValidateKnowledgeAtom(a))
	})

	t.Run("rejects unknown source", func(t *testing.T) {
		a := validAtom()
		a.Metadata.Source = AtomSource("import")
		assert.Error(t, ValidateKnowledgeAtom(a))
	})
}

func TestHelpfulRatio(t *testing.T) {
	t.Run("returns ratio for used atoms", func(t *testing.T) {
		a := validAtom()
		a.UsageCount = 10
		a.HelpfulCount = 8
		assert.InDelta(t, 0.8, a.HelpfulRatio(), 1e-9)
	})

	t.Run("returns zero for unused atoms", func(t *testing.T) {
		a := validAtom()
		a.UsageCount = 0
		a.HelpfulCount = 0
		assert.Zero(t, a.HelpfulRatio())
	})
}

func TestAtomTypes(t *testing.T) {
	types := AtomTypes()
	require.Len(t, types, 5)
	for _, at := range types {
		assert.True(t, isValidAtomType(at))
	}
}
