package service

import "time"

// Policy holds the tunable limits and thresholds for the knowledge atom
// store. It is injected into services rather than read from globals so tests
// can vary thresholds independently.
type Policy struct {
	// MaxAtomsPerUser caps the per-user atom store.
	MaxAtomsPerUser int
	// MinConfidence is the acceptance threshold for extracted candidates.
	MinConfidence float64
	// MinTranscriptChars rejects transcripts too short to extract from.
	MinTranscriptChars int
	// TranscriptTailChars bounds LLM context; only the trailing portion of
	// the transcript is sent.
	TranscriptTailChars int
	// SimilarityThreshold is the cosine similarity at or above which two
	// same-type atoms are considered duplicates.
	SimilarityThreshold float64
	// LowQualityMinUsage is the minimum usage before the low-quality
	// predicate applies.
	LowQualityMinUsage int
	// LowQualityMaxRatio marks atoms below this helpful ratio as low quality.
	LowQualityMaxRatio float64
	// StaleAfter marks atoms unused (or never used and older) than this as stale.
	StaleAfter time.Duration

	// CompletionTimeout bounds the extraction LLM call.
	CompletionTimeout time.Duration
	// EmbeddingTimeout bounds each per-atom embedding call.
	EmbeddingTimeout time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAtomsPerUser:     500,
		MinConfidence:       0.4,
		MinTranscriptChars:  100,
		TranscriptTailChars: 6000,
		SimilarityThreshold: 0.85,
		LowQualityMinUsage:  5,
		LowQualityMaxRatio:  0.3,
		StaleAfter:          90 * 24 * time.Hour,
		CompletionTimeout:   60 * time.Second,
		EmbeddingTimeout:    15 * time.Second,
	}
}
