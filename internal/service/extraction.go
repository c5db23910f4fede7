package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/surpriz/queenmama/internal/domain"
	"github.com/surpriz/queenmama/internal/telemetry"
)

// CompletionClient defines the interface for chat completion generation
type CompletionClient interface {
	GenerateCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TranscriptStore fetches stored session transcripts.
type TranscriptStore interface {
	GetTranscript(ctx context.Context, sessionID string) (string, error)
}

const extractionSystemPrompt = `You are an assistant that extracts reusable sales knowledge from call transcripts.

Analyze the transcript and extract knowledge atoms. Each atom must have:
- "type": one of "objection_response", "talking_point", "question", "closing_technique", "topic_expertise"
- "content": the reusable knowledge, concise and self-contained (max 1000 characters)
- "context": when this knowledge applies (max 500 characters)
- "confidence": how confident you are this is genuinely reusable, from 0.0 to 1.0

Only extract knowledge that worked well in the call or that the salesperson explicitly articulated. Do not invent knowledge that is not in the transcript.

Respond with a JSON object: {"atoms": [...]}. If the transcript contains no reusable knowledge, respond with {"atoms": []}.`

// ExtractInput represents a transcript extraction request. Transcript may be
// provided inline; when empty it is fetched from the transcript store by
// session ID.
type ExtractInput struct {
	UserID     string
	SessionID  string
	Transcript string
}

// ExtractionResult summarizes one extraction run. Errors holds per-atom and
// per-stage failures that did not abort the run.
type ExtractionResult struct {
	AtomsCreated int                     `json:"atoms_created"`
	AtomsSkipped int                     `json:"atoms_skipped"`
	Atoms        []*domain.KnowledgeAtom `json:"atoms"`
	Errors       []string                `json:"errors"`
}

// ExtractionService turns session transcripts into knowledge atoms
type ExtractionService struct {
	repo        AtomRepositoryInterface
	completion  CompletionClient
	embedding   EmbeddingClient
	transcripts TranscriptStore
	capacity    *CapacityService
	policy      Policy
	locks       *userLocks
	uuidGen     UUIDGenerator
	now         func() time.Time
}

// NewExtractionService creates a new ExtractionService instance.
// transcripts may be nil when transcripts are always supplied inline.
func NewExtractionService(
	repo AtomRepositoryInterface,
	completion CompletionClient,
	embedding EmbeddingClient,
	transcripts TranscriptStore,
	capacity *CapacityService,
	policy Policy,
	locks *userLocks,
) *ExtractionService {
	return &ExtractionService{
		repo:        repo,
		completion:  completion,
		embedding:   embedding,
		transcripts: transcripts,
		capacity:    capacity,
		policy:      policy,
		locks:       locks,
		uuidGen:     &DefaultUUIDGenerator{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ExtractFromSession runs the full extraction pipeline for one session:
// fetch or accept the transcript, ask the completion model for candidate
// atoms, filter by confidence, embed and store the survivors. When the store
// cannot absorb every accepted candidate even after making room, the
// lowest-confidence candidates are dropped. A failing embedding skips that
// atom and records the error; it never aborts the run.
func (s *ExtractionService) ExtractFromSession(ctx context.Context, input ExtractInput) (*ExtractionResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ExtractionService.ExtractFromSession", telemetry.SpanAttributes{
		UserID:    input.UserID,
		SessionID: input.SessionID,
		Operation: "extract",
	})
	defer span.End()

	result := &ExtractionResult{Atoms: []*domain.KnowledgeAtom{}, Errors: []string{}}

	if input.UserID == "" {
		return nil, domain.ErrMissingUserID
	}

	transcript := input.Transcript
	if transcript == "" && s.transcripts != nil && input.SessionID != "" {
		fetched, err := s.transcripts.GetTranscript(ctx, input.SessionID)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		transcript = fetched
	}

	if len([]rune(transcript)) < s.policy.MinTranscriptChars {
		result.Errors = append(result.Errors, domain.ErrTranscriptTooShort.Message)
		return result, domain.ErrTranscriptTooShort
	}

	// Completion and parse failures degrade to a zero-atom result with the
	// error recorded; only input validation fails the call itself.
	candidates, err := s.extractCandidates(ctx, transcript)
	if err != nil {
		span.SetError(err)
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	accepted := make([]extractedAtom, 0, len(candidates))
	for _, c := range candidates {
		if clampConfidence(c.Confidence) < s.policy.MinConfidence {
			result.AtomsSkipped++
			continue
		}
		accepted = append(accepted, c)
	}
	if len(accepted) == 0 {
		return result, nil
	}

	unlock := s.locks.Lock(input.UserID)
	defer unlock()

	status, err := s.capacity.CheckLimit(ctx, input.UserID)
	if err != nil {
		span.SetError(err)
		result.Errors = append(result.Errors, fmt.Sprintf("capacity: %v", err))
		return result, nil
	}

	freed, err := s.capacity.MakeRoom(ctx, input.UserID, len(accepted))
	if err != nil {
		span.SetError(err)
		result.Errors = append(result.Errors, fmt.Sprintf("capacity: %v", err))
		return result, nil
	}

	// MakeRoom frees what it can, which may be fewer slots than we need.
	// Keep the highest-confidence candidates for the slots that exist and
	// drop the rest so the per-user limit holds.
	available := status.Remaining + freed
	if len(accepted) > available {
		sort.SliceStable(accepted, func(i, j int) bool {
			return clampConfidence(accepted[i].Confidence) > clampConfidence(accepted[j].Confidence)
		})
		dropped := len(accepted) - available
		accepted = accepted[:available]
		result.AtomsSkipped += dropped
		result.Errors = append(result.Errors, fmt.Sprintf("%s: dropped %d extracted atoms, knowledge store is at its limit", domain.ErrCodeCapacityExhausted, dropped))
		if len(accepted) == 0 {
			return result, nil
		}
	}

	for _, c := range accepted {
		atom, err := s.buildAtom(ctx, input, c)
		if err != nil {
			result.AtomsSkipped++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if err := s.repo.Create(ctx, atom); err != nil {
			result.AtomsSkipped++
			result.Errors = append(result.Errors, fmt.Sprintf("store atom: %v", err))
			continue
		}
		result.AtomsCreated++
		result.Atoms = append(result.Atoms, atom)
	}

	return result, nil
}

// extractCandidates sends the transcript tail to the completion model and
// decodes the response.
func (s *ExtractionService) extractCandidates(ctx context.Context, transcript string) ([]extractedAtom, error) {
	tail := transcriptTail(transcript, s.policy.TranscriptTailChars)
	userPrompt := fmt.Sprintf("Transcript:\n\n%s", tail)

	completionCtx, cancel := context.WithTimeout(ctx, s.policy.CompletionTimeout)
	defer cancel()

	raw, err := s.completion.GenerateCompletion(completionCtx, extractionSystemPrompt, userPrompt)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "extraction completion failed", err)
	}

	return parseExtractionResponse(raw)
}

// buildAtom embeds and assembles one accepted candidate.
func (s *ExtractionService) buildAtom(ctx context.Context, input ExtractInput, c extractedAtom) (*domain.KnowledgeAtom, error) {
	content := truncate(c.Content, domain.MaxContentChars)

	embedCtx, cancel := context.WithTimeout(ctx, s.policy.EmbeddingTimeout)
	defer cancel()
	embedding, err := s.embedding.GenerateEmbedding(embedCtx, content)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "failed to embed extracted atom", err)
	}

	atom := &domain.KnowledgeAtom{
		ID:              s.uuidGen.NewString(),
		UserID:          input.UserID,
		Type:            normalizeAtomType(c.Type),
		Content:         content,
		Embedding:       embedding,
		CreatedAt:       s.now(),
		SourceSessionID: input.SessionID,
		Metadata: domain.AtomMetadata{
			Context:    truncate(c.Context, domain.MaxContextChars),
			Confidence: clampConfidence(c.Confidence),
			Source:     domain.AtomSourceExtraction,
		},
	}

	if err := domain.ValidateKnowledgeAtom(atom); err != nil {
		return nil, err
	}
	return atom, nil
}

// transcriptTail returns the last max characters of the transcript. The tail
// is kept rather than the head because closings and objection handling
// cluster late in sales calls.
func transcriptTail(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[len(r)-max:])
}
