package study

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter is a conjunction of predicates over the study population. Zero
// values mean "no constraint".
type Filter struct {
	Since      *time.Time // created_at >= Since
	Until      *time.Time // created_at <= Until
	StudyType  string     // substring of study_description
	ResultType Verdict    // exact ai_verdict match
	Username   string     // author of an active classification
}

// Repository persists studies, classifications, and comments. Not-found,
// conflict, and internal failures are distinct outcomes: implementations
// return ErrNotFound and ErrConflict for the first two and wrap everything
// else.
type Repository interface {
	CreateStudy(ctx context.Context, s *Study) error
	FindStudyByAccession(ctx context.Context, accession string) (*Study, error)
	ListStudies(ctx context.Context, f Filter, limit, offset int) ([]*Study, int, error)

	// UpsertClassification atomically replaces the active classification
	// for (study, kind); the Repository keeps the active-classification
	// invariant, callers never read-modify-write.
	UpsertClassification(ctx context.Context, c *Classification) error
	DeleteActiveClassification(ctx context.Context, studyID uuid.UUID, kind ClassKind) error

	// QueryReconciledPopulation returns the filtered studies with their
	// active classifications loaded, ready for Reconcile.
	QueryReconciledPopulation(ctx context.Context, f Filter) ([]*Study, error)

	AddComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, studyID uuid.UUID) ([]*Comment, error)
	UpdateComment(ctx context.Context, id uuid.UUID, username, text string) (*Comment, error)
	DeleteComment(ctx context.Context, id uuid.UUID) error
}
