package study

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radrecon/radrecon/internal/platform/hl7v2"
	"github.com/radrecon/radrecon/internal/platform/telemetry"
)

// Service runs the ingestion and reconciliation logic on top of the
// Repository.
type Service struct {
	repo Repository
	loc  *time.Location
	log  zerolog.Logger
}

func NewService(repo Repository, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, loc: loc, log: log}
}

// Ingest parses raw HL7 bytes and persists the resulting study.
// All-or-nothing: a message that fails anywhere leaves no partial state. A
// duplicate accession is ErrConflict and the original study is untouched.
func (s *Service) Ingest(ctx context.Context, raw []byte) (*Study, error) {
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		return nil, newParseError(ParseMalformed, "%v", err)
	}

	st, err := ExtractStudy(msg, raw, s.loc)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateStudy(ctx, st); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("accession", st.AccessionNumber).
		Str("ai_verdict", string(st.AIVerdict)).
		Msg("study ingested")
	return st, nil
}

// SubmitClassification upserts the active classification for the study's
// given track. kind and value arrive as raw strings from the API edge and
// are validated here.
func (s *Service) SubmitClassification(ctx context.Context, accession, kind, username, value string) (*Classification, error) {
	k, err := ParseClassKind(kind)
	if err != nil {
		return nil, err
	}
	v, err := ParseClassValue(value)
	if err != nil {
		return nil, err
	}
	if username == "" {
		return nil, ErrValidation
	}

	st, err := s.repo.FindStudyByAccession(ctx, accession)
	if err != nil {
		return nil, err
	}

	c := &Classification{StudyID: st.ID, Kind: k, Username: username, Value: v}
	if err := s.repo.UpsertClassification(ctx, c); err != nil {
		return nil, err
	}

	telemetry.ClassificationsTotal.WithLabelValues(string(k)).Inc()
	s.log.Info().
		Str("accession", accession).
		Str("kind", string(k)).
		Str("value", string(v)).
		Str("username", username).
		Msg("classification submitted")
	return c, nil
}

// RemoveClassification deletes the active classification for the study's
// given track. A track with no active classification is ErrNotFound, not a
// silent no-op.
func (s *Service) RemoveClassification(ctx context.Context, accession, kind string) error {
	k, err := ParseClassKind(kind)
	if err != nil {
		return err
	}

	st, err := s.repo.FindStudyByAccession(ctx, accession)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteActiveClassification(ctx, st.ID, k); err != nil {
		return err
	}

	s.log.Info().
		Str("accession", accession).
		Str("kind", string(k)).
		Msg("classification removed")
	return nil
}

// GetStudy returns one study with its classifications, comments, and
// reconciled verdict.
func (s *Service) GetStudy(ctx context.Context, accession string) (*Study, error) {
	return s.repo.FindStudyByAccession(ctx, accession)
}

// ListStudies returns the filtered study page, newest first.
func (s *Service) ListStudies(ctx context.Context, f Filter, limit, offset int) ([]*Study, int, error) {
	return s.repo.ListStudies(ctx, f, limit, offset)
}

func (s *Service) AddComment(ctx context.Context, accession, username, text string) (*Comment, error) {
	if username == "" || text == "" {
		return nil, ErrValidation
	}

	st, err := s.repo.FindStudyByAccession(ctx, accession)
	if err != nil {
		return nil, err
	}

	c := &Comment{StudyID: st.ID, Username: username, Text: text}
	if err := s.repo.AddComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListComments(ctx context.Context, accession string) ([]*Comment, error) {
	st, err := s.repo.FindStudyByAccession(ctx, accession)
	if err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, st.ID)
}

func (s *Service) UpdateComment(ctx context.Context, id uuid.UUID, username, text string) (*Comment, error) {
	if text == "" {
		return nil, ErrValidation
	}
	return s.repo.UpdateComment(ctx, id, username, text)
}

func (s *Service) DeleteComment(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteComment(ctx, id)
}

// MLLPHandler adapts Ingest to the MLLP listener. Every outcome becomes an
// acknowledgment: AA on success, AE with a short reason for rejected
// messages, AR when storage fails.
func (s *Service) MLLPHandler() hl7v2.MessageHandler {
	return func(raw []byte, msg *hl7v2.Message) *hl7v2.Message {
		_, err := s.Ingest(context.Background(), raw)
		if err == nil {
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportMLLP, telemetry.OutcomeAccepted).Inc()
			return hl7v2.BuildAck(msg, hl7v2.AckAccept, "")
		}

		var parseErr *ParseError
		switch {
		case errors.Is(err, ErrConflict):
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportMLLP, telemetry.OutcomeDuplicate).Inc()
			s.log.Warn().Err(err).Msg("duplicate message rejected")
			return hl7v2.BuildAck(msg, hl7v2.AckError, "duplicate accession")
		case errors.As(err, &parseErr):
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportMLLP, telemetry.OutcomeMalformed).Inc()
			s.log.Warn().Err(err).Msg("message rejected")
			return hl7v2.BuildAck(msg, hl7v2.AckError, ackReason(parseErr))
		default:
			telemetry.MessagesTotal.WithLabelValues(telemetry.TransportMLLP, telemetry.OutcomeStorage).Inc()
			s.log.Error().Err(err).Msg("storage failure during ingestion")
			return hl7v2.BuildAck(msg, hl7v2.AckReject, "storage failure")
		}
	}
}

func ackReason(e *ParseError) string {
	switch e.Kind {
	case ParseMissingAccession:
		return "missing accession number"
	case ParseMissingResult, ParseBadResult:
		return "message not actionable"
	default:
		return "malformed message"
	}
}
