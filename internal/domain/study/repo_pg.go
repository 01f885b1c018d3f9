package study

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const studyCols = `id, accession_number, study_description, study_uid,
	patient_id, patient_dob, patient_sex,
	ai_verdict, raw_message, parsed_fields, created_at`

func scanStudy(row pgx.Row) (*Study, error) {
	var s Study
	err := row.Scan(
		&s.ID, &s.AccessionNumber, &s.StudyDescription, &s.StudyUID,
		&s.PatientID, &s.PatientDOB, &s.PatientSex,
		&s.AIVerdict, &s.RawMessage, &s.ParsedFields, &s.CreatedAt,
	)
	return &s, err
}

func (r *RepoPG) CreateStudy(ctx context.Context, s *Study) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO studies (id, accession_number, study_description, study_uid,
			patient_id, patient_dob, patient_sex,
			ai_verdict, raw_message, parsed_fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.AccessionNumber, s.StudyDescription, s.StudyUID,
		s.PatientID, s.PatientDOB, s.PatientSex,
		s.AIVerdict, s.RawMessage, s.ParsedFields, s.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("accession %s: %w", s.AccessionNumber, ErrConflict)
		}
		return fmt.Errorf("create study: %w", err)
	}
	return nil
}

func (r *RepoPG) FindStudyByAccession(ctx context.Context, accession string) (*Study, error) {
	q := fmt.Sprintf("SELECT %s FROM studies WHERE accession_number = $1", studyCols)
	s, err := scanStudy(r.pool.QueryRow(ctx, q, accession))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("accession %s: %w", accession, ErrNotFound)
		}
		return nil, fmt.Errorf("find study: %w", err)
	}

	if err := r.loadClassifications(ctx, []*Study{s}); err != nil {
		return nil, err
	}
	comments, err := r.ListComments(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Comments = comments
	return s, nil
}

// buildFilter renders f as a WHERE clause over the studies table. The
// username predicate matches studies carrying an active classification by
// that author.
func buildFilter(f Filter) (string, []interface{}) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if f.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *f.Since)
		idx++
	}
	if f.Until != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *f.Until)
		idx++
	}
	if f.StudyType != "" {
		where = append(where, fmt.Sprintf("study_description ILIKE $%d", idx))
		args = append(args, "%"+f.StudyType+"%")
		idx++
	}
	if f.ResultType != "" {
		// A POSITIVE filter admits DOUBT too; it counts as positive
		// everywhere downstream.
		if f.ResultType == VerdictPositive {
			where = append(where, fmt.Sprintf("ai_verdict = ANY($%d)", idx))
			args = append(args, []string{string(VerdictPositive), string(VerdictDoubt)})
		} else {
			where = append(where, fmt.Sprintf("ai_verdict = $%d", idx))
			args = append(args, f.ResultType)
		}
		idx++
	}
	if f.Username != "" {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM classifications c WHERE c.study_id = studies.id AND c.username = $%d)", idx))
		args = append(args, f.Username)
		idx++
	}

	if len(where) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(where, " AND "), args
}

func (r *RepoPG) ListStudies(ctx context.Context, f Filter, limit, offset int) ([]*Study, int, error) {
	whereClause, args := buildFilter(f)

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM studies %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count studies: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM studies %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		studyCols, whereClause, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	studies, err := r.queryStudies(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	if err := r.loadClassifications(ctx, studies); err != nil {
		return nil, 0, err
	}
	return studies, total, nil
}

func (r *RepoPG) QueryReconciledPopulation(ctx context.Context, f Filter) ([]*Study, error) {
	whereClause, args := buildFilter(f)
	q := fmt.Sprintf("SELECT %s FROM studies %s ORDER BY created_at DESC", studyCols, whereClause)

	studies, err := r.queryStudies(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if err := r.loadClassifications(ctx, studies); err != nil {
		return nil, err
	}
	return studies, nil
}

func (r *RepoPG) queryStudies(ctx context.Context, q string, args ...interface{}) ([]*Study, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var studies []*Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		studies = append(studies, s)
	}
	return studies, rows.Err()
}

func (r *RepoPG) loadClassifications(ctx context.Context, studies []*Study) error {
	if len(studies) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(studies))
	byID := make(map[uuid.UUID]*Study, len(studies))
	for i, s := range studies {
		ids[i] = s.ID
		byID[s.ID] = s
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, study_id, kind, username, value, created_at, updated_at
		FROM classifications WHERE study_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load classifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Classification
		if err := rows.Scan(&c.ID, &c.StudyID, &c.Kind, &c.Username, &c.Value, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return fmt.Errorf("scan classification: %w", err)
		}
		if s, ok := byID[c.StudyID]; ok {
			s.Classifications = append(s.Classifications, &c)
		}
	}
	return rows.Err()
}

func (r *RepoPG) UpsertClassification(ctx context.Context, c *Classification) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	// The unique index on (study_id, kind) makes this the atomic
	// last-writer-wins point for concurrent submissions.
	err := r.pool.QueryRow(ctx, `
		INSERT INTO classifications (id, study_id, kind, username, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (study_id, kind)
		DO UPDATE SET username = EXCLUDED.username, value = EXCLUDED.value, updated_at = now()
		RETURNING id, created_at, updated_at`,
		c.ID, c.StudyID, c.Kind, c.Username, c.Value,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert classification: %w", err)
	}
	return nil
}

func (r *RepoPG) DeleteActiveClassification(ctx context.Context, studyID uuid.UUID, kind ClassKind) error {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM classifications WHERE study_id = $1 AND kind = $2", studyID, kind)
	if err != nil {
		return fmt.Errorf("delete classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no active %s classification: %w", kind, ErrNotFound)
	}
	return nil
}

func (r *RepoPG) AddComment(ctx context.Context, c *Comment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO comments (id, study_id, username, text, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at`,
		c.ID, c.StudyID, c.Username, c.Text,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func (r *RepoPG) ListComments(ctx context.Context, studyID uuid.UUID) ([]*Comment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, study_id, username, text, created_at
		FROM comments WHERE study_id = $1 ORDER BY created_at DESC`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.StudyID, &c.Username, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

func (r *RepoPG) UpdateComment(ctx context.Context, id uuid.UUID, username, text string) (*Comment, error) {
	var c Comment
	err := r.pool.QueryRow(ctx, `
		UPDATE comments SET username = $2, text = $3
		WHERE id = $1
		RETURNING id, study_id, username, text, created_at`,
		id, username, text,
	).Scan(&c.ID, &c.StudyID, &c.Username, &c.Text, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return &c, nil
}

func (r *RepoPG) DeleteComment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM comments WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return nil
}
