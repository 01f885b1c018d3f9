// Package study holds the core of the reconciliation engine: the canonical
// study record extracted from inbound HL7 results, human classifications on
// the PRIMARY and FOLLOW_UP tracks, and the precedence rule that derives
// the effective verdict used for statistics.
package study

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is the AI result as received. Doubt counts as positive for every
// classification and statistic but the stored value stays verbatim.
type Verdict string

const (
	VerdictPositive Verdict = "POSITIVE"
	VerdictNegative Verdict = "NEGATIVE"
	VerdictDoubt    Verdict = "DOUBT"
)

// NormalizeVerdict maps a raw result token to a Verdict. Matching is
// case-insensitive and ignores surrounding whitespace; any other token is a
// ParseError.
func NormalizeVerdict(token string) (Verdict, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case string(VerdictPositive):
		return VerdictPositive, nil
	case string(VerdictNegative):
		return VerdictNegative, nil
	case string(VerdictDoubt):
		return VerdictDoubt, nil
	default:
		return "", newParseError(ParseBadResult, "unknown result token %q", token)
	}
}

// IsPositive reports whether the verdict sits on the positive track.
func (v Verdict) IsPositive() bool {
	return v == VerdictPositive || v == VerdictDoubt
}

// MatchesFilter reports whether a stored verdict satisfies a result-type
// filter. A POSITIVE filter also admits DOUBT, which counts as positive for
// classifications and statistics; filtering on DOUBT itself still selects
// only DOUBT studies.
func (v Verdict) MatchesFilter(filter Verdict) bool {
	if filter == VerdictPositive {
		return v.IsPositive()
	}
	return v == filter
}

// ClassKind is the classification track. A study carries at most one
// active classification per kind.
type ClassKind string

const (
	KindPrimary  ClassKind = "PRIMARY"
	KindFollowUp ClassKind = "FOLLOW_UP"
)

// ParseClassKind validates a classification track name.
func ParseClassKind(s string) (ClassKind, error) {
	switch ClassKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindPrimary:
		return KindPrimary, nil
	case KindFollowUp:
		return KindFollowUp, nil
	default:
		return "", ErrValidation
	}
}

// ClassValue is a confusion-matrix cell assigned by a reviewer.
type ClassValue string

const (
	ValueTP ClassValue = "TP"
	ValueTN ClassValue = "TN"
	ValueFP ClassValue = "FP"
	ValueFN ClassValue = "FN"
)

// ParseClassValue validates a classification value.
func ParseClassValue(s string) (ClassValue, error) {
	switch ClassValue(strings.ToUpper(strings.TrimSpace(s))) {
	case ValueTP:
		return ValueTP, nil
	case ValueTN:
		return ValueTN, nil
	case ValueFP:
		return ValueFP, nil
	case ValueFN:
		return ValueFN, nil
	default:
		return "", ErrValidation
	}
}

// Study is one imaging examination, keyed by its accession number.
// Demographic fields come from the optional PID segment and stay nil when
// the source message omits them, so absent is distinguishable from empty.
type Study struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	AccessionNumber  string            `db:"accession_number" json:"accession_number"`
	StudyDescription string            `db:"study_description" json:"study_description"`
	StudyUID         *string           `db:"study_uid" json:"study_uid,omitempty"`
	PatientID        *string           `db:"patient_id" json:"patient_id,omitempty"`
	PatientDOB       *string           `db:"patient_dob" json:"patient_dob,omitempty"`
	PatientSex       *string           `db:"patient_sex" json:"patient_sex,omitempty"`
	AIVerdict        Verdict           `db:"ai_verdict" json:"ai_verdict"`
	RawMessage       string            `db:"raw_message" json:"-"`
	ParsedFields     map[string]string `db:"parsed_fields" json:"parsed_fields,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`

	Classifications []*Classification `db:"-" json:"classifications,omitempty"`
	Comments        []*Comment        `db:"-" json:"comments,omitempty"`
}

// Classification is an active human verdict on one track of a study.
// Re-submission for the same (study, kind) replaces the row in place.
type Classification struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	StudyID   uuid.UUID  `db:"study_id" json:"study_id"`
	Kind      ClassKind  `db:"kind" json:"kind"`
	Username  string     `db:"username" json:"username"`
	Value     ClassValue `db:"value" json:"value"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Comment is a free-text annotation on a study. Any actor may edit or
// delete any comment; review is collaborative, not attributed.
type Comment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	StudyID   uuid.UUID `db:"study_id" json:"study_id"`
	Username  string    `db:"username" json:"username"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Reconcile derives the effective classification from a study's active
// classifications: FOLLOW_UP overrides PRIMARY, and a study with neither is
// unclassified (nil). Pure; the read paths and the statistics engine share
// this one rule.
func Reconcile(classifications []*Classification) *ClassValue {
	var primary, followUp *ClassValue
	for _, c := range classifications {
		switch c.Kind {
		case KindPrimary:
			v := c.Value
			primary = &v
		case KindFollowUp:
			v := c.Value
			followUp = &v
		}
	}
	if followUp != nil {
		return followUp
	}
	return primary
}

// Reconciled is the study's effective classification.
func (s *Study) Reconciled() *ClassValue {
	return Reconcile(s.Classifications)
}
