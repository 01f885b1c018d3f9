package study

import (
	"strings"
	"time"

	"github.com/radrecon/radrecon/internal/platform/hl7v2"
)

// resultObservationID is the OBX-3 identifier the AI vendor uses for the
// verdict channel.
const resultObservationID = "result-code"

// ExtractStudy builds a Study from a parsed ORU message. The accession
// number (OBR-3, falling back to OBR-2) and the AI result token (OBX-5 of
// the result channel) are mandatory; patient demographics and the study UID
// are optional. Timestamps arrive in UTC and are converted to the
// facility's civil time.
func ExtractStudy(msg *hl7v2.Message, raw []byte, loc *time.Location) (*Study, error) {
	if loc == nil {
		loc = time.UTC
	}

	obr := msg.GetSegment("OBR")
	if obr == nil {
		return nil, newParseError(ParseMissingAccession, "no OBR segment")
	}

	accession := strings.TrimSpace(obr.Component(3, 1))
	if accession == "" {
		accession = strings.TrimSpace(obr.Component(2, 1))
	}
	if accession == "" {
		return nil, newParseError(ParseMissingAccession, "no accession number in OBR-3 or OBR-2")
	}

	description := strings.TrimSpace(strings.TrimPrefix(obr.Field(4), string(msg.Delims.Component)))

	token, found := resultToken(msg)
	if !found {
		return nil, newParseError(ParseMissingResult, "no AI result observation")
	}
	verdict, err := NormalizeVerdict(token)
	if err != nil {
		return nil, err
	}

	s := &Study{
		AccessionNumber:  accession,
		StudyDescription: description,
		AIVerdict:        verdict,
		RawMessage:       string(raw),
		ParsedFields:     map[string]string{},
		CreatedAt:        createdAt(msg, loc),
	}

	if pid := msg.GetSegment("PID"); pid != nil {
		s.PatientID = optional(pid.Component(2, 1))
		s.PatientDOB = optional(pid.Component(7, 1))
		s.PatientSex = optional(pid.Component(8, 1))
	}
	if zds := msg.GetSegment("ZDS"); zds != nil {
		s.StudyUID = optional(zds.Component(1, 1))
	}

	fillParsedFields(s, msg)
	return s, nil
}

// resultToken finds the AI result value. The observation whose OBX-3
// identifier names the result channel wins; when no OBX declares it, the
// first non-empty OBX-5 is taken so messages from older vendor versions
// still ingest.
func resultToken(msg *hl7v2.Message) (string, bool) {
	fallback := ""
	for _, obx := range msg.GetSegments("OBX") {
		value := strings.TrimSpace(obx.Field(5))
		if value == "" {
			continue
		}
		if strings.EqualFold(obx.Component(3, 1), resultObservationID) {
			return value, true
		}
		if fallback == "" {
			fallback = value
		}
	}
	return fallback, fallback != ""
}

func createdAt(msg *hl7v2.Message, loc *time.Location) time.Time {
	if !msg.Timestamp.IsZero() {
		return msg.Timestamp.In(loc)
	}
	return time.Now().In(loc)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// fillParsedFields records the extracted segment values for audit display.
// Only present values are stored; absence stays absent.
func fillParsedFields(s *Study, msg *hl7v2.Message) {
	put := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			s.ParsedFields[key] = value
		}
	}

	put("message_type", msg.Type)
	put("control_id", msg.ControlID)
	put("sending_app", msg.SendingApp)
	put("sending_facility", msg.SendingFac)
	put("receiving_app", msg.ReceivingApp)
	put("receiving_facility", msg.ReceivingFac)
	if s.PatientID != nil {
		put("patient_id", *s.PatientID)
	}
	if s.PatientDOB != nil {
		put("patient_dob", *s.PatientDOB)
	}
	if s.PatientSex != nil {
		put("patient_sex", *s.PatientSex)
	}
	if s.StudyUID != nil {
		put("study_uid", *s.StudyUID)
	}
}
