// Package hl7v2 implements the HL7 v2.x wire format used by the imaging-AI
// integration: MLLP framing, segment parsing, acknowledgment generation,
// and the TCP listener.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Delimiters holds the separator set declared in MSH-1/MSH-2 of a message.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters is the standard HL7 separator set (|^~\&).
func DefaultDelimiters() Delimiters {
	return Delimiters{Field: '|', Component: '^', Repetition: '~', Escape: '\\', Subcomponent: '&'}
}

// Message is a parsed HL7v2 message.
type Message struct {
	Delims       Delimiters
	Type         string    // MSH-9 (e.g. "ORU^R01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment is a single HL7v2 segment.
type Segment struct {
	Name   string // e.g. "MSH", "PID", "OBR", "OBX"
	Fields []Field
}

// Field is one field, split into repetitions (~) and components (^).
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses raw HL7v2 bytes into a structured Message. Segment lines may
// be separated by \r, \n, or \r\n. The separator set is taken from MSH-1 and
// MSH-2 rather than assumed, so messages using non-standard delimiters parse
// correctly. Unknown segments are kept but otherwise ignored.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}

	// The header segment must come first: it declares the separators every
	// other segment is parsed with.
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	delims, err := parseDelimiters(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{Delims: delims}
	for _, line := range lines {
		seg, err := parseSegment(line, delims)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msg.extractHeader()
	return msg, nil
}

// parseDelimiters reads MSH-1 (the field separator, the byte at offset 3)
// and MSH-2 (the encoding characters) from the raw MSH line.
func parseDelimiters(mshLine string) (Delimiters, error) {
	if len(mshLine) < 4 {
		return Delimiters{}, fmt.Errorf("hl7v2: MSH segment too short to declare separators")
	}

	d := DefaultDelimiters()
	d.Field = mshLine[3]

	// Encoding characters run from after the field separator to the next
	// occurrence of it. Standard order: component, repetition, escape,
	// subcomponent. Missing trailing characters keep their defaults.
	rest := mshLine[4:]
	end := strings.IndexByte(rest, d.Field)
	if end == -1 {
		end = len(rest)
	}
	enc := rest[:end]
	if len(enc) > 0 {
		d.Component = enc[0]
	}
	if len(enc) > 1 {
		d.Repetition = enc[1]
	}
	if len(enc) > 2 {
		d.Escape = enc[2]
	}
	if len(enc) > 3 {
		d.Subcomponent = enc[3]
	}
	return d, nil
}

func parseSegment(line string, delims Delimiters) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	seg := Segment{}
	fieldSep := string(delims.Field)

	if strings.HasPrefix(line, "MSH") {
		// MSH is special: the field separator itself is MSH-1, and MSH-2
		// (the encoding characters) must not be split on its own contents.
		seg.Name = "MSH"
		if len(line) < 4 {
			return seg, nil
		}

		seg.Fields = append(seg.Fields, Field{
			Value:      fieldSep,
			Components: []string{fieldSep},
			Repeats:    [][]string{{fieldSep}},
		})

		parts := strings.Split(line[4:], fieldSep)
		for i, part := range parts {
			if i == 0 {
				// MSH-2: encoding characters, taken verbatim.
				seg.Fields = append(seg.Fields, Field{
					Value:      part,
					Components: []string{part},
					Repeats:    [][]string{{part}},
				})
				continue
			}
			seg.Fields = append(seg.Fields, parseField(part, delims))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, fieldSep, 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], fieldSep) {
			seg.Fields = append(seg.Fields, parseField(f, delims))
		}
	}
	return seg, nil
}

func parseField(raw string, delims Delimiters) Field {
	f := Field{Value: raw}

	for _, rep := range strings.Split(raw, string(delims.Repetition)) {
		f.Repeats = append(f.Repeats, strings.Split(rep, string(delims.Component)))
	}
	f.Components = f.Repeats[0]

	return f
}

// extractHeader lifts the commonly used MSH fields onto the Message.
// Header fields are informational (acknowledgment correlation and audit);
// a missing one is not an error.
func (m *Message) extractHeader() {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return
	}

	m.SendingApp = msh.Field(3)
	m.SendingFac = msh.Field(4)
	m.ReceivingApp = msh.Field(5)
	m.ReceivingFac = msh.Field(6)
	m.Type = msh.Field(9)
	m.ControlID = msh.Field(10)
	m.Version = msh.Field(12)

	if ts := msh.Field(7); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
}

// ParseTimestamp parses an HL7v2 timestamp (YYYYMMDDHHMMSS[.SSS], shorter
// precisions accepted down to YYYYMMDD).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i != -1 {
		s = s[:i]
	}
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// Field returns a field value by its 1-based HL7 index. For MSH, index 1 is
// the field separator itself; for all other segments index 1 is the first
// field after the segment name. Out-of-range indexes return "".
func (s *Segment) Field(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// Component returns a component value by 1-based field and component
// indexes, using the first repetition.
func (s *Segment) Component(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	comps := s.Fields[idx].Components
	ci := compIdx - 1
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// Serialize converts the message back into raw HL7v2 bytes with \r segment
// separators.
func (m *Message) Serialize() []byte {
	delims := m.Delims
	if delims.Field == 0 {
		delims = DefaultDelimiters()
	}

	segments := make([]string, 0, len(m.Segments))
	for _, seg := range m.Segments {
		segments = append(segments, serializeSegment(seg, delims))
	}
	return []byte(strings.Join(segments, "\r"))
}

func serializeSegment(seg Segment, delims Delimiters) string {
	sep := string(delims.Field)

	if seg.Name == "MSH" {
		// Fields[0] is the field separator itself; serialization starts
		// from MSH-2.
		if len(seg.Fields) < 2 {
			return "MSH" + sep
		}
		parts := make([]string, 0, len(seg.Fields)-1)
		for i := 1; i < len(seg.Fields); i++ {
			parts = append(parts, seg.Fields[i].Value)
		}
		return "MSH" + sep + strings.Join(parts, sep)
	}

	parts := make([]string, len(seg.Fields))
	for i, f := range seg.Fields {
		parts[i] = f.Value
	}
	return seg.Name + sep + strings.Join(parts, sep)
}
