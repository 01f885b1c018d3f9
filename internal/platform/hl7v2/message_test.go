package hl7v2

import (
	"strings"
	"testing"
	"time"
)

const sampleORU = "MSH|^~\\&|GLEAMER||CSILXD|LUXMED|20250114093045.123||ORU^R01|VAR0000042|P|2.5||||||UNICODE UTF-8\r" +
	"PID||84921733|||TEST^PATIENT||19751224|F\r" +
	"OBR|1|VAR0000042||^Boneview analysis\r" +
	"OBX|1|ST|result-code^^GLEAMER||POSITIVE||||||R||||||||VAR0000042\r" +
	"ZDS|1.2.392.200036.9125.2.691202139174.VAR0000042^Gleamer^Application^DICOM"

func TestParseORU(t *testing.T) {
	msg, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Type != "ORU^R01" {
		t.Errorf("Type = %q, want ORU^R01", msg.Type)
	}
	if msg.ControlID != "VAR0000042" {
		t.Errorf("ControlID = %q", msg.ControlID)
	}
	if msg.Version != "2.5" {
		t.Errorf("Version = %q", msg.Version)
	}
	if msg.SendingApp != "GLEAMER" || msg.ReceivingApp != "CSILXD" {
		t.Errorf("apps = %q / %q", msg.SendingApp, msg.ReceivingApp)
	}

	want := time.Date(2025, 1, 14, 9, 30, 45, 0, time.UTC)
	if !msg.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v (milliseconds stripped)", msg.Timestamp, want)
	}

	obr := msg.GetSegment("OBR")
	if obr == nil {
		t.Fatal("missing OBR segment")
	}
	if got := obr.Field(2); got != "VAR0000042" {
		t.Errorf("OBR-2 = %q", got)
	}
	if got := obr.Component(4, 2); got != "Boneview analysis" {
		t.Errorf("OBR-4.2 = %q", got)
	}

	obx := msg.GetSegment("OBX")
	if obx == nil {
		t.Fatal("missing OBX segment")
	}
	if got := obx.Field(5); got != "POSITIVE" {
		t.Errorf("OBX-5 = %q", got)
	}

	zds := msg.GetSegment("ZDS")
	if zds == nil {
		t.Fatal("missing ZDS segment")
	}
	if got := zds.Component(1, 1); got != "1.2.392.200036.9125.2.691202139174.VAR0000042" {
		t.Errorf("ZDS-1.1 = %q", got)
	}
}

func TestParseLineEndings(t *testing.T) {
	for _, sep := range []string{"\r", "\n", "\r\n"} {
		raw := strings.ReplaceAll(sampleORU, "\r", sep)
		msg, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("separator %q: %v", sep, err)
		}
		if len(msg.Segments) != 5 {
			t.Fatalf("separator %q: got %d segments", sep, len(msg.Segments))
		}
	}
}

func TestParseCustomDelimiters(t *testing.T) {
	raw := "MSH#*~\\&#APP##REC##20250101120000##ORU*R01#CTRL1#P#2.5\r" +
		"OBX#1#ST#code**APP##NEGATIVE"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Delims.Field != '#' || msg.Delims.Component != '*' {
		t.Fatalf("delimiters = %+v", msg.Delims)
	}
	if msg.Type != "ORU*R01" {
		t.Errorf("Type = %q", msg.Type)
	}
	obx := msg.GetSegment("OBX")
	if obx == nil {
		t.Fatal("missing OBX")
	}
	if got := obx.Field(5); got != "NEGATIVE" {
		t.Errorf("OBX-5 = %q", got)
	}
	if got := obx.Component(3, 1); got != "code" {
		t.Errorf("OBX-3.1 = %q", got)
	}
}

func TestParseMSHFieldNumbering(t *testing.T) {
	msg, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	msh := msg.GetSegment("MSH")
	if msh == nil {
		t.Fatal("missing MSH")
	}
	if got := msh.Field(1); got != "|" {
		t.Errorf("MSH-1 = %q, want field separator", got)
	}
	if got := msh.Field(2); got != `^~\&` {
		t.Errorf("MSH-2 = %q, want encoding characters verbatim", got)
	}
	if got := msh.Field(9); got != "ORU^R01" {
		t.Errorf("MSH-9 = %q", got)
	}
	if got := msh.Field(10); got != "VAR0000042" {
		t.Errorf("MSH-10 = %q", got)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"blank lines only", "\r\n\r\n"},
		{"no MSH first", "PID||1234\rMSH|^~\\&|APP"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.raw)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"20250114093045", time.Date(2025, 1, 14, 9, 30, 45, 0, time.UTC)},
		{"20250114093045.123", time.Date(2025, 1, 14, 9, 30, 45, 0, time.UTC)},
		{"202501140930", time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC)},
		{"20250114", time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseTimestamp("2025"); err == nil {
		t.Error("expected error for truncated timestamp")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	again, err := Parse(msg.Serialize())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.ControlID != msg.ControlID || again.Type != msg.Type {
		t.Fatalf("round trip header mismatch: %q %q", again.ControlID, again.Type)
	}
	if len(again.Segments) != len(msg.Segments) {
		t.Fatalf("segment count %d != %d", len(again.Segments), len(msg.Segments))
	}
	if got := again.GetSegment("OBX").Field(5); got != "POSITIVE" {
		t.Errorf("OBX-5 after round trip = %q", got)
	}
}
