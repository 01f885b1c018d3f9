package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Acknowledgment codes (MSA-1).
const (
	AckAccept = "AA" // application accept
	AckError  = "AE" // application error
	AckReject = "AR" // application reject
)

// BuildAck creates an acknowledgment for the given incoming message. The
// sender/receiver pairs are mirrored and MSA-2 carries the inbound control
// id. reason, when non-empty, is placed in MSA-3 so the peer sees why a
// message was refused. incoming may be nil when the inbound bytes never
// parsed; the acknowledgment then carries an UNKNOWN control id.
func BuildAck(incoming *Message, code, reason string) *Message {
	trigger := ""
	version := "2.5"
	controlRef := "UNKNOWN"
	sendingApp, sendingFac := "RADRECON", "HOSPITAL"
	receivingApp, receivingFac := "", ""

	if incoming != nil {
		if parts := strings.SplitN(incoming.Type, "^", 2); len(parts) == 2 {
			trigger = parts[1]
		}
		if incoming.Version != "" {
			version = incoming.Version
		}
		if incoming.ControlID != "" {
			controlRef = incoming.ControlID
		}
		if incoming.ReceivingApp != "" {
			sendingApp = incoming.ReceivingApp
		}
		if incoming.ReceivingFac != "" {
			sendingFac = incoming.ReceivingFac
		}
		receivingApp = incoming.SendingApp
		receivingFac = incoming.SendingFac
	}

	now := time.Now().UTC()
	timestamp := now.Format("20060102150405")
	controlID := fmt.Sprintf("ACK%s", now.Format("20060102150405.000"))
	msgType := "ACK^" + trigger

	ack := &Message{
		Delims:       DefaultDelimiters(),
		Type:         msgType,
		ControlID:    controlID,
		Version:      version,
		Timestamp:    now,
		SendingApp:   sendingApp,
		SendingFac:   sendingFac,
		ReceivingApp: receivingApp,
		ReceivingFac: receivingFac,
	}

	msh := Segment{
		Name: "MSH",
		Fields: []Field{
			simpleField("|"),          // MSH-1
			simpleField(`^~\&`),       // MSH-2
			simpleField(sendingApp),   // MSH-3
			simpleField(sendingFac),   // MSH-4
			simpleField(receivingApp), // MSH-5
			simpleField(receivingFac), // MSH-6
			simpleField(timestamp),    // MSH-7
			simpleField(""),           // MSH-8
			simpleField(msgType),      // MSH-9
			simpleField(controlID),    // MSH-10
			simpleField("P"),          // MSH-11
			simpleField(version),      // MSH-12
		},
	}

	msa := Segment{
		Name: "MSA",
		Fields: []Field{
			simpleField(code),       // MSA-1
			simpleField(controlRef), // MSA-2
		},
	}
	if reason != "" {
		msa.Fields = append(msa.Fields, simpleField(reason)) // MSA-3
	}

	ack.Segments = []Segment{msh, msa}
	return ack
}

func simpleField(value string) Field {
	return Field{
		Value:      value,
		Components: []string{value},
		Repeats:    [][]string{{value}},
	}
}
