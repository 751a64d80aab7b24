package protocol

import (
	"fmt"
	"strings"
)

// The wire format does not escape delimiters: ':' separates the type tag from
// the payload, '|' separates fields inside a payload and ';' separates repeated
// groups. Fields therefore must not contain any of them. Changing this would
// break wire compatibility, so ValidateFields reports violations up front
// instead of the codec silently producing an unparseable line.

const (
	// TypeDelimiter separates the type tag from the payload.
	TypeDelimiter = ":"
	// FieldDelimiter separates fields inside a payload.
	FieldDelimiter = "|"
	// GroupDelimiter separates repeated groups inside a payload.
	GroupDelimiter = ";"
)

// Encode turns a message into its wire line (without the trailing newline).
// It never fails: the type tag is always a valid token by construction.
func Encode(msg Message) string {
	return string(msg.Type) + TypeDelimiter + msg.Payload
}

// Decode parses one wire line into a message. It returns ok=false when the
// line is empty, has no type delimiter, or the token before the first
// delimiter is not a known type tag. The payload is everything after the
// first delimiter, unparsed; grammar conformance is the caller's job.
func Decode(line string) (Message, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Message{}, false
	}

	idx := strings.Index(line, TypeDelimiter)
	if idx < 0 {
		return Message{}, false
	}

	msgType := MessageType(line[:idx])
	if !knownTypes[msgType] {
		return Message{}, false
	}

	return Message{Type: msgType, Payload: line[idx+1:]}, true
}

// JoinFields joins payload fields with the field delimiter.
func JoinFields(fields ...string) string {
	return strings.Join(fields, FieldDelimiter)
}

// SplitFields splits a payload into its fields. An empty payload yields no fields.
func SplitFields(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, FieldDelimiter)
}

// JoinGroups joins repeated payload groups with the group delimiter.
func JoinGroups(groups ...string) string {
	return strings.Join(groups, GroupDelimiter)
}

// SplitGroups splits a payload into its repeated groups.
func SplitGroups(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, GroupDelimiter)
}

// ValidateFields reports an error if any field contains a protocol delimiter.
func ValidateFields(fields ...string) error {
	for _, f := range fields {
		if strings.ContainsAny(f, TypeDelimiter+FieldDelimiter+GroupDelimiter) {
			return fmt.Errorf("field %q contains a protocol delimiter", f)
		}
	}
	return nil
}
