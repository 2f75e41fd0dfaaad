// Package parser turns raw DNS server debug log lines into LogEntry records.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bft-labs/logship/internal/domain"
)

// minFields is the number of whitespace-separated fields of a packet line.
const minFields = 16

// label matches one length-prefixed label of an encoded question name,
// for example "(8)woshub".
var label = regexp.MustCompile(`\((\d+)\)([^()]+)`)

// Parse splits line into the fixed field layout
//
//	date time ampm thread context packet proto dir remoteIP xid qr [opcode flags rcode] qtype qname
//
// and assigns the entry a fresh random ID. Extra trailing fields are ignored.
func Parse(line string) (domain.LogEntry, error) {
	f := strings.Fields(line)
	if len(f) < minFields {
		return domain.LogEntry{}, fmt.Errorf("%w: %d fields, want %d", domain.ErrMalformedLine, len(f), minFields)
	}

	// Responses carry an extra "R" before the opcode letter: "R Q [8081 ...".
	qr, rest := f[10], f[11:]
	if !strings.HasPrefix(rest[0], "[") {
		qr += " " + rest[0]
		rest = rest[1:]
	}
	if len(rest) < 5 {
		return domain.LogEntry{}, fmt.Errorf("%w: truncated question section", domain.ErrMalformedLine)
	}

	return domain.LogEntry{
		ID:              uuid.NewString(),
		Date:            f[0],
		Time:            f[1] + " " + f[2],
		ThreadID:        f[3],
		Context:         f[4],
		PacketID:        f[5],
		Protocol:        f[6],
		Direction:       f[7],
		RemoteIP:        f[8],
		XID:             f[9],
		QueryResponse:   qr,
		Opcode:          strings.TrimPrefix(rest[0], "["),
		Flags:           rest[1],
		ResponseCode:    strings.TrimSuffix(rest[2], "]"),
		QuestionType:    rest[3],
		QuestionEncoded: rest[4],
		QuestionName:    DecodeQuestion(rest[4]),
	}, nil
}

// ParseMessage parses a queued message and records where it came from.
func ParseMessage(msg domain.Message) (domain.LogEntry, error) {
	entry, err := Parse(msg.Body)
	if err != nil {
		return entry, err
	}
	entry.Source = msg.Source
	entry.Line = msg.Line
	return entry, nil
}

// DecodeQuestion converts the wire-style name "(8)woshub(2)com(0)" to
// "woshub.com". Input without labels decodes to "".
func DecodeQuestion(encoded string) string {
	matches := label.FindAllStringSubmatch(encoded, -1)
	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		labels = append(labels, m[2])
	}
	return strings.Join(labels, ".")
}
