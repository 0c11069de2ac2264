// Package logtoken extracts upgrade events from the free-text log written by
// the batch upgrade job. The job marks progress with tokens such as
// `POD-START [name]`, `POD-FAIL [name] reason.` and `BATCH-SUCCESS`, which
// can appear anywhere within a line.
package logtoken

import (
	"regexp"
	"strings"

	"github.com/kelda/wavectl/pkg/upgrade"
)

var tokenRegexp = regexp.MustCompile(
	`POD-START \[(` + upgrade.NamePattern + `)\]` +
		`|POD-SUCCESS \[(` + upgrade.NamePattern + `)\]` +
		`|POD-FAIL \[(` + upgrade.NamePattern + `)\]` +
		`|BATCH-SUCCESS|BATCH-FAIL|\bFAIL\b`)

// Submatch indices of the name capture groups within tokenRegexp. The name
// pattern itself contains three groups.
const (
	startGroup   = 1
	successGroup = 5
	failGroup    = 9
)

// Parser turns a chunked log stream into events. Chunks may split a token at
// any byte, so only complete lines are matched and the remainder is buffered
// until more text arrives. A Parser is not safe for concurrent use.
type Parser struct {
	pending strings.Builder
}

// Feed appends a chunk of the log and returns the events found in the lines
// it completed. Each token occurrence is returned exactly once across all
// calls.
func (p *Parser) Feed(chunk string) []Event {
	p.pending.WriteString(chunk)

	buffered := p.pending.String()
	end := strings.LastIndexByte(buffered, '\n')
	if end < 0 {
		return nil
	}

	p.pending.Reset()
	p.pending.WriteString(buffered[end+1:])
	return Parse(buffered[:end+1])
}

// Flush returns the events in the trailing partial line, if any. It should be
// called once the stream has ended.
func (p *Parser) Flush() []Event {
	rest := p.pending.String()
	p.pending.Reset()
	return Parse(rest)
}

// Buffered returns the text that has been fed but not yet matched.
func (p *Parser) Buffered() string {
	return p.pending.String()
}

// Parse returns the events in a complete piece of text, in order of
// appearance. Text that doesn't form a token is ignored.
func Parse(text string) []Event {
	var events []Event
	for _, line := range strings.Split(text, "\n") {
		events = append(events, parseLine(strings.TrimRight(line, "\r"))...)
	}
	return events
}

func parseLine(line string) []Event {
	var events []Event
	matches := tokenRegexp.FindAllStringSubmatchIndex(line, -1)

	// Text that belongs to a failure reason is never matched as a token.
	var reasonEnd int
	for i, m := range matches {
		if m[0] < reasonEnd {
			continue
		}

		group := func(i int) (string, bool) {
			if m[2*i] < 0 {
				return "", false
			}
			return line[m[2*i]:m[2*i+1]], true
		}

		if name, ok := group(startGroup); ok {
			events = append(events, Event{Kind: TargetStarted, Name: name})
			continue
		}
		if name, ok := group(successGroup); ok {
			events = append(events, Event{Kind: TargetSucceeded, Name: name})
			continue
		}
		if name, ok := group(failGroup); ok {
			reasonEnd = findReasonEnd(line, m[1], matches[i+1:])
			events = append(events, Event{
				Kind:   TargetFailed,
				Name:   name,
				Reason: trimReason(line[m[1]:reasonEnd]),
			})
			continue
		}

		switch token := line[m[0]:m[1]]; token {
		case "BATCH-SUCCESS":
			events = append(events, Event{Kind: WaveSucceeded})
		case "BATCH-FAIL":
			events = append(events, Event{Kind: WaveFailed})
		case "FAIL":
			// A malformed POD- or BATCH- token still contains the word.
			prefix := line[:m[0]]
			if strings.HasSuffix(prefix, "POD-") || strings.HasSuffix(prefix, "BATCH-") {
				continue
			}
			events = append(events, Event{Kind: JobFailed})
		}
	}
	return events
}

// findReasonEnd returns where the reason of a POD-FAIL token that ends at
// start stops. The reason ends at the first period followed by whitespace or
// the end of the line, and never extends into the next POD- or BATCH- token.
func findReasonEnd(line string, start int, rest [][]int) int {
	limit := len(line)
	for _, m := range rest {
		if line[m[0]:m[1]] != "FAIL" {
			limit = m[0]
			break
		}
	}

	text := strings.TrimRight(line[start:limit], " \t")
	for i := 0; i < len(text); i++ {
		if text[i] != '.' {
			continue
		}
		if i == len(text)-1 || text[i+1] == ' ' || text[i+1] == '\t' {
			return start + i + 1
		}
	}
	return limit
}

func trimReason(reason string) string {
	reason = strings.TrimSpace(reason)
	return strings.TrimSuffix(reason, ".")
}
