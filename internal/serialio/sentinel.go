package serialio

import (
	"strconv"
	"strings"
)

// EventKind identifies a sentinel the guest embeds in its serial output,
// per spec.md §4.5's protocol table.
type EventKind int

const (
	EventIPv4Discovered EventKind = iota
	EventSSHReady
	EventProvisionOK
	EventProvisionFailed
	EventScriptError
)

// Event is a parsed guest sentinel, handed to the supervisor's on-output
// hook one line at a time.
type Event struct {
	Kind EventKind

	IPv4 string // EventIPv4Discovered

	ScriptLabel string // EventScriptError
	ScriptLine  int    // EventScriptError
	ScriptRC    int    // EventScriptError
}

const (
	ipv4Prefix       = "VIBEBOX_IPV4="
	sshReadyMarker   = "VIBEBOX_SSH_READY"
	provisionOK      = "VIBEBOX_PROVISION_OK"
	provisionFailed  = "VIBEBOX_PROVISION_FAILED"
	scriptErrPrefix  = "VIBEBOX_SCRIPT_ERROR:"
)

// LineScanner accumulates raw bytes from the guest-output reader and
// yields one Event per complete, recognized line. Partial lines are
// buffered until the next newline, mirroring vm_manager.rs's on_output
// line-buffering loop.
type LineScanner struct {
	pending strings.Builder
}

// Feed appends bytes and returns any sentinel events found in newly
// completed lines.
func (s *LineScanner) Feed(data []byte) []Event {
	s.pending.Write(data)
	buffered := s.pending.String()

	var events []Event
	for {
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(buffered[:idx], "\r")
		buffered = buffered[idx+1:]
		if ev, ok := ParseLine(line); ok {
			events = append(events, ev)
		}
	}
	s.pending.Reset()
	s.pending.WriteString(buffered)
	return events
}

// ParseLine recognizes a single trimmed guest output line as a sentinel
// event, per spec.md §4.5: "matched after trimming leading \r and spaces
// from each line".
func ParseLine(line string) (Event, bool) {
	cleaned := strings.TrimLeft(line, "\r ")

	if idx := strings.Index(cleaned, ipv4Prefix); idx >= 0 {
		raw := cleaned[idx+len(ipv4Prefix):]
		if addr, ok := extractIPv4(raw); ok {
			return Event{Kind: EventIPv4Discovered, IPv4: addr}, true
		}
		return Event{}, false
	}
	if strings.Contains(cleaned, sshReadyMarker) {
		return Event{Kind: EventSSHReady}, true
	}
	if strings.Contains(cleaned, provisionFailed) {
		return Event{Kind: EventProvisionFailed}, true
	}
	if strings.Contains(cleaned, provisionOK) {
		return Event{Kind: EventProvisionOK}, true
	}
	if idx := strings.Index(cleaned, scriptErrPrefix); idx >= 0 {
		rest := cleaned[idx+len(scriptErrPrefix):]
		if ev, ok := parseScriptError(rest); ok {
			return ev, true
		}
	}
	return Event{}, false
}

func parseScriptError(rest string) (Event, bool) {
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return Event{}, false
	}
	line, err := strconv.Atoi(parts[1])
	if err != nil {
		return Event{}, false
	}
	rc, err := strconv.Atoi(parts[2])
	if err != nil {
		return Event{}, false
	}
	return Event{Kind: EventScriptError, ScriptLabel: parts[0], ScriptLine: line, ScriptRC: rc}, true
}

// extractIPv4 finds the first token in s made of digits and dots that
// parses as a valid IPv4 address (four 1-3 digit parts, each 0-255),
// ported from the reference implementation's extract_ipv4.
func extractIPv4(s string) (string, bool) {
	var current strings.Builder
	for i := 0; i <= len(s); i++ {
		var ch byte
		if i < len(s) {
			ch = s[i]
		} else {
			ch = ' '
		}
		if (ch >= '0' && ch <= '9') || ch == '.' {
			current.WriteByte(ch)
			continue
		}
		if current.Len() > 0 {
			candidate := current.String()
			if isIPv4Candidate(candidate) {
				return candidate, true
			}
			current.Reset()
		}
	}
	return "", false
}

func isIPv4Candidate(candidate string) bool {
	parts := strings.Split(candidate, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
