package fanout

import (
	"strconv"
	"strings"
)

// Output formats handed to the fan-out tool. Every record is one line
// "<kind> <position> # <payload>"; position is the 1-based index of the
// target in the command line, 0 for the tool itself.
var outputFormats = []string{
	"-o", `output="A $position # $line\n"`,
	"-o", `error="B $position # $line\n"`,
	"-o", `status="C $position # $line\n"`,
	"-o", `connector="D $position # $peer_position # $line\n"`,
	"-o", `state="E $position # $peer_position # $line # ".event_msg($line)."\n"`,
	"-o", `info="F $position # $line\n"`,
	"-o", `taktuk="G $position # $line\n"`,
	"-o", `message="H $position # $line\n"`,
	"-o", `default="I $position # $type > $line\n"`,
}

// Record kinds.
const (
	kindOutput    = 'A'
	kindError     = 'B'
	kindStatus    = 'C'
	kindConnector = 'D'
	kindState     = 'E'
)

// State codes reported in kindState records.
const (
	stateConnectionFailed = 3
	stateConnectionLost   = 5
	stateCommandStarted   = 6
	stateCommandFailed    = 7
)

type record struct {
	kind     byte
	position int
	payload  string // keeps the trailing newline of output records
}

// parseRecord splits one protocol line.
func parseRecord(line string) (record, bool) {
	if len(line) < 3 || line[1] != ' ' {
		return record{}, false
	}
	pos, payload, found := strings.Cut(line[2:], " # ")
	if !found {
		return record{}, false
	}
	n, err := strconv.Atoi(pos)
	if err != nil {
		return record{}, false
	}
	return record{kind: line[0], position: n, payload: payload}, true
}

// peerState splits the payload of a state record into the peer position
// and the state code.
func peerState(payload string) (peer, code int, ok bool) {
	parts := strings.SplitN(payload, " # ", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	peer, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	code, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return peer, code, true
}

// peerLine returns the peer position and the text of a connector record.
func peerLine(payload string) (int, string, bool) {
	peer, line, found := strings.Cut(payload, " # ")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(peer))
	if err != nil {
		return 0, "", false
	}
	return n, line, true
}
