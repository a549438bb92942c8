// Package fanout runs one command on many hosts through a single process of
// the taktuk fan-out tool. Each host is represented by an External
// process.Process driven from the tool's line protocol, so callers use the
// same Ok, Stdout and Wait API as for processes they run themselves.
package fanout
