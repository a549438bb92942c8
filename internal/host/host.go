// Package host models target machines and ordered sets of them.
package host

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/convoy/internal/errors"
)

// Host is a remote machine together with the connection settings that
// override the configured defaults. Two hosts are equal when every field is.
type Host struct {
	Address string
	User    string
	Keyfile string
	Port    int
}

// New returns a Host for address with no connection overrides.
func New(address string) Host {
	return Host{Address: address}
}

// Parse reads "[user@]address[:port]".
func Parse(s string) (Host, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Host{}, errors.NewValidationError("empty host").WithField("host")
	}

	var h Host
	if at := strings.LastIndex(s, "@"); at >= 0 {
		h.User = s[:at]
		s = s[at+1:]
	}
	if colon := strings.LastIndex(s, ":"); colon >= 0 {
		port, err := strconv.Atoi(s[colon+1:])
		if err != nil || port <= 0 || port > 65535 {
			return Host{}, errors.NewValidationError("invalid port").WithField("host").WithValue(s)
		}
		h.Port = port
		s = s[:colon]
	}
	if s == "" {
		return Host{}, errors.NewValidationError("empty address").WithField("host")
	}
	h.Address = s
	return h, nil
}

// String renders the host in the form accepted by Parse.
func (h Host) String() string {
	s := h.Address
	if h.User != "" {
		s = h.User + "@" + s
	}
	if h.Port != 0 {
		s = fmt.Sprintf("%s:%d", s, h.Port)
	}
	return s
}

// Set is an ordered set of host addresses. The zero value is empty and
// ready to use; methods never mutate their receiver's argument.
type Set struct {
	items []string
	index map[string]struct{}
}

// NewSet builds a Set from addresses, dropping duplicates and blanks while
// keeping first-seen order.
func NewSet(addresses ...string) Set {
	var s Set
	for _, a := range addresses {
		s.add(a)
	}
	return s
}

func (s *Set) add(address string) {
	address = strings.TrimSpace(address)
	if address == "" {
		return
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[address]; ok {
		return
	}
	s.index[address] = struct{}{}
	s.items = append(s.items, address)
}

// Len returns the number of hosts.
func (s Set) Len() int { return len(s.items) }

// Empty reports whether the set has no hosts.
func (s Set) Empty() bool { return len(s.items) == 0 }

// Contains reports whether address is in the set.
func (s Set) Contains(address string) bool {
	_, ok := s.index[address]
	return ok
}

// Slice returns the addresses in insertion order.
func (s Set) Slice() []string {
	return slices.Clone(s.items)
}

// Sorted returns the addresses in lexical order.
func (s Set) Sorted() []string {
	out := slices.Clone(s.items)
	slices.Sort(out)
	return out
}

// Union returns the hosts in s or o.
func (s Set) Union(o Set) Set {
	out := NewSet(s.items...)
	for _, a := range o.items {
		out.add(a)
	}
	return out
}

// Diff returns the hosts in s but not in o.
func (s Set) Diff(o Set) Set {
	var out Set
	for _, a := range s.items {
		if !o.Contains(a) {
			out.add(a)
		}
	}
	return out
}

// Intersect returns the hosts in both s and o.
func (s Set) Intersect(o Set) Set {
	var out Set
	for _, a := range s.items {
		if o.Contains(a) {
			out.add(a)
		}
	}
	return out
}

// Equal reports whether s and o hold the same hosts, ignoring order.
func (s Set) Equal(o Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, a := range s.items {
		if !o.Contains(a) {
			return false
		}
	}
	return true
}

// Exclude returns the hosts matching none of the glob patterns. Dots are
// separators, so "*.lyon.*" does not cross name components.
func (s Set) Exclude(patterns ...string) (Set, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return Set{}, errors.NewValidationError("invalid host pattern").WithField("exclude").WithValue(p).WithCause(err)
		}
		globs = append(globs, g)
	}

	var out Set
	for _, a := range s.items {
		if !slices.ContainsFunc(globs, func(g glob.Glob) bool { return g.Match(a) }) {
			out.add(a)
		}
	}
	return out, nil
}

// String renders the set as space-separated addresses.
func (s Set) String() string {
	return strings.Join(s.items, " ")
}

// ReadSet reads one address per line from r. Blank lines and text after
// '#' are ignored.
func ReadSet(r io.Reader) (Set, error) {
	var s Set
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, field := range strings.Fields(line) {
			s.add(field)
		}
	}
	if err := sc.Err(); err != nil {
		return Set{}, fmt.Errorf("failed to read hosts: %w", err)
	}
	return s, nil
}

// ReadFile reads a hosts file with ReadSet.
func ReadFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, errors.NewNotFoundError("hosts file", path).WithCause(err)
		}
		return Set{}, fmt.Errorf("failed to open hosts file: %w", err)
	}
	defer f.Close()
	return ReadSet(f)
}
