package deploy

import (
	"regexp"
	"sync"

	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/output"
	"github.com/Iron-Ham/convoy/internal/process"
)

var (
	goodHeaderRe = regexp.MustCompile(`^Nodes correctly deployed on cluster \w+\s*$`)
	badHeaderRe  = regexp.MustCompile(`^Nodes not correctly deployed on cluster \w+\s*$`)
	goodNodeRe   = regexp.MustCompile(`^(\S+)\s*$`)
	badNodeRe    = regexp.MustCompile(`^(\S+)(\s+\(.*\))?\s*$`)
)

type section int

const (
	sectionNone section = iota
	sectionGood
	sectionBad
)

// Parser extracts the good and bad nodes from the deployment tool's
// standard output. It is a LineHandler for the stdout stream and a
// LifecycleHandler that rewinds on reset.
type Parser struct {
	mu      sync.Mutex
	section section
	good    []string
	bad     []string
}

// NewParser returns a Parser outside any section.
func NewParser() *Parser {
	return &Parser{}
}

// HandleLine implements output.LineHandler.
func (p *Parser) HandleLine(l output.Line) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case goodHeaderRe.MatchString(l.Text):
		p.section = sectionGood
	case badHeaderRe.MatchString(l.Text):
		p.section = sectionBad
	case p.section == sectionGood:
		if m := goodNodeRe.FindStringSubmatch(l.Text); m != nil {
			p.good = append(p.good, m[1])
		}
	case p.section == sectionBad:
		if m := badNodeRe.FindStringSubmatch(l.Text); m != nil {
			p.bad = append(p.bad, m[1])
		}
	}
}

// Good returns the nodes reported correctly deployed.
func (p *Parser) Good() host.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return host.NewSet(p.good...)
}

// Bad returns the nodes reported not correctly deployed.
func (p *Parser) Bad() host.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return host.NewSet(p.bad...)
}

// Reset rewinds to the initial state.
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.section = sectionNone
	p.good = nil
	p.bad = nil
}

// OnStart implements process.LifecycleHandler.
func (p *Parser) OnStart(*process.Process) {}

// OnEnd implements process.LifecycleHandler.
func (p *Parser) OnEnd(*process.Process) {}

// OnReset implements process.LifecycleHandler.
func (p *Parser) OnReset(*process.Process) { p.Reset() }
