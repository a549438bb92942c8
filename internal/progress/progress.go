// Package progress renders a live per-host view of running processes,
// deployment sites and reconciliation iterations, fed by the event bus.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/convoy/internal/event"
	"github.com/Iron-Ham/convoy/internal/styles"
)

// MaxRows is the number of host rows shown; the rest are summarized.
const MaxRows = 15

type hostState int

const (
	hostRunning hostState = iota
	hostOk
	hostFailed
	hostTimeout
)

type row struct {
	label    string
	state    hostState
	started  time.Time
	duration time.Duration
	exitCode int
}

// EventMsg carries one bus event into the model.
type EventMsg struct{ Event event.Event }

type doneMsg struct{}

// Model is the bubbletea model of the view.
type Model struct {
	title   string
	spinner spinner.Model
	now     func() time.Time

	rows  []*row
	byKey map[string]*row
	sites []event.SiteDeployedEvent
	iter  *event.IterationCompletedEvent
	done  bool
}

// New returns an empty model titled title.
func New(title string) Model {
	return Model{
		title:   title,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Primary)),
		now:     time.Now,
		byKey:   make(map[string]*row),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		m.apply(msg.Event)
		return m, nil
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply records e. Rows are keyed by host so a retried host keeps its line.
func (m *Model) apply(e event.Event) {
	switch e := e.(type) {
	case event.ProcessStartedEvent:
		key := rowKey(e.Host, e.ProcessID)
		r, ok := m.byKey[key]
		if !ok {
			r = &row{label: label(e.Host)}
			m.byKey[key] = r
			m.rows = append(m.rows, r)
		}
		r.state = hostRunning
		r.started = e.Timestamp()
		r.duration = 0
		r.exitCode = 0
	case event.ProcessEndedEvent:
		r, ok := m.byKey[rowKey(e.Host, e.ProcessID)]
		if !ok {
			return
		}
		r.duration = e.Duration
		r.exitCode = e.ExitCode
		switch {
		case e.Timeouted:
			r.state = hostTimeout
		case e.OK:
			r.state = hostOk
		default:
			r.state = hostFailed
		}
	case event.SiteDeployedEvent:
		m.sites = append(m.sites, e)
	case event.IterationCompletedEvent:
		m.iter = &e
	}
}

func rowKey(host, processID string) string {
	if host == "" {
		return "local/" + processID
	}
	return host
}

func label(host string) string {
	if host == "" {
		return "local"
	}
	return host
}

func (m Model) counts() (running, ok, failed int) {
	for _, r := range m.rows {
		switch r.state {
		case hostRunning:
			running++
		case hostOk:
			ok++
		default:
			failed++
		}
	}
	return running, ok, failed
}

// View renders nothing once done, leaving the terminal to the summary
// printed afterwards.
func (m Model) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder

	running, ok, failed := m.counts()
	fmt.Fprintf(&b, "%s %s %s\n", m.spinner.View(), styles.Title.Render(m.title),
		styles.Muted.Render(fmt.Sprintf("%d running, %d ok, %d failed", running, ok, failed)))

	shown := m.rows
	if len(shown) > MaxRows {
		shown = shown[len(shown)-MaxRows:]
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  ... %d earlier hosts", len(m.rows)-MaxRows)))
		b.WriteString("\n")
	}
	for _, r := range shown {
		fmt.Fprintf(&b, "  %s %s\n", m.badge(r), m.detail(r))
	}

	for _, s := range m.sites {
		fmt.Fprintf(&b, "  %s %s\n", styles.HostLabel.Render(s.Site),
			styles.Muted.Render(fmt.Sprintf("%d deployed, %d failed", s.Deployed, s.Failed)))
	}
	if m.iter != nil {
		fmt.Fprintf(&b, "%s\n", styles.Muted.Render(fmt.Sprintf("iteration %d: %d deployed, %d undeployed",
			m.iter.Iteration, m.iter.Deployed, m.iter.Undeployed)))
	}
	return b.String()
}

func (m Model) badge(r *row) string {
	switch r.state {
	case hostRunning:
		return styles.Badge("RUN ", styles.StateRunning)
	case hostOk:
		return styles.Badge("OK  ", styles.StateOk)
	case hostTimeout:
		return styles.Badge("TIME", styles.StateTimeout)
	default:
		return styles.Badge("FAIL", styles.StateFailed)
	}
}

func (m Model) detail(r *row) string {
	d := r.duration
	if r.state == hostRunning {
		d = m.now().Sub(r.started)
	}
	text := d.Round(100 * time.Millisecond).String()
	if r.state == hostFailed {
		text = fmt.Sprintf("exit %d after %s", r.exitCode, text)
	}
	return r.label + " " + styles.Muted.Render(text)
}

// Display runs a Model on a terminal until Stop.
type Display struct {
	bus    *event.Bus
	prog   *tea.Program
	subID  string
	events chan event.Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Start subscribes to bus and renders to out. Keyboard input and signals
// are left to the caller.
func Start(bus *event.Bus, title string, out io.Writer) *Display {
	d := &Display{
		bus:    bus,
		events: make(chan event.Event, 1024),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.prog = tea.NewProgram(New(title),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	// Publishers never wait on rendering; a full queue drops the event.
	d.subID = bus.SubscribeAll(func(e event.Event) {
		select {
		case d.events <- e:
		default:
		}
	})

	ran := make(chan struct{})
	go func() {
		defer close(ran)
		_, _ = d.prog.Run()
	}()
	go func() {
		defer close(d.done)
		d.forward()
		<-ran
	}()
	return d
}

func (d *Display) forward() {
	for {
		select {
		case e := <-d.events:
			d.prog.Send(EventMsg{Event: e})
		case <-d.stop:
			for {
				select {
				case e := <-d.events:
					d.prog.Send(EventMsg{Event: e})
				default:
					d.prog.Send(doneMsg{})
					return
				}
			}
		}
	}
}

// Stop renders the last events, clears the view and waits for the
// program to exit.
func (d *Display) Stop() {
	d.once.Do(func() {
		d.bus.Unsubscribe(d.subID)
		close(d.stop)
		<-d.done
	})
}
