// Package console drives a feature from line commands and prints notices,
// standing in for the page a browser user would click through.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devyyj/joyopi/go/internal/session/notify"
)

// ErrUsage is returned by a command given the wrong arguments.
var ErrUsage = errors.New("usage")

// DefaultFocusWindow is how long after the last input the user counts as
// looking at the console.
const DefaultFocusWindow = 30 * time.Second

type command struct {
	usage string
	run   func(args []string) error
}

// Console reads commands from in and writes output to out.
type Console struct {
	in          io.Reader
	out         io.Writer
	now         func() time.Time
	focusWindow time.Duration

	mu        sync.Mutex
	commands  map[string]command
	lastInput time.Time
	feature   string
	rejected  notify.Sink
}

// New returns a console over in and out.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:          in,
		out:         out,
		now:         time.Now,
		focusWindow: DefaultFocusWindow,
		commands:    map[string]command{},
	}
}

// Handle registers a command. usage is printed by help and on ErrUsage.
func (c *Console) Handle(name, usage string, run func(args []string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[name] = command{usage: usage, run: run}
}

// ReportTo routes rejected commands to sink as notices of the feature.
// Until it is called they are printed directly.
func (c *Console) ReportTo(feature string, sink notify.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feature = feature
	c.rejected = sink
}

// Printf writes to the console output.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Notify implements notify.Sink.
func (c *Console) Notify(n notify.Notice) {
	if n.Blocking {
		c.Printf("!! %s\n", n.Message)
		return
	}
	c.Printf("[%s] %s\n", n.Severity, n.Message)
}

// Focused implements notify.Focus: the user typed something recently.
func (c *Console) Focused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastInput.IsZero() && c.now().Sub(c.lastInput) < c.focusWindow
}

// Run reads commands until quit, end of input or ctx cancellation. It
// returns nil on quit and io.EOF when the input ran out.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := c.exec(line); quit {
				return nil
			}
		}
	}
}

func (c *Console) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	c.mu.Lock()
	c.lastInput = c.now()
	cmd, ok := c.commands[fields[0]]
	c.mu.Unlock()

	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		c.help()
		return false
	}
	if !ok {
		c.Printf("unknown command %q, try help\n", fields[0])
		return false
	}

	err := cmd.run(fields[1:])
	switch {
	case err == nil:
	case errors.Is(err, ErrUsage):
		c.Printf("usage: %s %s\n", fields[0], cmd.usage)
	default:
		log.Debug().Err(err).Str("command", fields[0]).Msg("command rejected")
		c.reject(err)
	}
	return false
}

func (c *Console) reject(err error) {
	c.mu.Lock()
	n := notify.Notice{
		Feature:  c.feature,
		Kind:     notify.KindRejected,
		Severity: notify.SeverityWarning,
		Message:  err.Error(),
		At:       c.now(),
	}
	sink := c.rejected
	c.mu.Unlock()

	if sink == nil {
		c.Notify(n)
		return
	}
	sink.Notify(n)
}

func (c *Console) help() {
	c.mu.Lock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "  %s %s\n", name, c.commands[name].usage)
	}
	c.mu.Unlock()

	c.Printf("commands:\n%s  help\n  quit\n", b.String())
}
