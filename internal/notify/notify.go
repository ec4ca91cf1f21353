// Package notify delivers user-facing messages (declines, camera problems,
// unreachable service) to wherever the user is looking.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink shows one message to the user. Implementations must not block for long.
type Sink interface {
	Notify(message string)
}

// Func adapts a plain function to Sink.
type Func func(message string)

func (f Func) Notify(message string) { f(message) }

// Console prints each message in a bordered box, matching the CLI error style.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Notify(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\n---------------------------------------------------------\n")
	fmt.Fprintf(c.out, "⚠️  %s\n", message)
	fmt.Fprintf(c.out, "---------------------------------------------------------\n")
}

// Log records messages at warn level.
type Log struct {
	Logger *logrus.Logger
}

func (l Log) Notify(message string) {
	l.Logger.WithField("component", "notify").Warn(message)
}

// Multi fans a message out to every sink in order.
type Multi []Sink

func (m Multi) Notify(message string) {
	for _, s := range m {
		if s != nil {
			s.Notify(message)
		}
	}
}

// Discard drops every message.
var Discard Sink = Func(func(string) {})
