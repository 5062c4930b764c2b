package main

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/latestcomment/expert-dialogue/internal/countdown"
	"github.com/latestcomment/expert-dialogue/internal/models"
)

// consoleSink renders session events as plain terminal output.
type consoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	pending bool // a "\r" countdown line is on screen
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

func (c *consoleSink) Publish(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case models.EventCountdown:
		if ev.Remaining == nil {
			return c.endLine()
		}
		c.pending = true
		_, err := fmt.Fprintf(c.out, "\r%s (Enter to jump in) ", ev.Text)
		return err
	case models.EventJump:
		if countdown.Phase(ev.Phase) != countdown.PhaseArmed {
			return nil
		}
		if err := c.endLine(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(c.out, "Paused. Type your comment and press Enter to resume:")
		return err
	case models.EventStatus:
		if err := c.endLine(); err != nil {
			return err
		}
		prefix := ""
		if ev.Level == models.LevelError {
			prefix = "error: "
		}
		_, err := fmt.Fprintf(c.out, "%s%s\n", prefix, ev.Text)
		return err
	case models.EventValidation:
		names := make([]string, 0, len(ev.Counts))
		for name := range ev.Counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, err := fmt.Fprintf(c.out, "  %s: %d papers\n", name, ev.Counts[name]); err != nil {
				return err
			}
		}
		return nil
	case models.EventActive:
		if ev.Active == "" {
			return nil
		}
		if err := c.endLine(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(c.out, "[%s is thinking...]\n", ev.Active)
		return err
	case models.EventTurn:
		if ev.Turn == nil {
			return nil
		}
		if err := c.endLine(); err != nil {
			return err
		}
		t := ev.Turn
		if t.Interjection != "" {
			if _, err := fmt.Fprintf(c.out, "> audience: %s\n", t.Interjection); err != nil {
				return err
			}
		}
		text := t.Text
		if t.Failed {
			text = "(no response)"
		}
		_, err := fmt.Fprintf(c.out, "\n#%d %s (%s):\n%s\n\n", t.Index+1, t.Speaker.Name, t.Speaker.Backend, text)
		return err
	}
	return nil
}

func (c *consoleSink) endLine() error {
	if !c.pending {
		return nil
	}
	c.pending = false
	_, err := fmt.Fprintln(c.out)
	return err
}
