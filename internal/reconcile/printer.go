package reconcile

import (
	"fmt"
	"strings"

	"github.com/muesli/termenv"
)

// FormatPlan renders the plan the way it will be applied, one operation per
// line, optionally colored for terminals.
func FormatPlan(p Plan, color bool) string {
	paint := func(s string, c termenv.Color) string {
		if !color {
			return s
		}
		return termenv.String(s).Foreground(c).String()
	}

	var b strings.Builder
	if p.Empty() {
		b.WriteString("No changes. Zone matches desired state.\n")
		return b.String()
	}

	for _, rec := range p.Deletes {
		b.WriteString(paint(fmt.Sprintf("- delete %s\n", rec), termenv.ANSIRed))
	}
	for _, rec := range p.Creates {
		b.WriteString(paint(fmt.Sprintf("+ create %s\n", rec), termenv.ANSIGreen))
	}
	for _, up := range p.Updates {
		b.WriteString(paint(fmt.Sprintf("~ update %s -> %s\n", up.Old, updateTail(up)), termenv.ANSIYellow))
	}

	fmt.Fprintf(&b, "\nPlan: %d to delete, %d to create, %d to update.\n",
		len(p.Deletes), len(p.Creates), len(p.Updates))
	return b.String()
}

// updateTail renders only what changes on an update line.
func updateTail(up Update) string {
	if up.New.TTL != up.Old.TTL {
		return fmt.Sprintf("%s (ttl %d)", up.New.Value, up.New.TTL)
	}
	return up.New.Value
}
