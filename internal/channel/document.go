package channel

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/commandxml/internal/command"
)

const (
	RootElement     = "CommandXML"
	consoleElement  = "Console"
	statusElement   = "Status"
	controlsElement = "Controls"
	slotElement     = "Command"

	// AttrName holds the pending command name. Empty means no command.
	AttrName = "name"
	// AttrTask requests background execution.
	AttrTask = "task"

	// StatusIdle is the status of a freshly created channel.
	StatusIdle = "idle"

	catalogHeader = "List of Commands"
)

// ErrMalformed marks a document that does not have the expected shape.
var ErrMalformed = errors.New("malformed channel document")

// Document is the shared command channel.
type Document struct {
	XMLName  xml.Name  `xml:"CommandXML"`
	Console  *Console  `xml:"Console"`
	Status   *Status   `xml:"Status"`
	Controls *Controls `xml:"Controls"`

	// Digest is the BLAKE3 hex digest of the bytes the document was loaded from.
	Digest string `xml:"-"`
}

// Status carries the human-readable phase.
type Status struct {
	Current string `xml:"current,attr"`
}

// Console is the rendered log window. Each line is stored as a comment.
type Console struct {
	Lines []string
}

// Controls holds the command slots and any operator-facing comments.
type Controls struct {
	Slots []*Slot
	Notes []string
}

// Slot is one Command element.
type Slot struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

// NewDocument builds a fresh document with one empty slot and a comment per
// catalog entry.
func NewDocument(catalog []command.Entry) *Document {
	notes := []string{catalogHeader}
	for _, e := range catalog {
		notes = append(notes, describe(e))
	}
	return &Document{
		Console:  &Console{},
		Status:   &Status{Current: StatusIdle},
		Controls: &Controls{Slots: []*Slot{emptySlot()}, Notes: notes},
	}
}

func describe(e command.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command:<%s>", e.Name)
	if e.Item != nil && len(e.Item.Schema) > 0 {
		fmt.Fprintf(&b, " Required Attributes: (%s)", e.Item.Schema)
	}
	if e.Item != nil && e.Item.Description != "" {
		fmt.Fprintf(&b, ": Summary: %s", e.Item.Description)
	}
	return b.String()
}

// SetStatus replaces the status phase.
func (d *Document) SetStatus(current string) {
	if d.Status == nil {
		d.Status = &Status{}
	}
	d.Status.Current = current
}

// CurrentStatus returns the status phase.
func (d *Document) CurrentStatus() string {
	if d.Status == nil {
		return ""
	}
	return d.Status.Current
}

// Slots returns every command slot in document order.
func (d *Document) Slots() []*Slot {
	if d.Controls == nil {
		return nil
	}
	return d.Controls.Slots
}

// Pending returns the slots that carry a command name, in document order.
func (d *Document) Pending() []*Slot {
	var out []*Slot
	for _, s := range d.Slots() {
		if s.Name() != "" {
			out = append(out, s)
		}
	}
	return out
}

// ClearSlots removes every slot but the first and resets the first to an
// empty name with no other attributes.
func (d *Document) ClearSlots() {
	if d.Controls == nil {
		d.Controls = &Controls{}
	}
	if len(d.Controls.Slots) == 0 {
		d.Controls.Slots = []*Slot{emptySlot()}
		return
	}
	primary := d.Controls.Slots[0]
	primary.Clear()
	d.Controls.Slots = []*Slot{primary}
}

// Submit places a command into the primary slot, or appends a new slot when
// the primary one is occupied.
func (d *Document) Submit(name string, args map[string]string, task bool) {
	if d.Controls == nil {
		d.Controls = &Controls{}
	}
	slot := &Slot{}
	if len(d.Controls.Slots) > 0 && d.Controls.Slots[0].Name() == "" {
		slot = d.Controls.Slots[0]
		slot.Clear()
	} else {
		d.Controls.Slots = append(d.Controls.Slots, slot)
	}
	slot.Set(AttrName, name)
	if task {
		slot.Set(AttrTask, "true")
	}
	for k, v := range args {
		if k == AttrName || k == AttrTask {
			continue
		}
		slot.Set(k, v)
	}
}

func emptySlot() *Slot {
	s := &Slot{}
	s.Clear()
	return s
}

// Name returns the pending command name.
func (s *Slot) Name() string {
	v, _ := s.Get(AttrName)
	return strings.TrimSpace(v)
}

// Get returns the attribute value and whether it exists.
func (s *Slot) Get(name string) (string, bool) {
	for _, a := range s.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Set adds or replaces an attribute.
func (s *Slot) Set(name, value string) {
	for i, a := range s.Attrs {
		if a.Name.Local == name {
			s.Attrs[i].Value = value
			return
		}
	}
	s.Attrs = append(s.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// Clear drops every attribute and leaves name="".
func (s *Slot) Clear() {
	s.Attrs = []xml.Attr{{Name: xml.Name{Local: AttrName}, Value: ""}}
}

// Task reports whether background execution was requested. Unparsable
// values mean foreground.
func (s *Slot) Task() bool {
	v, ok := s.Get(AttrTask)
	if !ok {
		return false
	}
	task, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && task
}

// Args returns the slot's attributes as command arguments.
func (s *Slot) Args() command.Args {
	args := make(command.Args, len(s.Attrs))
	for _, a := range s.Attrs {
		args[a.Name.Local] = a.Value
	}
	return args
}
