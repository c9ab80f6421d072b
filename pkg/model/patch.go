package model

import (
	"errors"
	"fmt"
)

// Patch errors.
var (
	ErrUnknownValue  = errors.New("unknown value")
	ErrReadOnlyValue = errors.New("value is read-only")
)

// ValuePatch is a pending edit of one value. A nil String leaves the current
// string untouched.
type ValuePatch struct {
	String      *string
	ButtonPress bool
}

// IsEmpty reports whether the patch edits nothing.
func (p ValuePatch) IsEmpty() bool {
	return p.String == nil && !p.ButtonPress
}

// NodePatch is a set of pending edits to a node. Nil fields mean "unchanged".
type NodePatch struct {
	Name     *string
	Location *string
	Values   map[ValueID]ValuePatch
}

// IsEmpty reports whether the patch edits nothing.
func (p NodePatch) IsEmpty() bool {
	if p.Name != nil || p.Location != nil {
		return false
	}
	for _, vp := range p.Values {
		if !vp.IsEmpty() {
			return false
		}
	}
	return true
}

// SetName returns a copy of the patch with the name set.
func (p NodePatch) SetName(name string) NodePatch {
	p.Name = &name
	return p
}

// SetLocation returns a copy of the patch with the location set.
func (p NodePatch) SetLocation(location string) NodePatch {
	p.Location = &location
	return p
}

// SetValue returns a copy of the patch with the value's string set.
func (p NodePatch) SetValue(id ValueID, s string) NodePatch {
	p.Values = cloneValuePatches(p.Values)
	vp := p.Values[id]
	vp.String = &s
	p.Values[id] = vp
	return p
}

// PressButton returns a copy of the patch with the value's button press set.
func (p NodePatch) PressButton(id ValueID) NodePatch {
	p.Values = cloneValuePatches(p.Values)
	vp := p.Values[id]
	vp.ButtonPress = true
	p.Values[id] = vp
	return p
}

func cloneValuePatches(in map[ValueID]ValuePatch) map[ValueID]ValuePatch {
	out := make(map[ValueID]ValuePatch, len(in)+1)
	for id, vp := range in {
		out[id] = vp
	}
	return out
}

// Validate checks the patch against a confirmed node.
func (p NodePatch) Validate(n Node) error {
	for id, vp := range p.Values {
		v, ok := n.Values[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownValue, id)
		}
		if vp.String != nil && v.ReadOnly {
			return fmt.Errorf("%w: %s", ErrReadOnlyValue, id)
		}
	}
	return nil
}

// ApplyTo returns a copy of n with the patch applied. The caller should
// Validate first; slots for unknown values are skipped.
func (p NodePatch) ApplyTo(n Node) Node {
	out := n.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	for id, vp := range p.Values {
		v, ok := out.Values[id]
		if !ok {
			continue
		}
		if vp.String != nil && !v.ReadOnly {
			v.String = *vp.String
		}
		if vp.ButtonPress {
			v.ButtonPress = true
		}
		out.Values[id] = v
	}
	return out
}

// Draft is a confirmed node together with the local edits not yet sent.
type Draft struct {
	base  Node
	patch NodePatch
}

// NewDraft starts an empty draft on top of a confirmed node.
func NewDraft(base Node) *Draft {
	return &Draft{base: base.Clone()}
}

// Base returns the confirmed node the draft is built on.
func (d *Draft) Base() Node {
	return d.base.Clone()
}

// Patch returns the pending edits.
func (d *Draft) Patch() NodePatch {
	p := d.patch
	p.Values = cloneValuePatches(d.patch.Values)
	return p
}

// Apply merges p into the pending edits. Later slots replace earlier ones.
func (d *Draft) Apply(p NodePatch) error {
	if err := p.Validate(d.base); err != nil {
		return err
	}
	if p.Name != nil {
		d.patch.Name = p.Name
	}
	if p.Location != nil {
		d.patch.Location = p.Location
	}
	for id, vp := range p.Values {
		if d.patch.Values == nil {
			d.patch.Values = make(map[ValueID]ValuePatch)
		}
		cur := d.patch.Values[id]
		if vp.String != nil {
			cur.String = vp.String
		}
		if vp.ButtonPress {
			cur.ButtonPress = true
		}
		d.patch.Values[id] = cur
	}
	return nil
}

// Node returns the confirmed node with the pending edits applied.
func (d *Draft) Node() Node {
	return d.patch.ApplyTo(d.base)
}

// Changed reports whether the draft differs from its confirmed node.
func (d *Draft) Changed() bool {
	return Changed(d.base, d.Node())
}

// Rebase moves the draft onto a newer confirmed node.
//
// Slots whose value the server now reports are dropped. Slots still differing
// stay pending, so local edits survive a push. Button presses are one-shot and
// are kept until the draft is sent or reset.
func (d *Draft) Rebase(server Node) {
	if d.patch.Name != nil && *d.patch.Name == server.Name {
		d.patch.Name = nil
	}
	if d.patch.Location != nil && *d.patch.Location == server.Location {
		d.patch.Location = nil
	}
	for id, vp := range d.patch.Values {
		v, ok := server.Values[id]
		if !ok {
			delete(d.patch.Values, id)
			continue
		}
		if vp.String != nil && (*vp.String == v.String || v.ReadOnly) {
			vp.String = nil
		}
		if vp.IsEmpty() {
			delete(d.patch.Values, id)
			continue
		}
		d.patch.Values[id] = vp
	}
	d.base = server.Clone()
}

// Reset discards all pending edits.
func (d *Draft) Reset() {
	d.patch = NodePatch{}
}
