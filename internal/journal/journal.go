// Package journal keeps the ordered list of committed operations. The
// journal of a finished run is embedded into the maintenance tool so a later
// session can replay undo in reverse. Save and Load write and read a journal
// as a standalone file; the executor does not mirror the session journal to
// disk during a run.
package journal

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/terassyi/donyu/internal/operation"
)

// Journal is an append-only ordered sequence of committed operations.
type Journal struct {
	Ops []*operation.Operation `json:"operations"`
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// Append commits operations to the journal in order.
func (j *Journal) Append(ops ...*operation.Operation) {
	j.Ops = append(j.Ops, ops...)
}

// Len returns the number of committed operations.
func (j *Journal) Len() int { return len(j.Ops) }

// ByComponent returns the committed operations whose component attribute is
// one of names, preserving journal order.
func (j *Journal) ByComponent(names ...string) []*operation.Operation {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*operation.Operation
	for _, op := range j.Ops {
		if want[op.Component()] {
			out = append(out, op)
		}
	}
	return out
}

// RemoveComponent drops every operation of the named component, keeping the
// order of the rest.
func (j *Journal) RemoveComponent(name string) {
	kept := j.Ops[:0]
	for _, op := range j.Ops {
		if op.Component() != name {
			kept = append(kept, op)
		}
	}
	j.Ops = kept
}

// Components returns the distinct component names in first-appearance order.
func (j *Journal) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range j.Ops {
		c := op.Component()
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Encode serializes the journal. The encoding is deterministic for a given
// operation sequence, which the artifact round-trip relies on.
func (j *Journal) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a serialized journal.
func Decode(data []byte) (*Journal, error) {
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse journal: %w", err)
	}
	return &j, nil
}

// Save writes the journal to path atomically.
func (j *Journal) Save(path string) error {
	data, err := j.Encode()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads a journal from path. A missing file yields an empty journal.
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}
	return Decode(data)
}
