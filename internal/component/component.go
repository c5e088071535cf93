// Package component builds the runtime component forest from package records
// and installed records, and resolves the ordered install and removal sets.
//
// Components live in an arena and reference each other through integer
// handles; the forest owns every node for the duration of a run.
package component

import (
	"sort"
	"strconv"
	"strings"

	"github.com/terassyi/donyu/internal/catalog"
	"github.com/terassyi/donyu/internal/localstate"
)

// Handle identifies a component inside a Forest. Handles are stable for the
// lifetime of the forest.
type Handle int

// InvalidHandle is returned by lookups that find nothing.
const InvalidHandle Handle = -1

// CheckState is the tri-state selection of a component. A parent's state is
// fully determined by its children.
type CheckState int

const (
	Unchecked CheckState = iota
	PartiallyChecked
	Checked
)

// Node is one component in the forest.
type Node struct {
	Pkg       *catalog.PackageRecord
	Installed *localstate.InstalledRecord

	Parent   Handle
	Children []Handle

	Check CheckState

	// installedVersion is set either from the local record or inherited
	// through a replacement.
	installedVersion string

	// inheritedFrom names the replaced component whose installation this
	// node inherited, if any.
	inheritedFrom string
}

// Name returns the dotted component name.
func (n *Node) Name() string { return n.Pkg.Name }

// IsInstalled reports whether the component is installed locally, directly
// or by replacement inheritance.
func (n *Node) IsInstalled() bool { return n.installedVersion != "" }

// InstalledVersion returns the locally installed version, empty if none.
func (n *Node) InstalledVersion() string { return n.installedVersion }

// InheritedFrom returns the replaced component name this node inherited its
// installation from, empty if none.
func (n *Node) InheritedFrom() string { return n.inheritedFrom }

// IsVirtual reports whether the component is hidden from user selection.
func (n *Node) IsVirtual() bool { return n.Pkg.Flags.Virtual }

// InstallPriority returns the integer install priority attribute; lower
// values install first. Missing or malformed attributes are priority 0.
func (n *Node) InstallPriority() int {
	v, ok := n.Pkg.Attrs["installPriority"]
	if !ok {
		return 0
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return p
}

// Forest is the component arena plus the name index and replacement map.
type Forest struct {
	nodes  []*Node
	byName map[string]Handle

	// replacements maps a replaced component name to the replacing handle.
	replacements map[string]Handle
}

// Get returns the node for a handle.
func (f *Forest) Get(h Handle) *Node {
	return f.nodes[h]
}

// Len returns the number of components.
func (f *Forest) Len() int { return len(f.nodes) }

// Handles returns every handle in creation (name-sorted) order.
func (f *Forest) Handles() []Handle {
	out := make([]Handle, len(f.nodes))
	for i := range f.nodes {
		out[i] = Handle(i)
	}
	return out
}

// ByName returns the handle for an exact component name.
func (f *Forest) ByName(name string) Handle {
	if h, ok := f.byName[name]; ok {
		return h
	}
	return InvalidHandle
}

// ByExpression resolves a dependency-style expression: an exact name, or
// "name-REQ" where REQ constrains the version.
func (f *Forest) ByExpression(expr string) Handle {
	if h := f.ByName(expr); h != InvalidHandle {
		return h
	}
	name, _, found := strings.Cut(expr, "-")
	if !found {
		return InvalidHandle
	}
	return f.ByName(name)
}

// Replacement returns the handle replacing the named component, if any.
func (f *Forest) Replacement(replaced string) (Handle, bool) {
	h, ok := f.replacements[replaced]
	return h, ok
}

// Roots returns the handles without a parent, in name order.
func (f *Forest) Roots() []Handle {
	var roots []Handle
	for i, n := range f.nodes {
		if n.Parent == InvalidHandle {
			roots = append(roots, Handle(i))
		}
	}
	return roots
}

// SetChecked checks or unchecks a component. The change propagates down to
// the subtree leaves and the tri-state of every ancestor is recomputed.
func (f *Forest) SetChecked(h Handle, checked bool) {
	state := Unchecked
	if checked {
		state = Checked
	}
	f.setSubtree(h, state)
	f.recomputeAncestors(h)
}

func (f *Forest) setSubtree(h Handle, state CheckState) {
	n := f.nodes[h]
	if len(n.Children) == 0 {
		n.Check = state
		return
	}
	for _, c := range n.Children {
		f.setSubtree(c, state)
	}
	f.recompute(h)
}

// recompute derives a tri-state parent's check state from its children.
func (f *Forest) recompute(h Handle) {
	n := f.nodes[h]
	if len(n.Children) == 0 {
		return
	}
	checked, unchecked := 0, 0
	for _, c := range n.Children {
		switch f.nodes[c].Check {
		case Checked:
			checked++
		case Unchecked:
			unchecked++
		}
	}
	switch {
	case checked == len(n.Children):
		n.Check = Checked
	case unchecked == len(n.Children):
		n.Check = Unchecked
	default:
		n.Check = PartiallyChecked
	}
}

func (f *Forest) recomputeAncestors(h Handle) {
	for p := f.nodes[h].Parent; p != InvalidHandle; p = f.nodes[p].Parent {
		f.recompute(p)
	}
}

// sortedNames returns the catalog package names sorted for deterministic
// arena layout.
func sortedNames(cat *catalog.Catalog) []string {
	names := cat.Names()
	sort.Strings(names)
	return names
}
