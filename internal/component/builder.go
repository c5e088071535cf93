package component

import (
	"strings"

	"github.com/terassyi/donyu/internal/catalog"
	"github.com/terassyi/donyu/internal/localstate"
	"github.com/terassyi/donyu/internal/run"
)

// Build joins the merged catalog with the installed records into a component
// forest: arena allocation, parent/child wiring from dotted names, the
// replacement map, and default check states.
func Build(cat *catalog.Catalog, installed []localstate.InstalledRecord, mode run.Mode, opts run.Options) *Forest {
	f := &Forest{
		byName:       make(map[string]Handle),
		replacements: make(map[string]Handle),
	}

	// Arena allocation in name order keeps handles deterministic.
	for _, name := range sortedNames(cat) {
		h := Handle(len(f.nodes))
		f.nodes = append(f.nodes, &Node{Pkg: cat.Packages[name], Parent: InvalidHandle})
		f.byName[name] = h
	}

	// Parent assignment: the longest proper dotted prefix that names
	// another component.
	for i, n := range f.nodes {
		if p := f.parentOf(n.Name()); p != InvalidHandle {
			n.Parent = p
			f.nodes[p].Children = append(f.nodes[p].Children, Handle(i))
		}
	}

	installedByName := make(map[string]localstate.InstalledRecord, len(installed))
	for _, r := range installed {
		installedByName[r.Name] = r
	}

	// Direct installation state from the local catalog.
	for _, n := range f.nodes {
		if r, ok := installedByName[n.Name()]; ok {
			rec := r
			n.Installed = &rec
			n.installedVersion = r.Version
		}
	}

	// Replacement map. A replacing package inherits the installation of any
	// replaced package that is installed locally, unless we are uninstalling.
	for i, n := range f.nodes {
		for _, replaced := range n.Pkg.Replaces {
			f.replacements[replaced] = Handle(i)
			if mode == run.ModeUninstaller {
				continue
			}
			if _, ok := installedByName[replaced]; ok && !n.IsInstalled() {
				n.installedVersion = n.Pkg.Version
				n.inheritedFrom = replaced
			}
		}
	}

	// Default check state for leaves: installed, or marked default-selected
	// or force-install. Virtual components are only selected through dependencies unless
	// already installed.
	for _, n := range f.nodes {
		if len(n.Children) > 0 {
			continue
		}
		switch {
		case n.IsInstalled():
			n.Check = Checked
		case n.IsVirtual():
			n.Check = Unchecked
		case n.Pkg.Flags.Default || n.Pkg.Flags.ForceInstall:
			n.Check = Checked
		}
	}

	// Tri-state parents derive their state bottom-up.
	for _, root := range f.Roots() {
		f.recomputeDeep(root)
	}

	return f
}

// parentOf strips dotted segments from the end of name until a stripped
// prefix names an existing component.
func (f *Forest) parentOf(name string) Handle {
	for {
		i := strings.LastIndex(name, ".")
		if i < 0 {
			return InvalidHandle
		}
		name = name[:i]
		if h, ok := f.byName[name]; ok {
			return h
		}
	}
}

func (f *Forest) recomputeDeep(h Handle) {
	for _, c := range f.nodes[h].Children {
		f.recomputeDeep(c)
	}
	f.recompute(h)
}
