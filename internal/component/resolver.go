package component

import (
	"sort"

	"github.com/terassyi/donyu/internal/run"
	"github.com/terassyi/donyu/internal/version"
)

// InstallationRequested reports whether the component should be installed in
// the given mode: checked and not yet installed, force-installed by flag, or
// checked with a pending update in the update-capable modes.
func (f *Forest) InstallationRequested(h Handle, mode run.Mode, opts run.Options) bool {
	if mode == run.ModeUninstaller {
		return false
	}
	n := f.nodes[h]
	if len(n.Children) > 0 {
		// Tri-state parents never install themselves; their leaves do.
		return false
	}
	if n.Pkg.Flags.ForceInstall && !n.IsInstalled() && opts.ForceInstallation {
		return true
	}
	if n.Check != Checked {
		return false
	}
	if !n.IsInstalled() {
		return true
	}
	if mode == run.ModeUpdater || mode == run.ModePackageManager {
		return f.UpdateAvailable(h)
	}
	return false
}

// UpdateAvailable reports whether the remote package is newer than the
// installed version.
func (f *Forest) UpdateAvailable(h Handle) bool {
	n := f.nodes[h]
	return n.IsInstalled() && version.Compare(n.Pkg.Version, n.installedVersion) > 0
}

// MissingDependencies returns the components satisfying h's unsatisfied
// dependency expressions. A dependency is satisfied iff a component with its
// name is installed at a version matching the requirement.
func (f *Forest) MissingDependencies(h Handle) []Handle {
	var missing []Handle
	for _, expr := range f.nodes[h].Pkg.Dependencies {
		dep := version.ParseDependency(expr)
		if f.dependencySatisfied(dep) {
			continue
		}
		if dh := f.ByExpression(expr); dh != InvalidHandle {
			missing = append(missing, dh)
		}
	}
	return missing
}

func (f *Forest) dependencySatisfied(dep version.Dependency) bool {
	h := f.ByName(dep.Name)
	if h == InvalidHandle {
		return false
	}
	n := f.nodes[h]
	if !n.IsInstalled() {
		return false
	}
	if dep.Requirement == "" {
		return true
	}
	return version.Matches(n.installedVersion, dep.Requirement)
}

// Dependees returns the components whose dependency list names h.
func (f *Forest) Dependees(h Handle) []Handle {
	target := f.nodes[h]
	var out []Handle
	for i, n := range f.nodes {
		for _, expr := range n.Pkg.Dependencies {
			dep := version.ParseDependency(expr)
			if dep.Name != target.Name() {
				continue
			}
			if dep.Requirement != "" && !version.Matches(target.Pkg.Version, dep.Requirement) {
				continue
			}
			out = append(out, Handle(i))
			break
		}
	}
	return out
}

// ComponentsToInstall computes the ordered install set: every requested
// component preceded by its missing dependencies, deduplicated on first
// occurrence, stable-sorted by install priority, with the dependency
// prepending re-applied after the sort so each component still follows its
// missing dependencies.
func (f *Forest) ComponentsToInstall(mode run.Mode, opts run.Options) []Handle {
	var requested []Handle
	for _, h := range f.Handles() {
		if f.InstallationRequested(h, mode, opts) {
			requested = append(requested, h)
		}
	}

	ordered := f.closure(requested)

	sort.SliceStable(ordered, func(i, j int) bool {
		return f.nodes[ordered[i]].InstallPriority() < f.nodes[ordered[j]].InstallPriority()
	})

	return f.closure(ordered)
}

// closure prepends the missing dependencies of each handle ahead of it,
// recursively, keeping the first occurrence only.
func (f *Forest) closure(handles []Handle) []Handle {
	var out []Handle
	seen := make(map[Handle]bool)
	var add func(h Handle)
	add = func(h Handle) {
		if seen[h] {
			return
		}
		seen[h] = true
		for _, dep := range f.MissingDependencies(h) {
			add(dep)
		}
		out = append(out, h)
	}
	for _, h := range handles {
		add(h)
	}
	return out
}

// ComponentsToRemove returns the removal set: everything installed in
// uninstaller mode, deselected installed components in package-manager mode.
func (f *Forest) ComponentsToRemove(mode run.Mode) []Handle {
	var out []Handle
	for _, h := range f.Handles() {
		n := f.nodes[h]
		if !n.IsInstalled() || len(n.Children) > 0 {
			continue
		}
		switch mode {
		case run.ModeUninstaller:
			out = append(out, h)
		case run.ModePackageManager:
			if n.Check == Unchecked {
				out = append(out, h)
			}
		}
	}
	return out
}

// ApplyUpdaterFilter drops stale update candidates in updater mode: updates
// published before the local installation date, updates that are not newer
// than the installed version, and — when any surviving update carries the
// important flag and filtering is enabled — every non-important update.
// Surviving candidates are checked; everything else is unchecked.
func (f *Forest) ApplyUpdaterFilter(opts run.Options) []Handle {
	var candidates []Handle
	for _, h := range f.Handles() {
		n := f.nodes[h]
		if !n.IsInstalled() || len(n.Children) > 0 {
			continue
		}
		if version.Compare(n.Pkg.Version, n.installedVersion) <= 0 {
			continue
		}
		if n.Installed != nil && !n.Pkg.ReleaseDate.IsZero() &&
			n.Installed.LastUpdateDate.After(n.Pkg.ReleaseDate) {
			continue
		}
		candidates = append(candidates, h)
	}

	if opts.FilterNonImportant {
		important := false
		for _, h := range candidates {
			if f.nodes[h].Pkg.Flags.Important {
				important = true
				break
			}
		}
		if important {
			var filtered []Handle
			for _, h := range candidates {
				if f.nodes[h].Pkg.Flags.Important {
					filtered = append(filtered, h)
				}
			}
			candidates = filtered
		}
	}

	isCandidate := make(map[Handle]bool, len(candidates))
	for _, h := range candidates {
		isCandidate[h] = true
	}
	for _, h := range f.Handles() {
		if len(f.nodes[h].Children) > 0 {
			continue
		}
		f.SetChecked(h, isCandidate[h])
	}
	return candidates
}
