//go:build e2e

package e2e

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"

	. "github.com/onsi/gomega"

	"github.com/terassyi/donyu/internal/catalog"
	"github.com/terassyi/donyu/internal/component"
	"github.com/terassyi/donyu/internal/executor"
	"github.com/terassyi/donyu/internal/localstate"
	"github.com/terassyi/donyu/internal/operation"
	"github.com/terassyi/donyu/internal/run"
	"github.com/terassyi/donyu/internal/vars"
)

// repoBuilder assembles a repository staging directory: a manifest plus
// per-package archive payloads.
type repoBuilder struct {
	dir      string
	manifest string
}

func newRepo(dir string) *repoBuilder {
	Expect(os.MkdirAll(dir, 0755)).To(Succeed())
	return &repoBuilder{dir: dir, manifest: "applicationName: demo\napplicationVersion: \"1.0\"\npackages:\n"}
}

func (r *repoBuilder) addManifest(yamlFragment string) *repoBuilder {
	r.manifest += yamlFragment
	return r
}

// addArchive writes <pkg>/<name>.tar.gz containing the given files.
func (r *repoBuilder) addArchive(pkg, name string, files map[string]string) *repoBuilder {
	dir := filepath.Join(r.dir, pkg)
	Expect(os.MkdirAll(dir, 0755)).To(Succeed())

	f, err := os.Create(filepath.Join(dir, name))
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for fname, content := range files {
		Expect(tw.WriteHeader(&tar.Header{
			Name: fname, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		})).To(Succeed())
		_, err := tw.Write([]byte(content))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(tw.Close()).To(Succeed())
	Expect(gw.Close()).To(Succeed())
	return r
}

func (r *repoBuilder) write() string {
	Expect(os.WriteFile(filepath.Join(r.dir, catalog.ManifestFileName), []byte(r.manifest), 0644)).To(Succeed())
	return r.dir
}

// engineFixture wires a full in-process engine against temp directories.
type engineFixture struct {
	targetDir string
	store     *localstate.Store
	vars      *vars.Map
	rc        *run.Context
}

func newEngineFixture(targetDir string, mode run.Mode) *engineFixture {
	store, err := localstate.NewStore(targetDir)
	Expect(err).NotTo(HaveOccurred())
	_, err = store.Load()
	Expect(err).NotTo(HaveOccurred())

	m := vars.New()
	m.Set(vars.TargetDir, targetDir)
	m.Set(vars.ApplicationName, "demo")

	return &engineFixture{
		targetDir: targetDir,
		store:     store,
		vars:      m,
		rc:        run.New(mode, run.DefaultOptions()),
	}
}

func (f *engineFixture) loadForest(stagingDirs ...string) (*catalog.Catalog, *component.Forest) {
	cat, err := catalog.NewLoader().Load(stagingDirs)
	Expect(err).NotTo(HaveOccurred())

	installed, err := f.store.Load()
	Expect(err).NotTo(HaveOccurred())

	return cat, component.Build(cat, installed, f.rc.Mode, f.rc.Options)
}

func (f *engineFixture) executor(forest *component.Forest, backupDir string, opts ...executor.Option) *executor.Executor {
	return executor.New(f.rc, forest, operation.Builtin(), f.store, f.vars, backupDir, opts...)
}
