//go:build e2e

package e2e

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/terassyi/donyu/internal/artifact"
	"github.com/terassyi/donyu/internal/component"
	"github.com/terassyi/donyu/internal/executor"
	"github.com/terassyi/donyu/internal/journal"
	"github.com/terassyi/donyu/internal/localstate"
	"github.com/terassyi/donyu/internal/operation"
	"github.com/terassyi/donyu/internal/run"
)

// Fresh install of B (depending on A) from a staged repository: the
// resolver orders [A, B], both archives extract under the target, the
// journal carries one entry per archive, and the local catalog records both
// versions.
func freshInstallTests() {
	var (
		fixture *engineFixture
		staging string
	)

	BeforeAll(func() {
		staging = newRepo(filepath.Join(GinkgoT().TempDir(), "repo")).
			addManifest(`  - name: A
    version: "1.0"
    downloadableArchives: [a.tar.gz]
  - name: B
    version: "1.0"
    dependencies: [A]
    downloadableArchives: [b.tar.gz]
`).
			addArchive("A", "a.tar.gz", map[string]string{"lib/liba.so": "a-payload"}).
			addArchive("B", "b.tar.gz", map[string]string{"bin/b": "b-payload"}).
			write()

		fixture = newEngineFixture(GinkgoT().TempDir(), run.ModeInstaller)
	})

	It("resolves B's missing dependency ahead of it", func() {
		_, forest := fixture.loadForest(staging)
		forest.SetChecked(forest.ByName("B"), true)

		order := forest.ComponentsToInstall(fixture.rc.Mode, fixture.rc.Options)
		Expect(order).To(HaveLen(2))
		Expect(forest.Get(order[0]).Name()).To(Equal("A"))
		Expect(forest.Get(order[1]).Name()).To(Equal("B"))
	})

	It("extracts both archives and journals two operations", func() {
		_, forest := fixture.loadForest(staging)
		forest.SetChecked(forest.ByName("B"), true)
		order := forest.ComponentsToInstall(fixture.rc.Mode, fixture.rc.Options)

		exec := fixture.executor(forest, GinkgoT().TempDir())
		status, err := exec.Run(order)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(run.StatusSuccess))

		Expect(filepath.Join(fixture.targetDir, "lib", "liba.so")).To(BeAnExistingFile())
		Expect(filepath.Join(fixture.targetDir, "bin", "b")).To(BeAnExistingFile())
		Expect(exec.Journal().Len()).To(Equal(2))
	})

	It("records both components in the local catalog", func() {
		a, ok := fixture.store.Get("A")
		Expect(ok).To(BeTrue())
		Expect(a.Version).To(Equal("1.0"))

		b, ok := fixture.store.Get("B")
		Expect(ok).To(BeTrue())
		Expect(b.Version).To(Equal("1.0"))
	})
}

// Installed legacy 1.0, remote modern 2.0 replacing it: modern inherits the
// installation, the resolver stays quiet until the update is requested, and
// the update first undoes the journaled legacy operations.
func updateWithReplacesTests() {
	var (
		fixture *engineFixture
		staging string
		legacy  string
	)

	BeforeAll(func() {
		staging = newRepo(filepath.Join(GinkgoT().TempDir(), "repo")).
			addManifest(`  - name: modern
    version: "2.0"
    replaces: [legacy]
    flags:
      removeBeforeUpdate: true
    downloadableArchives: [modern.tar.gz]
`).
			addArchive("modern", "modern.tar.gz", map[string]string{"bin/modern": "v2"}).
			write()

		fixture = newEngineFixture(GinkgoT().TempDir(), run.ModeUpdater)
		legacy = filepath.Join(fixture.targetDir, "bin", "legacy")
		Expect(os.MkdirAll(filepath.Dir(legacy), 0755)).To(Succeed())
		Expect(os.WriteFile(legacy, []byte("v1"), 0755)).To(Succeed())

		fixture.store.Insert(localstate.InstalledRecord{Name: "legacy", Version: "1.0"})
		Expect(fixture.store.Flush()).To(Succeed())
	})

	It("marks the replacing component installed at the new version", func() {
		_, forest := fixture.loadForest(staging)
		n := forest.Get(forest.ByName("modern"))
		Expect(n.IsInstalled()).To(BeTrue())
		Expect(n.InstalledVersion()).To(Equal("2.0"))
	})

	It("undoes the legacy operations before applying modern's", func() {
		// The prior session journaled the legacy binary's creation.
		prior := journal.New()
		op := operation.New(operation.KindCopy, "unused-src", legacy)
		op.SetAttr(operation.AttrComponent, "legacy")
		op.SetAttr("state.dst", legacy)
		prior.Append(op)

		_, forest := fixture.loadForest(staging)
		h := forest.ByName("modern")

		exec := fixture.executor(forest, GinkgoT().TempDir(), executor.WithPriorJournal(prior))
		status, err := exec.Run([]component.Handle{h})
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(run.StatusSuccess))

		// The legacy binary is gone, the modern one is in place.
		Expect(legacy).NotTo(BeAnExistingFile())
		Expect(filepath.Join(fixture.targetDir, "bin", "modern")).To(BeAnExistingFile())

		_, ok := fixture.store.Get("legacy")
		Expect(ok).To(BeFalse())
		m, ok := fixture.store.Get("modern")
		Expect(ok).To(BeTrue())
		Expect(m.Version).To(Equal("2.0"))
	})
}

// A failing operation mid-component leaves no trace of that component.
func failureRollbackTests() {
	It("rolls the partial component back and keeps the target clean", func() {
		staging := newRepo(filepath.Join(GinkgoT().TempDir(), "repo")).
			addManifest(`  - name: broken
    version: "1.0"
    downloadableArchives: [ok.tar.gz]
    operations:
      - kind: Copy
        args: ["@TargetDir@/does-not-exist", "@TargetDir@/dst"]
`).
			addArchive("broken", "ok.tar.gz", map[string]string{"data/file": "x"}).
			write()

		fixture := newEngineFixture(GinkgoT().TempDir(), run.ModeInstaller)
		_, forest := fixture.loadForest(staging)

		exec := fixture.executor(forest, GinkgoT().TempDir())
		status, err := exec.Run([]component.Handle{forest.ByName("broken")})
		Expect(err).To(HaveOccurred())
		Expect(status).To(Equal(run.StatusFailure))

		// The extracted archive was rolled back with the failure.
		Expect(filepath.Join(fixture.targetDir, "data", "file")).NotTo(BeAnExistingFile())
		_, ok := fixture.store.Get("broken")
		Expect(ok).To(BeFalse())
	})
}

// The maintenance-tool artifact embeds journal and registry and reads back
// byte-for-byte.
func maintenanceToolTests() {
	It("round-trips journal and package registry through the binary", func() {
		dir := GinkgoT().TempDir()
		base := filepath.Join(dir, "base")
		Expect(os.WriteFile(base, []byte("#!/bin/sh\nexit 0\n"), 0755)).To(Succeed())

		j := journal.New()
		op := operation.New(operation.KindMkdir, "/opt/demo")
		op.SetAttr(operation.AttrComponent, "org.demo.core")
		j.Append(op)
		journalBytes, err := j.Encode()
		Expect(err).NotTo(HaveOccurred())

		meta := &artifact.Metadata{Marker: artifact.MarkerPackageManager}
		meta.SetSection(artifact.TagJournal, journalBytes)
		meta.SetSection(artifact.TagPackageRegistry, []byte("components: []\n"))

		target := filepath.Join(dir, "maintenance")
		Expect(artifact.NewWriter().Write(target, base, meta)).To(Succeed())

		got, err := artifact.Read(target)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Marker).To(Equal(artifact.MarkerPackageManager))
		Expect(got.Section(artifact.TagJournal).Data).To(Equal(journalBytes))

		decoded, err := journal.Decode(got.Section(artifact.TagJournal).Data)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Components()).To(Equal([]string{"org.demo.core"}))
	})
}
