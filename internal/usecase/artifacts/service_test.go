package artifacts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifactd/artifactd/internal/adapters/out/eventlog"
	"github.com/artifactd/artifactd/internal/adapters/out/filesystem"
	"github.com/artifactd/artifactd/internal/adapters/out/group"
	"github.com/artifactd/artifactd/internal/boundaries/out"
	"github.com/artifactd/artifactd/internal/checksum"
	"github.com/artifactd/artifactd/internal/domain"
	"github.com/artifactd/artifactd/internal/metadata"
)

const jarPath = "org/foo/foo/1.0/foo-1.0.jar"

type fixture struct {
	svc     *Service
	basedir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	basedir := t.TempDir()

	repos := map[string]*domain.Repository{
		"releases": {ID: "releases", Type: domain.RepositoryTypeHosted, Policy: domain.PolicyRelease,
			InService: true, AllowsRedeployment: true, Basedir: filepath.Join(basedir, "releases")},
		"releases-no-redeploy": {ID: "releases-no-redeploy", Type: domain.RepositoryTypeHosted, Policy: domain.PolicyRelease,
			InService: true, Basedir: filepath.Join(basedir, "releases-no-redeploy")},
		"snapshots": {ID: "snapshots", Type: domain.RepositoryTypeHosted, Policy: domain.PolicySnapshot,
			InService: true, AllowsRedeployment: true, Basedir: filepath.Join(basedir, "snapshots")},
		"second": {ID: "second", Type: domain.RepositoryTypeHosted, Policy: domain.PolicyMixed,
			InService: true, AllowsRedeployment: true, Basedir: filepath.Join(basedir, "second")},
		"offline": {ID: "offline", Type: domain.RepositoryTypeHosted, Policy: domain.PolicyMixed,
			InService: false, Basedir: filepath.Join(basedir, "offline")},
		"g": {ID: "g", Type: domain.RepositoryTypeGroup, Policy: domain.PolicyMixed, InService: true,
			GroupRepositories: []string{"releases", "second"}},
	}
	for _, repo := range repos {
		repo.StorageID = "storage0"
	}

	topology := &domain.Topology{
		Storages: map[string]*domain.Storage{
			"storage0": {ID: "storage0", Basedir: basedir, Repositories: repos},
		},
	}

	registry := NewRegistry()
	registry.Register(domain.RepositoryTypeHosted, filesystem.NewResolver(topology, zerolog.Nop()))
	registry.Register(domain.RepositoryTypeGroup, group.NewResolver(topology, registry, zerolog.Nop()))

	events, err := eventlog.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	cache := checksum.NewCache(time.Minute, time.Minute, zerolog.Nop())
	svc := NewService(topology, registry, metadata.NewManager(zerolog.Nop()), cache, events, nil, zerolog.Nop())

	return &fixture{svc: svc, basedir: basedir}
}

func (f *fixture) read(t *testing.T, repoID, path string) string {
	t.Helper()
	source, err := f.svc.Resolve(context.Background(), "storage0", repoID, path)
	require.NoError(t, err)
	defer source.Close()
	data, err := io.ReadAll(source)
	require.NoError(t, err)
	return string(data)
}

func TestStoreResolve_RoundTrip(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Store(context.Background(), "storage0", "releases", jarPath, strings.NewReader("abc")))

	assert.Equal(t, "abc", f.read(t, "releases", jarPath))
}

func TestStore_SidecarsResolvable(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Store(context.Background(), "storage0", "releases", jarPath, strings.NewReader("abc")))

	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", strings.TrimSpace(f.read(t, "releases", jarPath+".md5")))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", strings.TrimSpace(f.read(t, "releases", jarPath+".sha1")))
}

func TestStore_UpdatesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("abc")))
	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", "org/foo/foo/2.0/foo-2.0.jar", strings.NewReader("def")))

	manager := metadata.NewManager(zerolog.Nop())
	md, err := manager.Read(filepath.Join(f.basedir, "releases", "org", "foo", "foo"))
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, []string{"1.0", "2.0"}, md.Versioning.Versions.Version)
	assert.Equal(t, "2.0", md.Versioning.Latest)
}

func TestStore_SnapshotIntoReleaseRejected(t *testing.T) {
	f := newFixture(t)
	snapshotPath := "org/foo/foo/1.0-SNAPSHOT/foo-1.0-SNAPSHOT.jar"

	err := f.svc.Store(context.Background(), "storage0", "releases", snapshotPath, strings.NewReader("abc"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionPolicyViolation)

	// The rejected write must not leave any disk state behind.
	assert.NoFileExists(t, filepath.Join(f.basedir, "releases", "org", "foo", "foo", "1.0-SNAPSHOT", "foo-1.0-SNAPSHOT.jar"))
	assert.NoFileExists(t, filepath.Join(f.basedir, "releases", "org", "foo", "foo", "maven-metadata.xml"))
}

func TestStore_ReleaseIntoSnapshotRejected(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Store(context.Background(), "storage0", "snapshots", jarPath, strings.NewReader("abc"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionPolicyViolation)
}

func TestStore_RedeploymentForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases-no-redeploy", jarPath, strings.NewReader("first")))

	err := f.svc.Store(ctx, "storage0", "releases-no-redeploy", jarPath, strings.NewReader("second"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRedeploymentForbidden)

	assert.Equal(t, "first", f.read(t, "releases-no-redeploy", jarPath))
}

func TestStore_SnapshotRedeployAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snapshotPath := "org/foo/foo/1.0-SNAPSHOT/foo-1.0-SNAPSHOT.jar"

	require.NoError(t, f.svc.Store(ctx, "storage0", "snapshots", snapshotPath, strings.NewReader("first")))
	require.NoError(t, f.svc.Store(ctx, "storage0", "snapshots", snapshotPath, strings.NewReader("second")))

	assert.Equal(t, "second", f.read(t, "snapshots", snapshotPath))
}

func TestStore_GroupRejected(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Store(context.Background(), "storage0", "g", jarPath, strings.NewReader("abc"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWriteToGroupForbidden)
}

func TestStore_OutOfService(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Store(context.Background(), "storage0", "offline", jarPath, strings.NewReader("abc"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRepositoryOutOfService)
}

func TestStore_InvalidCoordinates(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Store(context.Background(), "storage0", "releases", "not-a-path.jar", strings.NewReader("abc"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}

func TestStore_ChecksumSidecarVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A sidecar upload bypasses coordinate validation entirely.
	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath+".md5", strings.NewReader("cafebabe")))

	assert.Equal(t, "cafebabe", f.read(t, "releases", jarPath+".md5"))
}

func TestStore_MetadataDelegated(t *testing.T) {
	f := newFixture(t)
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<metadata>
  <groupId>org.foo</groupId>
  <artifactId>foo</artifactId>
  <versioning>
    <versions>
      <version>1.0</version>
    </versions>
  </versioning>
</metadata>`

	require.NoError(t, f.svc.Store(context.Background(), "storage0", "releases", "org/foo/foo/maven-metadata.xml", strings.NewReader(doc)))

	dir := filepath.Join(f.basedir, "releases", "org", "foo", "foo")
	assert.FileExists(t, filepath.Join(dir, "maven-metadata.xml"))
	assert.FileExists(t, filepath.Join(dir, "maven-metadata.xml.md5"))
	assert.FileExists(t, filepath.Join(dir, "maven-metadata.xml.sha1"))
}

func TestStore_CorruptMetadataRejected(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Store(context.Background(), "storage0", "releases", "org/foo/foo/maven-metadata.xml", strings.NewReader("<metadata><broken"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMetadataCorrupt)
}

func TestDelete_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("abc")))
	require.NoError(t, f.svc.Delete(ctx, "storage0", "releases", jarPath, false))

	_, err := f.svc.Resolve(ctx, "storage0", "releases", jarPath)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	_, err = f.svc.Resolve(ctx, "storage0", "releases", jarPath+".md5")
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	_, err = f.svc.Resolve(ctx, "storage0", "releases", jarPath+".sha1")
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestDelete_RemovesVersionFromMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("abc")))
	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", "org/foo/foo/2.0/foo-2.0.jar", strings.NewReader("def")))
	require.NoError(t, f.svc.Delete(ctx, "storage0", "releases", jarPath, false))

	manager := metadata.NewManager(zerolog.Nop())
	md, err := manager.Read(filepath.Join(f.basedir, "releases", "org", "foo", "foo"))
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, []string{"2.0"}, md.Versioning.Versions.Version)
}

func TestDelete_KeepsVersionWhileArtifactsRemain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("abc")))
	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", "org/foo/foo/1.0/foo-1.0-sources.jar", strings.NewReader("src")))
	require.NoError(t, f.svc.Delete(ctx, "storage0", "releases", "org/foo/foo/1.0/foo-1.0-sources.jar", false))

	manager := metadata.NewManager(zerolog.Nop())
	md, err := manager.Read(filepath.Join(f.basedir, "releases", "org", "foo", "foo"))
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, []string{"1.0"}, md.Versioning.Versions.Version)
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Delete(context.Background(), "storage0", "releases", jarPath, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestResolve_GroupPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "second", jarPath, strings.NewReader("from-second")))

	assert.Equal(t, "from-second", f.read(t, "g", jarPath))

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("from-releases")))

	assert.Equal(t, "from-releases", f.read(t, "g", jarPath))
}

func TestResolve_OutOfService(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Resolve(context.Background(), "storage0", "offline", jarPath)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRepositoryOutOfService)
}

func TestCopy_FullChainAtDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("abc")))
	require.NoError(t, f.svc.Copy(ctx, "storage0", "releases", jarPath, "storage0", "second"))

	assert.Equal(t, "abc", f.read(t, "second", jarPath))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", strings.TrimSpace(f.read(t, "second", jarPath+".md5")))

	manager := metadata.NewManager(zerolog.Nop())
	md, err := manager.Read(filepath.Join(f.basedir, "second", "org", "foo", "foo"))
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, []string{"1.0"}, md.Versioning.Versions.Version)
}

func TestCopy_SourceMissing(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Copy(context.Background(), "storage0", "releases", jarPath, "storage0", "second")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestCopy_ValidatorsApplyAtDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snapshotPath := "org/foo/foo/1.0-SNAPSHOT/foo-1.0-SNAPSHOT.jar"

	require.NoError(t, f.svc.Store(ctx, "storage0", "snapshots", snapshotPath, strings.NewReader("abc")))

	err := f.svc.Copy(ctx, "storage0", "snapshots", snapshotPath, "storage0", "releases")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionPolicyViolation)
}

func TestChecksum_ReadsSidecarAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("abc")))
	// Re-uploading the sidecar drops the digests cached by the artifact
	// store, so the next lookup has to read the sidecar file.
	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath+".md5", strings.NewReader("900150983cd24fb0d6963f7d28e17f72")))

	digest, ok := f.svc.Checksum(ctx, "storage0", "releases", jarPath, checksum.AlgorithmMD5)
	require.True(t, ok)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", digest)

	// Remove the sidecar from disk; the cached digest still answers.
	require.NoError(t, os.Remove(filepath.Join(f.basedir, "releases", filepath.FromSlash(jarPath))+".md5"))

	digest, ok = f.svc.Checksum(ctx, "storage0", "releases", jarPath, checksum.AlgorithmMD5)
	require.True(t, ok)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", digest)
}

func TestChecksum_AbsentSidecar(t *testing.T) {
	f := newFixture(t)

	_, ok := f.svc.Checksum(context.Background(), "storage0", "releases", jarPath, checksum.AlgorithmMD5)
	assert.False(t, ok)
}

func TestEvents_Recorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Store(ctx, "storage0", "releases", jarPath, strings.NewReader("abc")))
	require.NoError(t, f.svc.Delete(ctx, "storage0", "releases", jarPath, false))

	events, err := f.svc.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, out.EventArtifactDeleted, events[0].Type)
	assert.Equal(t, out.EventArtifactStored, events[1].Type)
}

func TestStorageRepositoryAccessors(t *testing.T) {
	f := newFixture(t)

	assert.NotNil(t, f.svc.Storage("storage0"))
	assert.Nil(t, f.svc.Storage("nope"))
	assert.NotNil(t, f.svc.Repository("storage0", "releases"))
	assert.Nil(t, f.svc.Repository("storage0", "nope"))
}
