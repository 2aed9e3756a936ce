// Package metadata maintains per-directory maven-metadata.xml version
// indices and their digest sidecars.
package metadata

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifactd/artifactd/internal/checksum"
	"github.com/artifactd/artifactd/internal/domain"
)

// Level selects which flavor of metadata a store operation writes.
type Level int

const (
	ArtifactRootLevel Level = iota
	VersionLevel
	PluginGroupLevel
)

const lastUpdatedFormat = "20060102150405"

// Metadata mirrors the maven-metadata.xml document. Child ordering is fixed
// by the struct layout so repeated writes of equal content are byte-stable.
type Metadata struct {
	XMLName    xml.Name    `xml:"metadata"`
	GroupID    string      `xml:"groupId"`
	ArtifactID string      `xml:"artifactId"`
	Versioning *Versioning `xml:"versioning,omitempty"`
}

// Versioning carries the version index and its markers.
type Versioning struct {
	Latest      string   `xml:"latest,omitempty"`
	Release     string   `xml:"release,omitempty"`
	Versions    Versions `xml:"versions"`
	LastUpdated string   `xml:"lastUpdated,omitempty"`
}

// Versions is the ordered version list.
type Versions struct {
	Version []string `xml:"version"`
}

// Contains reports whether the index lists the version.
func (m *Metadata) Contains(version string) bool {
	if m == nil || m.Versioning == nil {
		return false
	}
	for _, v := range m.Versioning.Versions.Version {
		if v == version {
			return true
		}
	}
	return false
}

// Manager performs read-modify-write cycles over metadata files. A per-
// directory mutex serializes concurrent mutations of the same index while
// independent directories proceed in parallel.
type Manager struct {
	locks sync.Map // dir -> *sync.Mutex
	log   zerolog.Logger
}

// NewManager creates a metadata manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

func (m *Manager) lock(dir string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(dir, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Read parses <dir>/maven-metadata.xml. A missing file yields (nil, nil).
func (m *Manager) Read(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, domain.MetadataFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var md Metadata
	if err := xml.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMetadataCorrupt, dir, err)
	}
	return &md, nil
}

// Store writes the metadata document and regenerates its digest sidecars.
// The sidecars are renamed into place before the document itself, so a
// visible maven-metadata.xml never disagrees with its checksums. The
// version and level arguments do not affect what is written: every level
// writes the given document as is.
func (m *Manager) Store(dir, version string, md *Metadata, level Level) error {
	mu := m.lock(dir)
	mu.Lock()
	defer mu.Unlock()

	return m.storeLocked(dir, version, md, level)
}

func (m *Manager) storeLocked(dir, version string, md *Metadata, level Level) error {
	if md.Versioning == nil {
		md.Versioning = &Versioning{}
	}
	md.Versioning.LastUpdated = time.Now().UTC().Format(lastUpdatedFormat)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	body, err := xml.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	body = append([]byte(xml.Header), append(body, '\n')...)

	target := filepath.Join(dir, domain.MetadataFilename)
	suffix := ".tmp." + uuid.New().String()

	digester, err := checksum.NewWriter(io.Discard)
	if err != nil {
		return err
	}
	if _, err := digester.Write(body); err != nil {
		return err
	}

	tmpFiles := make([]string, 0, 3)
	cleanup := func() {
		for _, tmp := range tmpFiles {
			os.Remove(tmp)
		}
	}

	tmpDoc := target + suffix
	if err := os.WriteFile(tmpDoc, body, 0640); err != nil {
		return fmt.Errorf("write metadata temp file: %w", err)
	}
	tmpFiles = append(tmpFiles, tmpDoc)

	type sidecar struct{ tmp, final string }
	sidecars := make([]sidecar, 0, 2)
	for algorithm, digest := range digester.Sums() {
		final := target + "." + algorithm
		tmp := final + suffix
		if err := os.WriteFile(tmp, []byte(digest+"\n"), 0640); err != nil {
			cleanup()
			return fmt.Errorf("write metadata sidecar: %w", err)
		}
		tmpFiles = append(tmpFiles, tmp)
		sidecars = append(sidecars, sidecar{tmp: tmp, final: final})
	}

	// Sidecars first, document last.
	for _, sc := range sidecars {
		if err := os.Rename(sc.tmp, sc.final); err != nil {
			cleanup()
			return fmt.Errorf("publish metadata sidecar: %w", err)
		}
	}
	if err := os.Rename(tmpDoc, target); err != nil {
		cleanup()
		return fmt.Errorf("publish metadata: %w", err)
	}

	m.log.Debug().
		Str("dir", dir).
		Int("versions", len(md.Versioning.Versions.Version)).
		Msg("metadata stored")

	return nil
}

// AddVersion registers a version in the directory index, creating the index
// on first deploy. Adding an already-listed version refreshes markers only.
func (m *Manager) AddVersion(dir, groupID, artifactID, version string) error {
	mu := m.lock(dir)
	mu.Lock()
	defer mu.Unlock()

	md, err := m.Read(dir)
	if err != nil {
		return err
	}
	if md == nil {
		md = &Metadata{GroupID: groupID, ArtifactID: artifactID}
	}
	if md.Versioning == nil {
		md.Versioning = &Versioning{}
	}

	if !md.Contains(version) {
		md.Versioning.Versions.Version = append(md.Versioning.Versions.Version, version)
	}
	m.refreshMarkers(md)

	return m.storeLocked(dir, "", md, ArtifactRootLevel)
}

// RemoveVersion drops a version from the directory index and rewrites the
// metadata at artifact-root level. Removing an unlisted version is a no-op.
func (m *Manager) RemoveVersion(dir, version string) error {
	mu := m.lock(dir)
	mu.Lock()
	defer mu.Unlock()

	md, err := m.Read(dir)
	if err != nil || md == nil {
		return err
	}
	if !md.Contains(version) {
		return nil
	}

	versions := md.Versioning.Versions.Version[:0]
	for _, v := range md.Versioning.Versions.Version {
		if v != version {
			versions = append(versions, v)
		}
	}
	md.Versioning.Versions.Version = versions
	m.refreshMarkers(md)

	return m.storeLocked(dir, "", md, ArtifactRootLevel)
}

// refreshMarkers re-sorts the version list and recomputes the latest and
// release markers.
func (m *Manager) refreshMarkers(md *Metadata) {
	versions := md.Versioning.Versions.Version
	sortVersions(versions)

	md.Versioning.Latest = ""
	md.Versioning.Release = ""
	if len(versions) > 0 {
		md.Versioning.Latest = versions[len(versions)-1]
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if !domain.IsSnapshotVersion(versions[i]) {
			md.Versioning.Release = versions[i]
			break
		}
	}
}

// sortVersions orders versions semantically where possible, falling back to
// lexicographic order for versions semver cannot parse.
func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(strings.TrimSuffix(versions[i], "-SNAPSHOT"))
		vj, errj := semver.NewVersion(strings.TrimSuffix(versions[j], "-SNAPSHOT"))
		if erri == nil && errj == nil {
			if c := vi.Compare(vj); c != 0 {
				return c < 0
			}
			// Same base version: the snapshot precedes the release.
			return domain.IsSnapshotVersion(versions[i]) && !domain.IsSnapshotVersion(versions[j])
		}
		return versions[i] < versions[j]
	})
}
