package domain

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// MetadataFilename is the per-directory version index file name.
const MetadataFilename = "maven-metadata.xml"

// ChecksumExtensions lists the recognized digest sidecar suffixes.
var ChecksumExtensions = []string{"md5", "sha1"}

var timestampedSnapshotPattern = regexp.MustCompile(`\d{8}\.\d{6}-\d+$`)

// Coordinates is the structured decomposition of a Maven-style,
// repository-relative artifact path:
//
//	g1/g2/.../artifactId/version/artifactId-version[-classifier].ext
type Coordinates struct {
	GroupID    string
	ArtifactID string
	Version    string
	Classifier string
	Extension  string
}

// Path rebuilds the repository-relative path for the coordinates.
func (c *Coordinates) Path() string {
	name := c.ArtifactID + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	if c.Extension != "" {
		name += "." + c.Extension
	}
	return path.Join(strings.ReplaceAll(c.GroupID, ".", "/"), c.ArtifactID, c.Version, name)
}

// IsSnapshot reports whether the version is mutable: either a -SNAPSHOT
// version or a timestamped snapshot (yyyyMMdd.HHmmss-build).
func (c *Coordinates) IsSnapshot() bool {
	return IsSnapshotVersion(c.Version)
}

// IsSnapshotVersion reports whether a raw version string denotes a snapshot.
func IsSnapshotVersion(version string) bool {
	return strings.HasSuffix(version, "-SNAPSHOT") || timestampedSnapshotPattern.MatchString(version)
}

// IsChecksumPath reports whether the path names a digest sidecar file.
func IsChecksumPath(p string) bool {
	for _, ext := range ChecksumExtensions {
		if strings.HasSuffix(p, "."+ext) {
			return true
		}
	}
	return false
}

// ChecksumAlgorithm returns the sidecar algorithm ("md5", "sha1") for a
// checksum path, or the empty string if the path is not a sidecar.
func ChecksumAlgorithm(p string) string {
	for _, ext := range ChecksumExtensions {
		if strings.HasSuffix(p, "."+ext) {
			return ext
		}
	}
	return ""
}

// StripChecksumExtension removes a trailing sidecar suffix, if present.
func StripChecksumExtension(p string) string {
	if algo := ChecksumAlgorithm(p); algo != "" {
		return strings.TrimSuffix(p, "."+algo)
	}
	return p
}

// IsMetadataPath reports whether the path names a maven-metadata.xml file
// (or one of its digest sidecars).
func IsMetadataPath(p string) bool {
	return path.Base(StripChecksumExtension(p)) == MetadataFilename
}

// ParseCoordinates decomposes a repository-relative artifact path. Sidecar
// suffixes are stripped before parsing, so the coordinates of an artifact
// and of its checksum files are identical.
func ParseCoordinates(artifactPath string) (*Coordinates, error) {
	p := StripChecksumExtension(strings.Trim(artifactPath, "/"))

	segments := strings.Split(p, "/")
	if len(segments) < 3 {
		return nil, fmt.Errorf("%w: %q has fewer than three segments", ErrInvalidCoordinates, artifactPath)
	}

	filename := segments[len(segments)-1]
	version := segments[len(segments)-2]
	artifactID := segments[len(segments)-3]
	groupID := strings.Join(segments[:len(segments)-3], ".")

	prefix := artifactID + "-" + version
	if !strings.HasPrefix(filename, prefix) {
		return nil, fmt.Errorf("%w: filename %q does not match %s-%s", ErrInvalidCoordinates, filename, artifactID, version)
	}

	rest := strings.TrimPrefix(filename, prefix)
	coords := &Coordinates{
		GroupID:    groupID,
		ArtifactID: artifactID,
		Version:    version,
	}

	switch {
	case rest == "":
		// extensionless artifact
	case strings.HasPrefix(rest, "."):
		coords.Extension = rest[1:]
	case strings.HasPrefix(rest, "-"):
		rest = rest[1:]
		if dot := strings.Index(rest, "."); dot >= 0 {
			coords.Classifier = rest[:dot]
			coords.Extension = rest[dot+1:]
		} else {
			coords.Classifier = rest
		}
	default:
		return nil, fmt.Errorf("%w: filename %q does not match %s-%s", ErrInvalidCoordinates, filename, artifactID, version)
	}

	return coords, nil
}
