// Package artifacts implements the HTTP adapter for the artifact API
// mounted under /storages.
package artifacts

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/artifactd/artifactd/internal/boundaries/in"
	"github.com/artifactd/artifactd/internal/boundaries/out"
	"github.com/artifactd/artifactd/internal/checksum"
	"github.com/artifactd/artifactd/internal/domain"
	"github.com/artifactd/artifactd/pkg/httprange"
)

const (
	contentTypeChecksum = "text/plain"
	contentTypeMetadata = "application/xml"
	contentTypeArtifact = "application/octet-stream"

	defaultEventLimit = 20
	maxEventLimit     = 1000
)

// Handler serves the artifact HTTP API.
type Handler struct {
	svc     in.ArtifactService
	version string
	log     zerolog.Logger
}

// NewHandler creates the artifact HTTP handler.
func NewHandler(svc in.ArtifactService, version string, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, version: version, log: log}
}

// RegisterRoutes mounts the artifact routes. The auth middleware guards
// mutating operations only.
func (h *Handler) RegisterRoutes(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.GET("/ping", h.Ping)
	e.GET("/events", h.Events)

	storages := e.Group("/storages")
	storages.POST("/copy/*", h.Copy, auth)
	storages.PUT("/:storageId/:repositoryId/*", h.Upload, auth)
	storages.GET("/:storageId/:repositoryId/*", h.Download)
	storages.DELETE("/:storageId/:repositoryId/*", h.Delete, auth)
}

// Ping reports the server version.
func (h *Handler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": h.version})
}

// Events returns the most recent artifact mutations.
func (h *Handler) Events(c echo.Context) error {
	limit := defaultEventLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.String(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.svc.RecentEvents(c.Request().Context(), limit)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []out.ArtifactEvent{}
	}
	return c.JSON(http.StatusOK, events)
}

// Upload stores an artifact, sidecar or metadata file.
func (h *Handler) Upload(c echo.Context) error {
	storageID := c.Param("storageId")
	repositoryID := c.Param("repositoryId")
	path := c.Param("*")

	err := h.svc.Store(c.Request().Context(), storageID, repositoryID, path, c.Request().Body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStorageNotFound), errors.Is(err, domain.ErrRepositoryNotFound):
			return c.String(http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrRepositoryOutOfService):
			return c.String(http.StatusServiceUnavailable, err.Error())
		default:
			// Validation failures, group writes, malformed coordinates and
			// I/O problems all surface as a bad request.
			return c.String(http.StatusBadRequest, err.Error())
		}
	}

	return c.NoContent(http.StatusOK)
}

// Download streams an artifact, honoring the Range header.
func (h *Handler) Download(c echo.Context) error {
	storageID := c.Param("storageId")
	repositoryID := c.Param("repositoryId")
	path := c.Param("*")

	repo := h.svc.Repository(storageID, repositoryID)
	if repo == nil {
		return c.NoContent(http.StatusNotFound)
	}
	if !repo.InService {
		return c.NoContent(http.StatusServiceUnavailable)
	}

	source, err := h.svc.Resolve(c.Request().Context(), storageID, repositoryID, path)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrArtifactNotFound):
			return c.NoContent(http.StatusNotFound)
		case errors.Is(err, domain.ErrRepositoryOutOfService):
			return c.NoContent(http.StatusServiceUnavailable)
		case errors.Is(err, domain.ErrInvalidPath):
			return c.String(http.StatusBadRequest, err.Error())
		default:
			return c.String(http.StatusInternalServerError, err.Error())
		}
	}
	defer source.Close()

	header := c.Response().Header()
	header.Set("Accept-Ranges", "bytes")
	contentType := contentTypeFor(path)
	h.setChecksumHeaders(c, repo, storageID, repositoryID, path)

	rangeHeader := c.Request().Header.Get("Range")
	if httprange.IsRangedRequest(rangeHeader) {
		return h.servePartial(c, source, rangeHeader, contentType)
	}

	if length := source.Length(); length >= 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(length, 10))
	}
	return c.Stream(http.StatusOK, contentType, source)
}

// servePartial answers a ranged request with 206, or 416 when the range
// set is unsatisfiable.
func (h *Handler) servePartial(c echo.Context, source *domain.Source, rangeHeader, contentType string) error {
	ranges, err := httprange.Parse(rangeHeader)
	if err != nil {
		return c.NoContent(http.StatusRequestedRangeNotSatisfiable)
	}

	if len(ranges) == 1 {
		return h.serveSingleRange(c, source, ranges[0], contentType)
	}
	return h.serveMultipleRanges(c, source, ranges, contentType)
}

func (h *Handler) serveSingleRange(c echo.Context, source *domain.Source, r httprange.ByteRange, contentType string) error {
	if err := source.SetRange(r); err != nil {
		if errors.Is(err, domain.ErrRangeNotSatisfiable) {
			return c.NoContent(http.StatusRequestedRangeNotSatisfiable)
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}

	header := c.Response().Header()
	header.Set("Content-Range", r.ContentRange(source.Length()))
	if n := r.Length(source.Length()); n >= 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(n, 10))
	}

	return c.Stream(http.StatusPartialContent, contentType, source)
}

// serveMultipleRanges composes a multipart/byteranges body; each part
// carries the content type of the artifact itself.
func (h *Handler) serveMultipleRanges(c echo.Context, source *domain.Source, ranges []httprange.ByteRange, contentType string) error {
	length := source.Length()
	for _, r := range ranges {
		if length >= 0 && r.Offset >= length {
			return c.NoContent(http.StatusRequestedRangeNotSatisfiable)
		}
	}

	mpw := multipart.NewWriter(c.Response())
	c.Response().Header().Set(echo.HeaderContentType, "multipart/byteranges; boundary="+mpw.Boundary())
	c.Response().WriteHeader(http.StatusPartialContent)

	for _, r := range ranges {
		part, err := mpw.CreatePart(textproto.MIMEHeader{
			"Content-Type":  {contentType},
			"Content-Range": {r.ContentRange(length)},
		})
		if err != nil {
			return err
		}
		section, err := source.Section(r)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, section); err != nil {
			return err
		}
	}
	return mpw.Close()
}

// Delete removes an artifact. The discrimination order of the 404 causes
// (storage, repository, path) is part of the API contract.
func (h *Handler) Delete(c echo.Context) error {
	storageID := c.Param("storageId")
	repositoryID := c.Param("repositoryId")
	path := c.Param("*")

	force := false
	if raw := c.QueryParam("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid force parameter")
		}
		force = parsed
	}

	err := h.svc.Delete(c.Request().Context(), storageID, repositoryID, path, force)
	if err != nil {
		switch {
		case h.svc.Storage(storageID) == nil:
			return c.String(http.StatusNotFound, "The specified storageId does not exist!")
		case h.svc.Repository(storageID, repositoryID) == nil:
			return c.String(http.StatusNotFound, "The specified repositoryId does not exist!")
		case errors.Is(err, domain.ErrArtifactNotFound):
			return c.String(http.StatusNotFound, "The specified path does not exist!")
		default:
			return c.String(http.StatusBadRequest, err.Error())
		}
	}

	return c.NoContent(http.StatusOK)
}

// Copy performs a server-side copy. The 404 discrimination order follows
// the API contract: source storage, destination storage, source
// repository, destination repository, source path.
func (h *Handler) Copy(c echo.Context) error {
	path := c.Param("*")
	srcStorageID := c.QueryParam("srcStorageId")
	srcRepositoryID := c.QueryParam("srcRepositoryId")
	dstStorageID := c.QueryParam("destStorageId")
	dstRepositoryID := c.QueryParam("destRepositoryId")

	err := h.svc.Copy(c.Request().Context(), srcStorageID, srcRepositoryID, path, dstStorageID, dstRepositoryID)
	if err != nil {
		switch {
		case h.svc.Storage(srcStorageID) == nil:
			return c.String(http.StatusNotFound, "The source storageId does not exist!")
		case h.svc.Storage(dstStorageID) == nil:
			return c.String(http.StatusNotFound, "The destination storageId does not exist!")
		case h.svc.Repository(srcStorageID, srcRepositoryID) == nil:
			return c.String(http.StatusNotFound, "The source repositoryId does not exist!")
		case h.svc.Repository(dstStorageID, dstRepositoryID) == nil:
			return c.String(http.StatusNotFound, "The destination repositoryId does not exist!")
		case errors.Is(err, domain.ErrArtifactNotFound):
			return c.String(http.StatusNotFound, "The source path does not exist!")
		default:
			return c.String(http.StatusBadRequest, err.Error())
		}
	}

	return c.NoContent(http.StatusOK)
}

// setChecksumHeaders attaches Checksum-MD5 / Checksum-SHA1 headers when the
// repository enables them. Missing sidecars are not errors.
func (h *Handler) setChecksumHeaders(c echo.Context, repo *domain.Repository, storageID, repositoryID, path string) {
	if !repo.ChecksumHeadersEnabled || domain.IsChecksumPath(path) {
		return
	}

	ctx := c.Request().Context()
	if digest, ok := h.svc.Checksum(ctx, storageID, repositoryID, path, checksum.AlgorithmMD5); ok {
		c.Response().Header().Set("Checksum-MD5", digest)
	}
	if digest, ok := h.svc.Checksum(ctx, storageID, repositoryID, path, checksum.AlgorithmSHA1); ok {
		c.Response().Header().Set("Checksum-SHA1", digest)
	}
}

func contentTypeFor(path string) string {
	switch {
	case domain.IsChecksumPath(path):
		return contentTypeChecksum
	case domain.IsMetadataPath(path):
		return contentTypeMetadata
	default:
		return contentTypeArtifact
	}
}

