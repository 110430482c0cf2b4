package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/registry/index"
	"github.com/owlhub/platform/pkg/registry/manifest"
)

// PublishRequest is the publish body: the manifest plus an artifact
// reference.
type PublishRequest struct {
	Manifest    manifest.Manifest `json:"manifest"`
	DownloadURL string            `json:"download_url,omitempty"`
	Digest      string            `json:"digest,omitempty"`
}

// PublishResponse reports the indexed entry and its review.
type PublishResponse struct {
	Skill    index.Entry `json:"skill"`
	ReviewID string      `json:"review_id"`
}

// SkillResponse groups all visible versions of one skill.
type SkillResponse struct {
	Publisher string        `json:"publisher"`
	Name      string        `json:"name"`
	Versions  []index.Entry `json:"versions"`
}

// listSkillsHandler handles GET /api/v1/skills.
func (s *Server) listSkillsHandler(c *echo.Context) error {
	idx, err := s.loadIndex()
	if err != nil {
		return mapRegistryError(err)
	}

	includeDraft := c.QueryParam("include_draft") == "true"
	entries := []index.Entry{}
	for _, entry := range idx.Skills {
		if entryVisible(&entry, includeDraft) {
			entries = append(entries, entry)
		}
	}
	return c.JSON(http.StatusOK, entries)
}

// getSkillHandler handles GET /api/v1/skills/:publisher/:name.
func (s *Server) getSkillHandler(c *echo.Context) error {
	publisher := c.Param("publisher")
	name := c.Param("name")

	idx, err := s.loadIndex()
	if err != nil {
		return mapRegistryError(err)
	}

	includeDraft := c.QueryParam("include_draft") == "true"
	var versions []index.Entry
	for _, entry := range idx.Skills {
		if entry.Publisher == publisher && entry.Name == name && entryVisible(&entry, includeDraft) {
			versions = append(versions, entry)
		}
	}
	if len(versions) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("skill %s/%s not found", publisher, name))
	}
	return c.JSON(http.StatusOK, SkillResponse{Publisher: publisher, Name: name, Versions: versions})
}

// publishSkillHandler handles POST /api/v1/skills. The new version
// enters the index as a draft and stays hidden until its review is
// approved.
func (s *Server) publishSkillHandler(c *echo.Context) error {
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := manifest.Validate(&req.Manifest); err != nil {
		return mapRegistryError(err)
	}
	if req.DownloadURL == "" && req.Digest == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "download_url or digest is required")
	}

	req.Manifest.VersionState = manifest.StateDraft
	entry := index.Entry{
		Manifest:    *req.Manifest.Clone(),
		DownloadURL: req.DownloadURL,
		Checksum:    req.Digest,
	}
	if entry.Checksum == "" {
		identity := fmt.Sprintf("%s:%s:%s", entry.Publisher, entry.Name, entry.Version)
		entry.Checksum = index.Checksum([]byte(identity))
	}

	idx, err := s.loadIndex()
	if err != nil {
		return mapRegistryError(err)
	}
	if idx.Find(entry.ID()) != nil {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("skill %s already published", entry.ID()))
	}
	idx.Skills = append(idx.Skills, entry)
	idx.TotalSkills = len(idx.Skills)
	if err := index.WriteFile(s.cfg.IndexFile, idx); err != nil {
		return mapRegistryError(err)
	}

	identity := identityFrom(c)
	rec, err := s.reviews.Submit(entry.ID(), identity.UserID)
	if err != nil {
		return mapRegistryError(err)
	}
	s.auditEvent(c, "skill.published", map[string]any{"skill": entry.ID(), "review_id": rec.ID})

	return c.JSON(http.StatusCreated, PublishResponse{Skill: entry, ReviewID: rec.ID})
}

// VersionStateRequest is the version lifecycle update body.
type VersionStateRequest struct {
	State manifest.VersionState `json:"state"`
}

// setVersionStateHandler handles
// PUT /api/v1/skills/:publisher/:name/versions/:version/state.
func (s *Server) setVersionStateHandler(c *echo.Context) error {
	var req VersionStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.State.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("invalid state %q (must be draft, released, or deprecated)", req.State))
	}

	id := fmt.Sprintf("%s/%s@%s", c.Param("publisher"), c.Param("name"), c.Param("version"))
	if err := s.writer.SetVersionState(id, req.State); err != nil {
		return mapRegistryError(err)
	}
	s.auditEvent(c, "skill.version_state_changed", map[string]any{"skill": id, "state": string(req.State)})
	return c.JSON(http.StatusOK, map[string]string{"skill": id, "state": string(req.State)})
}

// TakedownRequest targets one version, or every version when empty.
type TakedownRequest struct {
	Version  string `json:"version,omitempty"`
	Takedown *bool  `json:"takedown,omitempty"`
}

// takedownHandler handles POST /api/v1/skills/:publisher/:name/takedown.
func (s *Server) takedownHandler(c *echo.Context) error {
	var req TakedownRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	flag := true
	if req.Takedown != nil {
		flag = *req.Takedown
	}

	publisher := c.Param("publisher")
	name := c.Param("name")

	var ids []string
	if req.Version != "" {
		ids = []string{fmt.Sprintf("%s/%s@%s", publisher, name, req.Version)}
	} else {
		idx, err := s.loadIndex()
		if err != nil {
			return mapRegistryError(err)
		}
		for _, entry := range idx.Skills {
			if entry.Publisher == publisher && entry.Name == name {
				ids = append(ids, entry.ID())
			}
		}
		if len(ids) == 0 {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("skill %s/%s not found", publisher, name))
		}
	}

	for _, id := range ids {
		if err := s.moderation.Takedown(id, flag); err != nil {
			return mapRegistryError(err)
		}
	}
	s.auditEvent(c, "skill.takedown", map[string]any{"skills": ids, "takedown": flag})
	return c.JSON(http.StatusOK, map[string]any{"updated": ids, "takedown": flag})
}

// loadIndex reads the index file; a missing file is an empty index so
// the first publish bootstraps it.
func (s *Server) loadIndex() (*index.Index, error) {
	idx, err := index.LoadFile(s.cfg.IndexFile)
	if errors.Is(err, os.ErrNotExist) {
		return &index.Index{Version: index.FormatVersion}, nil
	}
	return idx, err
}

func entryVisible(entry *index.Entry, includeDraft bool) bool {
	if entry.Takedown || entry.Blacklisted {
		return false
	}
	if entry.VersionState == manifest.StateDraft && !includeDraft {
		return false
	}
	return true
}

// auditEvent appends to the audit trail; audit failures are logged by
// the caller chain, never surfaced to the client.
func (s *Server) auditEvent(c *echo.Context, eventType string, details map[string]any) {
	identity := identityFrom(c)
	_ = s.audit.Append(eventType, identity.UserID, string(identity.Role), details)
}
