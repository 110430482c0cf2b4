package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/owlhub/platform/pkg/registry/manifest"
	"github.com/owlhub/platform/pkg/registry/review"
)

// BlacklistRequest targets a skill id or a whole publisher.
type BlacklistRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

// listBlacklistHandler handles GET /api/v1/admin/blacklist.
func (s *Server) listBlacklistHandler(c *echo.Context) error {
	entries, err := s.moderation.Entries()
	if err != nil {
		return mapRegistryError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// addBlacklistHandler handles POST /api/v1/admin/blacklist.
func (s *Server) addBlacklistHandler(c *echo.Context) error {
	var req BlacklistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target is required")
	}

	if err := s.moderation.Blacklist(req.Target, req.Reason, identityFrom(c).UserID); err != nil {
		return mapRegistryError(err)
	}
	s.auditEvent(c, "moderation.blacklisted", map[string]any{"target": req.Target, "reason": req.Reason})
	return c.JSON(http.StatusCreated, map[string]string{"target": req.Target})
}

// removeBlacklistHandler handles DELETE /api/v1/admin/blacklist?target=.
func (s *Server) removeBlacklistHandler(c *echo.Context) error {
	target := c.QueryParam("target")
	if target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target query parameter is required")
	}

	if err := s.moderation.Unblacklist(target); err != nil {
		return mapRegistryError(err)
	}
	s.auditEvent(c, "moderation.unblacklisted", map[string]any{"target": target})
	return c.NoContent(http.StatusNoContent)
}

// ReviewDecisionRequest carries the reviewer's reasoning.
type ReviewDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AppealRequest carries the publisher's objection.
type AppealRequest struct {
	Message string `json:"message"`
}

// pendingReviewsHandler handles GET /api/v1/reviews/pending.
func (s *Server) pendingReviewsHandler(c *echo.Context) error {
	pending, err := s.reviews.Pending()
	if err != nil {
		return mapRegistryError(err)
	}
	if pending == nil {
		pending = []review.Record{}
	}
	return c.JSON(http.StatusOK, pending)
}

// approveReviewHandler handles POST /api/v1/reviews/:id/approve. An
// approved version leaves draft and becomes visible in the index.
func (s *Server) approveReviewHandler(c *echo.Context) error {
	var req ReviewDecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	record, err := s.reviews.Approve(c.Param("id"), identityFrom(c).UserID, req.Reason)
	if err != nil {
		return mapRegistryError(err)
	}
	if err := s.writer.SetVersionState(record.SkillID, manifest.StateReleased); err != nil {
		return mapRegistryError(err)
	}
	s.auditEvent(c, "review.approved", map[string]any{"review_id": record.ID, "skill": record.SkillID})
	return c.JSON(http.StatusOK, record)
}

// rejectReviewHandler handles POST /api/v1/reviews/:id/reject.
func (s *Server) rejectReviewHandler(c *echo.Context) error {
	var req ReviewDecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	record, err := s.reviews.Reject(c.Param("id"), identityFrom(c).UserID, req.Reason)
	if err != nil {
		return mapRegistryError(err)
	}
	s.auditEvent(c, "review.rejected", map[string]any{"review_id": record.ID, "skill": record.SkillID})
	return c.JSON(http.StatusOK, record)
}

// appealReviewHandler handles POST /api/v1/reviews/:id/appeal. Any
// authenticated user may appeal; the rejection stands until a reviewer
// acts again.
func (s *Server) appealReviewHandler(c *echo.Context) error {
	var req AppealRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	record, err := s.reviews.Appeal(c.Param("id"), identityFrom(c).UserID, req.Message)
	if err != nil {
		return mapRegistryError(err)
	}
	s.auditEvent(c, "review.appealed", map[string]any{"review_id": record.ID, "skill": record.SkillID})
	return c.JSON(http.StatusOK, record)
}

// exportStatisticsHandler handles GET /api/v1/statistics/export.
func (s *Server) exportStatisticsHandler(c *echo.Context) error {
	records, err := s.stats.All()
	if err != nil {
		return mapRegistryError(err)
	}

	format := c.QueryParam("format")
	switch format {
	case "", "json":
		return c.JSON(http.StatusOK, records)
	case "csv":
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		_ = w.Write([]string{"publisher", "skill", "total_downloads", "recent_downloads",
			"total_installs", "active_installs", "last_updated"})
		for _, record := range records {
			_ = w.Write([]string{
				record.Publisher,
				record.Skill,
				strconv.FormatInt(record.TotalDownloads, 10),
				strconv.FormatInt(record.RecentDownloads, 10),
				strconv.FormatInt(record.TotalInstalls, 10),
				strconv.FormatInt(record.ActiveInstalls, 10),
				record.LastUpdated.UTC().Format(time.RFC3339),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return mapRegistryError(err)
		}
		return c.Blob(http.StatusOK, "text/csv", []byte(sb.String()))
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unsupported format %q (must be json or csv)", format))
	}
}
