package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/data/repos"
	"github.com/yungbote/neurobridge-backend/internal/http/response"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

// SiteHandler exposes read-only access to the Site State Store -- an
// operator or dashboard checking a subdomain's current stage, counters,
// and last error without querying Postgres directly.
type SiteHandler struct {
	sites repos.SiteStore
}

func NewSiteHandler(sites repos.SiteStore) *SiteHandler {
	return &SiteHandler{sites: sites}
}

// GET /sites/:subdomain
func (h *SiteHandler) GetSite(c *gin.Context) {
	subdomain := c.Param("subdomain")
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	site, err := h.sites.Get(dbc, subdomain)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "site_lookup_failed", err)
		return
	}
	if site == nil {
		response.RespondError(c, http.StatusNotFound, "site_not_found", nil)
		return
	}
	response.RespondOK(c, gin.H{"site": site})
}

// GET /sites
// Lists sites ordered oldest-updated-first, the same ordering the
// reconciler sweeps in, so an operator sees the sites most overdue for
// attention first.
func (h *SiteHandler) ListSites(c *gin.Context) {
	limit := 100
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	sites, err := h.sites.OldestByUpdatedAt(dbc, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "site_list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"sites": sites})
}
