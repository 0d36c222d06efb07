package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type pagesRequest struct {
	Pages *int64 `json:"pages"`
}

func (s *Server) GetCurrentUsage(c *gin.Context) {
	usage, err := s.usagesvc.GetCurrent(c.Request.Context(), userIDParam(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func (s *Server) CheckQuota(c *gin.Context) {
	pages, ok := bindPages(c)
	if !ok {
		return
	}

	result, err := s.usagesvc.CheckQuota(c.Request.Context(), userIDParam(c), pages)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) IncrementUsage(c *gin.Context) {
	pages, ok := bindPages(c)
	if !ok {
		return
	}

	usage, err := s.usagesvc.Increment(c.Request.Context(), userIDParam(c), pages)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func userIDParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("user_id"))
}

func bindPages(c *gin.Context) (int64, bool) {
	var req pagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return 0, false
	}
	if req.Pages == nil {
		AbortWithError(c, newValidationError("pages", "required", "pages is required"))
		return 0, false
	}
	c.Set("requested_pages", *req.Pages)
	return *req.Pages, true
}
