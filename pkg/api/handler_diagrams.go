package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// createDiagramHandler handles POST /api/diagrams.
func (s *Server) createDiagramHandler(c *gin.Context) {
	var req models.CreateDiagramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	// The identity header is authoritative; a user can only create for
	// themselves.
	req.UserID = currentUser(c)

	diagram, err := s.diagrams.Save(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, diagram)
}

// listDiagramsHandler handles GET /api/diagrams.
func (s *Server) listDiagramsHandler(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)

	result, err := s.diagrams.List(c.Request.Context(), currentUser(c), page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getDiagramHandler handles GET /api/diagrams/:id.
func (s *Server) getDiagramHandler(c *gin.Context) {
	diagram, err := s.diagrams.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if diagram.IsDeleted {
		respondError(c, http.StatusNotFound, "not_found", "diagram not found")
		return
	}
	c.JSON(http.StatusOK, diagram)
}

// updateDiagramHandler handles PUT /api/diagrams/:id.
func (s *Server) updateDiagramHandler(c *gin.Context) {
	var patch models.UpdateDiagramRequest
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	diagram, err := s.diagrams.Update(c.Request.Context(), currentUser(c), c.Param("id"), &patch)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, diagram)
}

// deleteDiagramHandler handles DELETE /api/diagrams/:id.
func (s *Server) deleteDiagramHandler(c *gin.Context) {
	if err := s.diagrams.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// pinDiagramHandler handles POST /api/diagrams/:id/pin.
// An empty body pins; {"pinned": false} unpins.
func (s *Server) pinDiagramHandler(c *gin.Context) {
	body := struct {
		Pinned *bool `json:"pinned"`
	}{}
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		respondError(c, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	pinned := true
	if body.Pinned != nil {
		pinned = *body.Pinned
	}

	diagram, err := s.diagrams.SetPinned(c.Request.Context(), currentUser(c), c.Param("id"), pinned)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, diagram)
}

// duplicateDiagramHandler handles POST /api/diagrams/:id/duplicate.
func (s *Server) duplicateDiagramHandler(c *gin.Context) {
	diagram, err := s.diagrams.Duplicate(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, diagram)
}

func queryInt(c *gin.Context, key string, defaultVal int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
