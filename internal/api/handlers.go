package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hiermem/hiermem/internal/store"
)

// blockView is the JSON shape of a memory block in API responses
type blockView struct {
	ID            string               `json:"id"`
	Content       string               `json:"content"`
	Tokens        int                  `json:"tokens"`
	Timestamp     float64              `json:"timestamp"`
	Significance  string               `json:"significance_type"`
	Tier          string               `json:"tier"`
	IsNexus       bool                 `json:"is_nexus"`
	AccessCount   int                  `json:"access_count"`
	W3WReference  []string             `json:"w3w_reference"`
	References    store.References     `json:"references"`
	NexusMetadata *store.NexusMetadata `json:"nexus_metadata,omitempty"`
}

func viewOf(b *store.Block) blockView {
	return blockView{
		ID:            b.ID,
		Content:       b.Content,
		Tokens:        b.Tokens,
		Timestamp:     b.Timestamp,
		Significance:  b.Significance.String(),
		Tier:          b.Tier.String(),
		IsNexus:       b.IsNexus,
		AccessCount:   b.AccessCount,
		W3WReference:  b.W3WReference,
		References:    b.References,
		NexusMetadata: b.NexusMetadata,
	}
}

func viewsOf(blocks []*store.Block) []blockView {
	views := make([]blockView, 0, len(blocks))
	for _, b := range blocks {
		views = append(views, viewOf(b))
	}
	return views
}

// healthHandler reports server liveness
func (s *Server) healthHandler(c *gin.Context) {
	SuccessResponse(c, "ok", gin.H{"profile": s.config.Profile})
}

type createMemoryRequest struct {
	Content      string `json:"content" binding:"required"`
	Significance string `json:"significance"`
}

// createMemory stores a new memory block
func (s *Server) createMemory(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "content is required")
		return
	}

	significance := store.SignificanceUser
	if req.Significance != "" {
		parsed, err := store.ParseSignificance(req.Significance)
		if err != nil {
			BadRequestError(c, err.Error())
			return
		}
		significance = parsed
	}

	id, err := s.engine.AddMemory(req.Content, significance)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	CreatedResponse(c, "memory stored", gin.H{"id": id})
}

// searchMemories handles GET /memories/search?q=...&include_archived=...
func (s *Server) searchMemories(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		BadRequestError(c, "query parameter 'q' is required")
		return
	}

	includeArchived := c.DefaultQuery("include_archived", "true") != "false"

	results, err := s.engine.SearchMemory(query, includeArchived)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	SuccessResponse(c, "search complete", gin.H{
		"count":   len(results),
		"results": viewsOf(results),
	})
}

// getMemory returns a single block by id
func (s *Server) getMemory(c *gin.Context) {
	block, err := s.engine.GetMemoryByID(c.Param("id"))
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	if block == nil {
		NotFoundError(c, "memory not found")
		return
	}

	SuccessResponse(c, "memory found", viewOf(block))
}

// getRelated returns the blocks related to a given block
func (s *Server) getRelated(c *gin.Context) {
	results, err := s.engine.GetRelatedMemories(c.Param("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			NotFoundError(c, err.Error())
			return
		}
		InternalError(c, err.Error())
		return
	}

	SuccessResponse(c, "related memories", gin.H{
		"count":   len(results),
		"results": viewsOf(results),
	})
}

type w3wLookupRequest struct {
	Words []string `json:"words" binding:"required"`
}

// lookupByW3W returns blocks matching all given w3w words
func (s *Server) lookupByW3W(c *gin.Context) {
	var req w3wLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Words) == 0 {
		BadRequestError(c, "words list is required")
		return
	}

	results, err := s.engine.LookupByW3W(req.Words)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	SuccessResponse(c, "w3w lookup complete", gin.H{
		"count":   len(results),
		"results": viewsOf(results),
	})
}

// getNexusPoints returns the current nexus point population
func (s *Server) getNexusPoints(c *gin.Context) {
	points, err := s.engine.GetNexusPoints()
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	SuccessResponse(c, "nexus points", gin.H{
		"count":   len(points),
		"results": viewsOf(points),
	})
}

// getStats returns the composite engine statistics
func (s *Server) getStats(c *gin.Context) {
	memoryStats, err := s.engine.GetMemoryStats()
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	SuccessResponse(c, "memory stats", memoryStats)
}

// runMaintenance triggers a maintenance pass
func (s *Server) runMaintenance(c *gin.Context) {
	if err := s.engine.MaintainSystem(); err != nil {
		InternalError(c, err.Error())
		return
	}

	SuccessResponse(c, "maintenance complete", nil)
}
