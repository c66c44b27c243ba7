package handlers

import (
	"context"
	"net/http"
	"strconv"

	"cinema-svc/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type MovieCatalog interface {
	GetMovie(ctx context.Context, movieID int64) (*models.Movie, error)
	ListMovies(ctx context.Context, page, size int) (*models.MoviePage, error)
}

type MovieHandler struct {
	catalog MovieCatalog
	logger  *zap.Logger
}

func NewMovieHandler(catalog MovieCatalog, logger *zap.Logger) *MovieHandler {
	return &MovieHandler{catalog: catalog, logger: logger}
}

func (h *MovieHandler) ListMovies(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPageSize)))
	if err != nil || size < 1 || size > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid per_page"})
		return
	}

	result, err := h.catalog.ListMovies(c.Request.Context(), page, size)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MovieHandler) GetMovie(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	movie, err := h.catalog.GetMovie(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, movie)
}
