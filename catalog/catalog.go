package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cinema-svc/cache"
	"cinema-svc/circuitbreaker"
	"cinema-svc/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const movieColumns = "m.id, m.uuid, m.name, m.year, m.time, m.imdb, m.votes, m.meta_score, m.gross, " +
	"m.description, m.price, c.name AS certification"

type MovieCache interface {
	GetPrice(ctx context.Context, movieID int64) (decimal.Decimal, error)
	SetPrice(ctx context.Context, movieID int64, price decimal.Decimal) error
	GetMovie(ctx context.Context, movieID int64, dest any) error
	SetMovie(ctx context.Context, movieID int64, movie any) error
}

// Catalog is the read side of the movie catalog. Prices are served from the
// cache when possible; concurrent misses for one movie share a single query.
type Catalog struct {
	db      *sqlx.DB
	cache   MovieCache
	breaker *circuitbreaker.CircuitBreaker
	group   singleflight.Group
	logger  *zap.Logger
	tracer  trace.Tracer
}

func New(db *sqlx.DB, movieCache MovieCache, logger *zap.Logger) *Catalog {
	return &Catalog{
		db:    db,
		cache: movieCache,
		breaker: circuitbreaker.New("catalog", 5, 30*time.Second,
			circuitbreaker.WithLogger(logger),
			circuitbreaker.WithFailurePredicate(func(err error) bool {
				return !errors.Is(err, models.ErrMovieNotFound)
			}),
		),
		logger: logger,
		tracer: otel.Tracer("cinema-svc/catalog"),
	}
}

// CurrentPrice returns the movie's price right now, or models.ErrMovieNotFound.
func (c *Catalog) CurrentPrice(ctx context.Context, movieID int64) (decimal.Decimal, error) {
	ctx, span := c.tracer.Start(ctx, "CurrentPrice")
	defer span.End()
	span.SetAttributes(attribute.Int64("movie.id", movieID))

	price, err := c.cache.GetPrice(ctx, movieID)
	if err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return price, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("Price cache unavailable", zap.Int64("movie_id", movieID), zap.Error(err))
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	v, err, shared := c.group.Do("price:"+strconv.FormatInt(movieID, 10), func() (any, error) {
		var price decimal.Decimal
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			err := c.db.GetContext(ctx, &price, "SELECT price FROM movies WHERE id = $1", movieID)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("movie %d: %w", movieID, models.ErrMovieNotFound)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := c.cache.SetPrice(ctx, movieID, price); err != nil {
			c.logger.Warn("Failed to cache price", zap.Int64("movie_id", movieID), zap.Error(err))
		}
		return price, nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrMovieNotFound) {
			span.RecordError(err)
		}
		return decimal.Zero, err
	}
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	return v.(decimal.Decimal), nil
}

func (c *Catalog) GetMovie(ctx context.Context, movieID int64) (*models.Movie, error) {
	ctx, span := c.tracer.Start(ctx, "GetMovie")
	defer span.End()
	span.SetAttributes(attribute.Int64("movie.id", movieID))

	var movie models.Movie
	if err := c.cache.GetMovie(ctx, movieID, &movie); err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &movie, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.db.GetContext(ctx, &movie,
			"SELECT "+movieColumns+" FROM movies m JOIN certifications c ON c.id = m.certification_id WHERE m.id = $1",
			movieID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("movie %d: %w", movieID, models.ErrMovieNotFound)
		}
		if err != nil {
			return err
		}
		return c.loadCredits(ctx, &movie)
	})
	if err != nil {
		if !errors.Is(err, models.ErrMovieNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	if err := c.cache.SetMovie(ctx, movieID, movie); err != nil {
		c.logger.Warn("Failed to cache movie", zap.Int64("movie_id", movieID), zap.Error(err))
	}
	return &movie, nil
}

func (c *Catalog) loadCredits(ctx context.Context, movie *models.Movie) error {
	movie.Genres = []string{}
	movie.Stars = []string{}
	movie.Directors = []string{}
	queries := []struct {
		dest  *[]string
		query string
	}{
		{&movie.Genres, "SELECT g.name FROM genres g JOIN movie_genres mg ON mg.genre_id = g.id WHERE mg.movie_id = $1 ORDER BY g.name"},
		{&movie.Stars, "SELECT s.name FROM stars s JOIN movie_stars ms ON ms.star_id = s.id WHERE ms.movie_id = $1 ORDER BY s.name"},
		{&movie.Directors, "SELECT d.name FROM directors d JOIN movie_directors md ON md.director_id = d.id WHERE md.movie_id = $1 ORDER BY d.name"},
	}
	for _, q := range queries {
		if err := c.db.SelectContext(ctx, q.dest, q.query, movie.ID); err != nil {
			return fmt.Errorf("failed to load credits for movie %d: %w", movie.ID, err)
		}
	}
	return nil
}

// ListMovies returns one page of the catalog, newest first. Pages start at 1.
func (c *Catalog) ListMovies(ctx context.Context, page, size int) (*models.MoviePage, error) {
	ctx, span := c.tracer.Start(ctx, "ListMovies")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("per_page", size))

	result := &models.MoviePage{Movies: []models.Movie{}, Page: page, Size: size}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.db.GetContext(ctx, &result.Total, "SELECT COUNT(*) FROM movies"); err != nil {
			return err
		}
		return c.db.SelectContext(ctx, &result.Movies,
			"SELECT "+movieColumns+" FROM movies m JOIN certifications c ON c.id = m.certification_id ORDER BY m.id DESC LIMIT $1 OFFSET $2",
			size, (page-1)*size)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}

	span.SetAttributes(attribute.Int("movies.count", len(result.Movies)))
	return result, nil
}
