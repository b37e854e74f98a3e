// Package store reads scraped listing content and its media from Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no content row matches.
var ErrNotFound = errors.New("store: content not found")

// DB is the query surface used by Store. *pgxpool.Pool satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Content is a scraped listing with media counts.
type Content struct {
	ID          string
	URL         string
	Name        string
	MainImage   *string
	Description *string
	Price       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedByID *string

	ImageCount int64
	VideoCount int64
	HasImages  bool
	HasVideos  bool
}

// Media is an image or video attached to content.
type Media struct {
	ID        string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Options struct {
	MaxConns int32
	MinConns int32
}

type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Open connects a pool to databaseURL and verifies it with a ping.
func Open(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("store: database url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// New wraps an existing query surface.
func New(db DB) *Store {
	s := &Store{db: db}
	if pool, ok := db.(*pgxpool.Pool); ok {
		s.pool = pool
	}
	return s
}

// Pool returns the underlying pool, or nil when built with New over another DB.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

const (
	hasImagesSQL = `SELECT EXISTS(SELECT 1 FROM "Image" WHERE "scrapedContentId" = $1)`
	hasVideosSQL = `SELECT EXISTS(SELECT 1 FROM "Video" WHERE "scrapedContentId" = $1)`

	contentWithMediaSQL = `
SELECT sc.id, sc.url, sc.name, sc."mainImage", sc.description, sc.price,
       sc."createdAt", sc."updatedAt", sc."createdById",
       COUNT(DISTINCT i.id) AS image_count,
       COUNT(DISTINCT v.id) AS video_count
FROM "ScrapedContent" sc
LEFT JOIN "Image" i ON sc.id = i."scrapedContentId"
LEFT JOIN "Video" v ON sc.id = v."scrapedContentId"
WHERE sc.id = $1
GROUP BY sc.id, sc.url, sc.name, sc."mainImage", sc.description,
         sc.price, sc."createdAt", sc."updatedAt", sc."createdById"`

	imagesSQL = `SELECT id, url, "createdAt", "updatedAt" FROM "Image" WHERE "scrapedContentId" = $1 ORDER BY "createdAt" ASC`
	videosSQL = `SELECT id, url, "createdAt", "updatedAt" FROM "Video" WHERE "scrapedContentId" = $1 ORDER BY "createdAt" ASC`
)

func (s *Store) HasImages(ctx context.Context, contentID string) (bool, error) {
	return s.exists(ctx, hasImagesSQL, contentID)
}

func (s *Store) HasVideos(ctx context.Context, contentID string) (bool, error) {
	return s.exists(ctx, hasVideosSQL, contentID)
}

func (s *Store) exists(ctx context.Context, query, contentID string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, query, contentID).Scan(&ok); err != nil {
		return false, fmt.Errorf("store: exists query: %w", err)
	}
	return ok, nil
}

// ContentWithMedia returns the content row and its media counts.
func (s *Store) ContentWithMedia(ctx context.Context, contentID string) (Content, error) {
	var c Content
	err := s.db.QueryRow(ctx, contentWithMediaSQL, contentID).Scan(
		&c.ID, &c.URL, &c.Name, &c.MainImage, &c.Description, &c.Price,
		&c.CreatedAt, &c.UpdatedAt, &c.CreatedByID,
		&c.ImageCount, &c.VideoCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Content{}, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	if err != nil {
		return Content{}, fmt.Errorf("store: content query: %w", err)
	}
	c.HasImages = c.ImageCount > 0
	c.HasVideos = c.VideoCount > 0
	return c, nil
}

// Images returns the content's images, oldest first.
func (s *Store) Images(ctx context.Context, contentID string) ([]Media, error) {
	return s.media(ctx, imagesSQL, contentID)
}

// Videos returns the content's videos, oldest first.
func (s *Store) Videos(ctx context.Context, contentID string) ([]Media, error) {
	return s.media(ctx, videosSQL, contentID)
}

func (s *Store) media(ctx context.Context, query, contentID string) ([]Media, error) {
	rows, err := s.db.Query(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("store: media query: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Media, error) {
		var m Media
		err := row.Scan(&m.ID, &m.URL, &m.CreatedAt, &m.UpdatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan media: %w", err)
	}
	return out, nil
}
