package itemdb

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultCacheSize = 4096

type hashResult struct {
	item  *Item
	extra *ExtraInfo
}

// Postgres is a Database backed by a PostgreSQL item table.
//
// Expected schema:
//
//	items(id text primary key, name text, short_name text, width int,
//	      height int, background_color text, category text)
//	icon_hashes(hash text primary key, item_id text, mods text[], meta text)
type Postgres struct {
	pool   *pgxpool.Pool
	items  *lru.Cache[string, *Item]
	hashes *lru.Cache[string, hashResult]
}

// NewPostgres connects to the database at connString.
func NewPostgres(ctx context.Context, connString string, cacheSize int) (*Postgres, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	items, err := lru.New[string, *Item](cacheSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	hashes, err := lru.New[string, hashResult](cacheSize)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool, items: items, hashes: hashes}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// GetItem implements Database.
func (p *Postgres) GetItem(ctx context.Context, id string) (*Item, error) {
	if it, ok := p.items.Get(id); ok {
		return it, nil
	}

	var (
		it       Item
		category string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, short_name, width, height, background_color, category
		 FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Name, &it.ShortName, &it.Width, &it.Height, &it.BackgroundColor, &category)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item %s: %w", id, err)
	}
	// An unknown category is not fatal for matching.
	it.Category, _ = ParseCategory(category)

	p.items.Add(id, &it)
	return &it, nil
}

// ResolveHash implements Database.
func (p *Postgres) ResolveHash(ctx context.Context, hash string) (*Item, *ExtraInfo, error) {
	if r, ok := p.hashes.Get(hash); ok {
		return r.item, r.extra, nil
	}

	var (
		itemID string
		extra  ExtraInfo
	)
	err := p.pool.QueryRow(ctx,
		`SELECT item_id, coalesce(mods, '{}'), coalesce(meta, '') FROM icon_hashes WHERE hash = $1`, hash).
		Scan(&itemID, &extra.Mods, &extra.Meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: hash %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query icon hash %s: %w", hash, err)
	}

	it, err := p.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	p.hashes.Add(hash, hashResult{item: it, extra: &extra})
	return it, &extra, nil
}
