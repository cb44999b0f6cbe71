package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CachedRepo is a read-through Redis cache in front of another Repository.
// Only single-product reads are cached; they are what checkout prices from.
// Writes go to the backing repository first and then drop the cached entry.
type CachedRepo struct {
	Repository
	client  *redis.Client
	baseTTL time.Duration
	group   singleflight.Group
}

func NewCachedRepo(next Repository, client *redis.Client, ttl time.Duration) *CachedRepo {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepo{Repository: next, client: client, baseTTL: ttl}
}

func cacheKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func (r *CachedRepo) GetByID(ctx context.Context, id int64) (*Product, error) {
	if p, err := r.get(ctx, id); err == nil {
		return p, nil
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[catalog] cache read id=%d: %v", id, err)
	}

	v, err, _ := r.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		p, err := r.Repository.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := r.set(ctx, p); err != nil {
			log.Printf("[catalog] cache write id=%d: %v", id, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*Product)
	return &cp, nil
}

func (r *CachedRepo) Update(ctx context.Context, id int64, in UpdateProductRequest) (*Product, error) {
	p, err := r.Repository.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, id)
	return p, nil
}

func (r *CachedRepo) Delete(ctx context.Context, id int64) (bool, error) {
	ok, err := r.Repository.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	r.invalidate(ctx, id)
	return ok, nil
}

func (r *CachedRepo) get(ctx context.Context, id int64) (*Product, error) {
	data, err := r.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product failed: %w", err)
	}
	return &p, nil
}

func (r *CachedRepo) set(ctx context.Context, p *Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product failed: %w", err)
	}
	jitter := time.Duration(rand.Int63n(int64(r.baseTTL/5) + 1))
	if err := r.client.Set(ctx, cacheKey(p.ID), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *CachedRepo) invalidate(ctx context.Context, id int64) {
	if err := r.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		log.Printf("[catalog] cache invalidate id=%d: %v", id, err)
	}
}
