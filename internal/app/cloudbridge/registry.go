package cloudbridge

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

var (
	ErrUnknownFarm = errors.New("unknown farm")
	ErrBadSecret   = errors.New("farm secret mismatch")
)

const DefaultRegistryTTL = 5 * time.Minute

// FarmLookup is the part of the cloud store the registry reads.
type FarmLookup interface {
	LookupFarm(ctx context.Context, id domain.FarmID) (domain.Farm, bool, error)
}

type cachedFarm struct {
	farm  domain.Farm
	known bool
}

// Registry answers "is this a provisioned farm" for every inbound message and
// request. Lookups, including misses, are cached so stale devices do not
// reach the database on every message.
type Registry struct {
	store FarmLookup
	cache *cache.Cache
}

func NewRegistry(store FarmLookup, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &Registry{store: store, cache: cache.New(ttl, 2*ttl)}
}

func (r *Registry) Lookup(ctx context.Context, id domain.FarmID) (domain.Farm, bool, error) {
	if id == "" {
		return domain.Farm{}, false, nil
	}
	if v, ok := r.cache.Get(string(id)); ok {
		c := v.(cachedFarm)
		return c.farm, c.known, nil
	}
	farm, known, err := r.store.LookupFarm(ctx, id)
	if err != nil {
		return domain.Farm{}, false, err
	}
	r.cache.Set(string(id), cachedFarm{farm: farm, known: known}, cache.DefaultExpiration)
	return farm, known, nil
}

// Authenticate checks the shared secret against the farm's bcrypt hash.
func (r *Registry) Authenticate(ctx context.Context, id domain.FarmID, secret string) (domain.Farm, error) {
	farm, known, err := r.Lookup(ctx, id)
	if err != nil {
		return domain.Farm{}, err
	}
	if !known {
		return domain.Farm{}, ErrUnknownFarm
	}
	if secret == "" || bcrypt.CompareHashAndPassword([]byte(farm.SecretHash), []byte(secret)) != nil {
		return domain.Farm{}, ErrBadSecret
	}
	return farm, nil
}

// Invalidate drops a cached entry, e.g. after a farm was provisioned.
func (r *Registry) Invalidate(id domain.FarmID) {
	r.cache.Delete(string(id))
}

// HashSecret produces the value stored in the farms table for a new secret.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

var _ FarmLookup = (ports.CloudStore)(nil)
