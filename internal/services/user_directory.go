package services

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// UserDirectory resolves a user ID to a delivery address
type UserDirectory interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// AccountLookup reads an address from the account table
type AccountLookup interface {
	LookupEmail(ctx context.Context, userID string) (string, error)
}

// AccountDirectory caches account lookups for the lifetime of a few runs.
// When override is set every user resolves to it.
type AccountDirectory struct {
	lookup   AccountLookup
	override string
	cache    *cache.Cache
}

// NewAccountDirectory creates a directory with the given cache TTL
func NewAccountDirectory(lookup AccountLookup, override string, ttl time.Duration) *AccountDirectory {
	return &AccountDirectory{
		lookup:   lookup,
		override: override,
		cache:    cache.New(ttl, 2*ttl),
	}
}

// EmailFor returns the address for userID
func (d *AccountDirectory) EmailFor(ctx context.Context, userID string) (string, error) {
	if d.override != "" {
		return d.override, nil
	}

	if cached, ok := d.cache.Get(userID); ok {
		return cached.(string), nil
	}

	email, err := d.lookup.LookupEmail(ctx, userID)
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", fmt.Errorf("account %s has no email address", userID)
	}

	d.cache.SetDefault(userID, email)
	return email, nil
}
