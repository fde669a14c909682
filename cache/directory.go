package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/qodari/iam/domain"
)

// Directory is a read-through ttlcache over account and application
// lookups. Only this static client/tenant configuration is cached;
// codes, tokens, sessions, counters and MFA rows always go to the
// backing store so their security guarantees stay with it.
type Directory struct {
	accounts domain.AccountRepository
	apps     domain.ApplicationRepository

	accountsBySlug *ttlcache.Cache[string, *domain.Account]
	appsByClientID *ttlcache.Cache[string, *domain.Application]
	appsBySlug     *ttlcache.Cache[string, *domain.Application]
}

// NewDirectory creates the cache with the given entry TTL.
func NewDirectory(accounts domain.AccountRepository, apps domain.ApplicationRepository, ttl time.Duration) *Directory {
	d := &Directory{
		accounts: accounts,
		apps:     apps,
		accountsBySlug: ttlcache.New(
			ttlcache.WithTTL[string, *domain.Account](ttl),
			ttlcache.WithDisableTouchOnHit[string, *domain.Account](),
		),
		appsByClientID: ttlcache.New(
			ttlcache.WithTTL[string, *domain.Application](ttl),
			ttlcache.WithDisableTouchOnHit[string, *domain.Application](),
		),
		appsBySlug: ttlcache.New(
			ttlcache.WithTTL[string, *domain.Application](ttl),
			ttlcache.WithDisableTouchOnHit[string, *domain.Application](),
		),
	}

	go d.accountsBySlug.Start()
	go d.appsByClientID.Start()
	go d.appsBySlug.Start()

	return d
}

// AccountBySlug returns the account with the given slug.
func (d *Directory) AccountBySlug(ctx context.Context, slug string) (*domain.Account, error) {
	if item := d.accountsBySlug.Get(slug); item != nil {
		return item.Value(), nil
	}
	account, err := d.accounts.GetAccountBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	d.accountsBySlug.Set(slug, account, ttlcache.DefaultTTL)
	return account, nil
}

// AccountByID returns the account by primary id, uncached.
func (d *Directory) AccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return d.accounts.GetAccountByID(ctx, id)
}

// ApplicationByClientID returns the application registered under the
// given OAuth client id.
func (d *Directory) ApplicationByClientID(ctx context.Context, clientID string) (*domain.Application, error) {
	if item := d.appsByClientID.Get(clientID); item != nil {
		return item.Value(), nil
	}
	app, err := d.apps.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	d.appsByClientID.Set(clientID, app, ttlcache.DefaultTTL)
	return app, nil
}

// ApplicationBySlug returns the application with the given slug inside
// one account.
func (d *Directory) ApplicationBySlug(ctx context.Context, accountID, slug string) (*domain.Application, error) {
	key := accountID + "/" + slug
	if item := d.appsBySlug.Get(key); item != nil {
		return item.Value(), nil
	}
	app, err := d.apps.GetApplicationBySlug(ctx, accountID, slug)
	if err != nil {
		return nil, err
	}
	d.appsBySlug.Set(key, app, ttlcache.DefaultTTL)
	return app, nil
}

// ApplicationByID returns the application by primary id, uncached (used
// on redemption paths where the code row already names the application).
func (d *Directory) ApplicationByID(ctx context.Context, id string) (*domain.Application, error) {
	return d.apps.GetApplicationByID(ctx, id)
}
