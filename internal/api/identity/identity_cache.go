package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/patrickmn/go-cache"

	"github.com/rmendes/go-sso-identity/app/observability/metrics"
	"github.com/rmendes/go-sso-identity/config"
	"github.com/rmendes/go-sso-identity/internal/types"
)

var _ Repo = (*CachedRepo)(nil)

// CachedRepo decorates a Repo with read-through caches for users, groups and
// the membership edges between them. The store remains the single source of
// truth; cache entries are a TTL-bounded view owned by this instance.
//
// The identity-resolution path (GetUserByEmailAndProvider) and the uniqueness
// sensitive name lookups always consult the store first, so the cache can
// never answer a question that requires the latest committed state.
type CachedRepo struct {
	logger *slog.Logger
	store  Repo

	users      *cache.Cache // user id -> *types.User
	groups     *cache.Cache // group id -> *types.Group
	userGroups *cache.Cache // user id -> []int64 group ids
	groupUsers *cache.Cache // group id -> []int64 user ids
}

func NewCachedRepo(store Repo, cfg config.CacheConfig, logger *slog.Logger) *CachedRepo {
	return &CachedRepo{
		logger:     logger,
		store:      store,
		users:      cache.New(cfg.TTL, cfg.CleanupInterval),
		groups:     cache.New(cfg.TTL, cfg.CleanupInterval),
		userGroups: cache.New(cfg.TTL, cfg.CleanupInterval),
		groupUsers: cache.New(cfg.TTL, cfg.CleanupInterval),
	}
}

func cacheKey(id int64) string { return strconv.FormatInt(id, 10) }

func (c *CachedRepo) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	key := cacheKey(id)
	if cached, found := c.users.Get(key); found {
		if user, ok := cached.(*types.User); ok {
			metrics.App().CacheHitsTotal.Add(ctx, 1)
			return user, nil
		}
	}
	metrics.App().CacheMissesTotal.Add(ctx, 1)

	user, err := c.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.users.Set(key, user, cache.DefaultExpiration)
	return user, nil
}

// GetUserByUsername goes straight to the store's index and primes the id
// cache on the way back. The cache holds only ids it has already seen, so
// scanning it first could not answer authoritatively anyway.
func (c *CachedRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	user, err := c.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	c.users.Set(cacheKey(user.ID), user, cache.DefaultExpiration)
	return user, nil
}

// GetUserByEmailAndProvider always reads the store so concurrent first
// logins cannot resolve against a stale view. The id cache is populated
// only after the store has answered.
func (c *CachedRepo) GetUserByEmailAndProvider(ctx context.Context, email, provider string) (*types.User, error) {
	user, err := c.store.GetUserByEmailAndProvider(ctx, email, provider)
	if err != nil {
		return nil, err
	}
	c.users.Set(cacheKey(user.ID), user, cache.DefaultExpiration)
	return user, nil
}

func (c *CachedRepo) CreateUser(ctx context.Context, params types.UserCreateParams) (*types.User, error) {
	user, err := c.store.CreateUser(ctx, params)
	if err != nil {
		return nil, err
	}
	key := cacheKey(user.ID)
	c.users.Set(key, user, cache.DefaultExpiration)
	c.userGroups.Set(key, []int64{}, cache.DefaultExpiration)
	return user, nil
}

// DeleteUser cascades at the store, then synchronously purges every cache
// that might reference the id so no stale edges survive.
func (c *CachedRepo) DeleteUser(ctx context.Context, id int64) error {
	if err := c.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	key := cacheKey(id)
	c.users.Delete(key)
	c.userGroups.Delete(key)
	for groupKey, item := range c.groupUsers.Items() {
		if ids, ok := item.Object.([]int64); ok {
			c.groupUsers.Set(groupKey, removeID(ids, id), cache.DefaultExpiration)
		}
	}
	return nil
}

func (c *CachedRepo) UpdateLastSeen(ctx context.Context, id int64) error {
	if err := c.store.UpdateLastSeen(ctx, id); err != nil {
		return err
	}
	// Drop the cached copy rather than patching timestamps locally.
	c.users.Delete(cacheKey(id))
	return nil
}

// GetUserRoles is authoritative against the store. Roles change rarely and
// are read mostly inside token issuance, so they are not cached here.
func (c *CachedRepo) GetUserRoles(ctx context.Context, id int64) ([]string, error) {
	return c.store.GetUserRoles(ctx, id)
}

func (c *CachedRepo) AssignRole(ctx context.Context, userID int64, roleName string) error {
	return c.store.AssignRole(ctx, userID, roleName)
}

func (c *CachedRepo) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	group, err := c.store.CreateGroup(ctx, name)
	if err != nil {
		return nil, err
	}
	key := cacheKey(group.ID)
	c.groups.Set(key, group, cache.DefaultExpiration)
	c.groupUsers.Set(key, []int64{}, cache.DefaultExpiration)
	return group, nil
}

func (c *CachedRepo) GetGroupByID(ctx context.Context, id int64) (*types.Group, error) {
	key := cacheKey(id)
	if cached, found := c.groups.Get(key); found {
		if group, ok := cached.(*types.Group); ok {
			metrics.App().CacheHitsTotal.Add(ctx, 1)
			return group, nil
		}
	}
	metrics.App().CacheMissesTotal.Add(ctx, 1)

	group, err := c.store.GetGroupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.groups.Set(key, group, cache.DefaultExpiration)
	return group, nil
}

// GetGroupByName hits the store's index directly, same reasoning as
// GetUserByUsername.
func (c *CachedRepo) GetGroupByName(ctx context.Context, name string) (*types.Group, error) {
	group, err := c.store.GetGroupByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.groups.Set(cacheKey(group.ID), group, cache.DefaultExpiration)
	return group, nil
}

func (c *CachedRepo) DeleteGroup(ctx context.Context, id int64) error {
	if err := c.store.DeleteGroup(ctx, id); err != nil {
		return err
	}
	key := cacheKey(id)
	c.groups.Delete(key)
	c.groupUsers.Delete(key)
	for userKey, item := range c.userGroups.Items() {
		if ids, ok := item.Object.([]int64); ok {
			c.userGroups.Set(userKey, removeID(ids, id), cache.DefaultExpiration)
		}
	}
	return nil
}

// AddUserToGroup lets the store arbitrate, then drops both relation lists so
// the next read re-fetches the committed edges. Get-then-Set patching would
// let two concurrent writes on the same key lose one patch; deleting the key
// makes the compound update exclusive.
func (c *CachedRepo) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	if err := c.store.AddUserToGroup(ctx, userID, groupID); err != nil {
		return err
	}
	c.userGroups.Delete(cacheKey(userID))
	c.groupUsers.Delete(cacheKey(groupID))
	return nil
}

func (c *CachedRepo) RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error {
	if err := c.store.RemoveUserFromGroup(ctx, userID, groupID); err != nil {
		return err
	}
	c.userGroups.Delete(cacheKey(userID))
	c.groupUsers.Delete(cacheKey(groupID))
	return nil
}

func (c *CachedRepo) GetUserGroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	key := cacheKey(userID)
	if cached, found := c.userGroups.Get(key); found {
		if ids, ok := cached.([]int64); ok {
			metrics.App().CacheHitsTotal.Add(ctx, 1)
			return ids, nil
		}
	}
	metrics.App().CacheMissesTotal.Add(ctx, 1)

	ids, err := c.store.GetUserGroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.userGroups.Set(key, ids, cache.DefaultExpiration)
	return ids, nil
}

func (c *CachedRepo) GetGroupUserIDs(ctx context.Context, groupID int64) ([]int64, error) {
	key := cacheKey(groupID)
	if cached, found := c.groupUsers.Get(key); found {
		if ids, ok := cached.([]int64); ok {
			metrics.App().CacheHitsTotal.Add(ctx, 1)
			return ids, nil
		}
	}
	metrics.App().CacheMissesTotal.Add(ctx, 1)

	ids, err := c.store.GetGroupUserIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c.groupUsers.Set(key, ids, cache.DefaultExpiration)
	return ids, nil
}

// GetUserGroups resolves the user's membership edges to full group records.
func (c *CachedRepo) GetUserGroups(ctx context.Context, userID int64) ([]types.Group, error) {
	ids, err := c.GetUserGroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make([]types.Group, 0, len(ids))
	for _, id := range ids {
		group, err := c.GetGroupByID(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		groups = append(groups, *group)
	}
	return groups, nil
}

// GetGroupUsers resolves a group's membership edges to full user records.
func (c *CachedRepo) GetGroupUsers(ctx context.Context, groupID int64) ([]*types.User, error) {
	ids, err := c.GetGroupUserIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	users := make([]*types.User, 0, len(ids))
	for _, id := range ids {
		user, err := c.GetUserByID(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// removeID copies before filtering so cached slices are never written while
// a concurrent reader holds them.
func removeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
