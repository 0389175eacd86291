package doctor

import (
	"context"
	"fmt"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// SnapshotCache is the part of the snapshot store the cache check needs.
type SnapshotCache interface {
	Scan(ctx context.Context) (ok, corrupt []chat.RoomID, err error)
	Delete(ctx context.Context, id chat.RoomID) error
}

// CacheCheck detects room snapshots that can no longer be read. An unreadable
// snapshot makes every session start with an empty cache.
type CacheCheck struct {
	cache SnapshotCache
	fix   bool
}

// NewCacheCheck creates a new room cache check.
// If fix is true, unreadable snapshots are deleted.
func NewCacheCheck(cache SnapshotCache, fix bool) *CacheCheck {
	return &CacheCheck{cache: cache, fix: fix}
}

func (c *CacheCheck) Name() string {
	return "Room Cache"
}

func (c *CacheCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	ok, corrupt, err := c.cache.Scan(ctx)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Read cache",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	if len(corrupt) == 0 {
		detail := "no rooms cached yet"
		if len(ok) > 0 {
			detail = fmt.Sprintf("%d room(s) cached", len(ok))
		}
		result.Items = append(result.Items, CheckItem{
			Label:  "Snapshots readable",
			Status: StatusPass,
			Detail: detail,
		})
		return result
	}

	for _, id := range corrupt {
		label := fmt.Sprintf("room %d", id)

		if !c.fix {
			result.Items = append(result.Items, CheckItem{
				Label:   label,
				Status:  StatusWarn,
				Detail:  "unreadable snapshot",
				Fixable: true,
			})
			continue
		}

		if err := c.cache.Delete(ctx, id); err != nil {
			result.Items = append(result.Items, CheckItem{
				Label:  label,
				Status: StatusFail,
				Detail: fmt.Sprintf("failed to delete: %v", err),
			})
		} else {
			result.Items = append(result.Items, CheckItem{
				Label:  label,
				Status: StatusPass,
				Detail: "deleted unreadable snapshot",
			})
		}
	}

	return result
}
