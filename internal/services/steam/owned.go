package steam

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"keyredeem/internal/logging"
	"keyredeem/internal/ownership"
)

type userData struct {
	OwnedApps     []int64 `json:"rgOwnedApps"`
	OwnedPackages []int64 `json:"rgOwnedPackages"`
}

type appListReply struct {
	Response struct {
		Apps []struct {
			AppID int64  `json:"appid"`
			Name  string `json:"name"`
		} `json:"apps"`
		HaveMoreResults bool  `json:"have_more_results"`
		LastAppID       int64 `json:"last_appid"`
	} `json:"response"`
}

type appDetail struct {
	Success bool `json:"success"`
	Data    struct {
		Name string `json:"name"`
	} `json:"data"`
}

// OwnedApps returns the account's owned apps keyed by id. Names come from
// the store catalog when an API key is configured; apps missing from it are
// looked up one by one. Apps whose names cannot be resolved are left out.
func (c *Client) OwnedApps(ctx context.Context) (ownership.Catalog, error) {
	var ud userData
	if err := c.getJSON(ctx, c.store.String()+userDataPath, &ud); err != nil {
		return nil, err
	}
	owned := make(map[int64]struct{}, len(ud.OwnedApps))
	for _, id := range ud.OwnedApps {
		owned[id] = struct{}{}
	}

	names := make(map[int64]string)
	if c.apiKey != "" {
		if err := c.appList(ctx, owned, names); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.WarnWithContext(c.logger, "store catalog fetch failed", "steam_applist_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check steam.api_key"),
				logging.String(logging.FieldImpact, "owned app names are looked up individually"))
		}
	}

	var missing []int64
	for _, id := range ud.OwnedApps {
		if _, ok := names[id]; !ok {
			missing = append(missing, id)
		}
	}
	if err := c.appDetails(ctx, missing, names); err != nil {
		return nil, err
	}

	catalog := make(ownership.Catalog, len(names))
	for id, name := range names {
		catalog[id] = name
	}
	if unresolved := len(ud.OwnedApps) - len(catalog); unresolved > 0 {
		c.logger.Warn("some owned apps have no resolvable name",
			logging.Int("unresolved", unresolved),
			logging.String(logging.FieldEventType, "steam_unresolved_apps"),
			logging.String(logging.FieldImpact, "those titles cannot be matched by name"))
	}
	return catalog, nil
}

func (c *Client) appList(ctx context.Context, owned map[int64]struct{}, names map[int64]string) error {
	var last int64
	for {
		q := url.Values{
			"key":              {c.apiKey},
			"max_results":      {strconv.Itoa(appListPageSize)},
			"last_appid":       {itoa(last)},
			"include_dlc":      {"true"},
			"include_software": {"true"},
			"include_hardware": {"true"},
		}
		var page appListReply
		if err := c.getJSON(ctx, c.api.String()+appListPath+"?"+q.Encode(), &page); err != nil {
			return err
		}
		for _, app := range page.Response.Apps {
			if _, ok := owned[app.AppID]; ok {
				names[app.AppID] = app.Name
			}
		}
		if !page.Response.HaveMoreResults || len(page.Response.Apps) == 0 {
			return nil
		}
		last = page.Response.LastAppID
	}
}

func (c *Client) appDetails(ctx context.Context, ids []int64, names map[int64]string) error {
	if len(ids) == 0 {
		return nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.detailConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			key := itoa(id)
			var reply map[string]appDetail
			if err := c.getJSON(gctx, c.store.String()+appDetailsPath+"?appids="+key, &reply); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Debug("app detail lookup failed", logging.Int64("app_id", id), logging.Error(err))
				return nil
			}
			if d, ok := reply[key]; ok && d.Success && d.Data.Name != "" {
				mu.Lock()
				names[id] = d.Data.Name
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}
