package provider

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PageFetcher requests one page of an entity list.
type PageFetcher[T any] func(ctx context.Context, creds Credentials, page, pageSize int) ([]T, error)

type PageStats struct {
	Pages           int
	Fetched         int
	ReachedMaxPages bool
}

// FetchPages walks pages 1..MaxPages in order, handing each non-empty page to
// onPage before requesting the next. A page shorter than PageSize ends the
// walk; providers are not required to send a terminating empty page.
func FetchPages[T any](ctx context.Context, c *Client, integrationID string, fetch PageFetcher[T], onPage func(page int, items []T) error) (PageStats, error) {
	var stats PageStats
	pageSize := c.cfg.PageSize

	for page := 1; page <= c.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		items, err := Execute(ctx, c, integrationID, func(ctx context.Context, creds Credentials) ([]T, error) {
			return fetch(ctx, creds, page, pageSize)
		})
		if err != nil {
			return stats, err
		}

		stats.Pages++
		stats.Fetched += len(items)

		if len(items) > 0 {
			if err := onPage(page, items); err != nil {
				return stats, err
			}
		}

		if len(items) < pageSize {
			return stats, nil
		}
	}

	stats.ReachedMaxPages = true
	c.log.WithFields(logrus.Fields{
		"integration_id": integrationID,
		"max_pages":      c.cfg.MaxPages,
		"fetched":        stats.Fetched,
	}).Warn("Stopped paging at max pages, provider kept returning full pages")
	return stats, nil
}
