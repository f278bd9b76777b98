package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/pkg/wayback"
)

// minArchiveBody rejects snapshots that are archive error stubs.
const minArchiveBody = 512

// ArchiveFetcher serves the closest Wayback Machine capture of a URL.
type ArchiveFetcher struct {
	client wayback.Client
	raw    Fetcher
}

// NewArchiveFetcher creates an ArchiveFetcher. raw fetches snapshot bytes;
// it must not itself fall back to the archive.
func NewArchiveFetcher(client wayback.Client, raw Fetcher) *ArchiveFetcher {
	return &ArchiveFetcher{client: client, raw: raw}
}

// Fetch returns the archived copy of targetURL.
func (a *ArchiveFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	snap, err := a.client.Closest(ctx, targetURL)
	if err != nil {
		return nil, err
	}

	rawURL := wayback.RawURL(snap.URL)
	page, err := a.raw.Fetch(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: archive snapshot %s", rawURL)
	}
	if len(page.Body) < minArchiveBody || DetectBlock(0, nil, page.Body) != BlockNone {
		return nil, eris.Wrapf(wayback.ErrNoSnapshot, "fetch: unusable snapshot %s", rawURL)
	}

	return &Page{
		URL:        targetURL,
		FinalURL:   page.FinalURL,
		StatusCode: page.StatusCode,
		Body:       page.Body,
		Stage:      model.StageArchive,
		ArchiveURL: snap.URL,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// IsNoSnapshot reports whether err means the archive had nothing usable.
func IsNoSnapshot(err error) bool {
	return errors.Is(err, wayback.ErrNoSnapshot)
}
