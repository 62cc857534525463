// Package scenarios holds the scripted simulated users a run can load.
package scenarios

import (
	"context"

	"github.com/wesleyorama2/storeload/internal/loadtest"
	"github.com/wesleyorama2/storeload/internal/storefront"
)

// Page is the storefront surface scripted users drive.
type Page interface {
	GoToListing(ctx context.Context) error
	ViewProducts(ctx context.Context, n int) error
	GoToNextPage(ctx context.Context) error
	SelectSorting(ctx context.Context) error
	AddPropertyFilter(ctx context.Context) error
	DoSearch(ctx context.Context) error
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	AddAdvertisement(ctx context.Context) error
	InstantOrder(ctx context.Context) error
}

// PageFactory creates a page helper bound to one virtual user.
type PageFactory func(vu *loadtest.VirtualUser) Page

// StorefrontPages returns a factory for page helpers that share fixtures
// and use each user's own client and random source.
func StorefrontPages(fixtures *storefront.Context) PageFactory {
	return func(vu *loadtest.VirtualUser) Page {
		return storefront.New(vu.Client, fixtures, vu.Rand())
	}
}

var _ Page = (*storefront.Storefront)(nil)
