package scenarios

import (
	"context"
	"errors"
	"time"

	"github.com/wesleyorama2/storeload/internal/loadtest"
)

// NvidiaBenchmarkName is the registry name of the launch-day benchmark.
const NvidiaBenchmarkName = "nvidia-benchmark"

// pageKey is the VU data key holding a customer's page helper.
const pageKey = "page"

// Visitor and Nvidia weights give 20 buying customers per browsing visitor.
const (
	VisitorWeight = 1
	NvidiaWeight  = 20
)

// Visitor wait bounds between two listing tasks.
const (
	VisitorMinWait = 2 * time.Second
	VisitorMaxWait = 5 * time.Second
)

var errNoPage = errors.New("scenarios: page helper not initialized")

func init() {
	Register(Script{
		Name:        NvidiaBenchmarkName,
		Description: "Product launch: anonymous shoppers browse listings while registered customers rush to buy the advertised product.",
		UserTypes:   NvidiaBenchmark,
	})
}

// NvidiaBenchmark returns the Visitor and Nvidia user types.
func NvidiaBenchmark(newPage PageFactory) []*loadtest.UserType {
	return []*loadtest.UserType{Visitor(newPage), Nvidia(newPage)}
}

// Visitor browses anonymously: listings, pagination, sorting, filters,
// search and product pages. Every iteration starts with a fresh page helper.
func Visitor(newPage PageFactory) *loadtest.UserType {
	return &loadtest.UserType{
		Name:     "Visitor",
		Weight:   VisitorWeight,
		WaitTime: loadtest.Between(VisitorMinWait, VisitorMaxWait),
		Tasks: []loadtest.Task{
			{Name: "listing", Fn: listing(newPage)},
		},
	}
}

func listing(newPage PageFactory) loadtest.TaskFunc {
	return func(ctx context.Context, vu *loadtest.VirtualUser) error {
		page := newPage(vu)
		return run(ctx,
			page.GoToListing,
			viewProducts(page, 2),
			page.GoToNextPage,
			viewProducts(page, 2),
			page.SelectSorting,
			page.AddPropertyFilter,
			viewProducts(page, 1),
			page.GoToNextPage,
			page.DoSearch,
			viewProducts(page, 2),
			page.AddPropertyFilter,
			viewProducts(page, 3),
			page.GoToNextPage,
		)
	}
}

// Nvidia is a customer who registers once and then keeps logging in to buy
// the advertised product without pausing.
func Nvidia(newPage PageFactory) *loadtest.UserType {
	return &loadtest.UserType{
		Name:     "Nvidia",
		Weight:   NvidiaWeight,
		WaitTime: loadtest.NoWait(),
		OnStart: func(ctx context.Context, vu *loadtest.VirtualUser) error {
			page := newPage(vu)
			vu.SetData(pageKey, page)
			return run(ctx, page.Register, page.Logout)
		},
		Tasks: []loadtest.Task{
			{Name: "follow_advertisement", Fn: followAdvertisement},
		},
	}
}

func followAdvertisement(ctx context.Context, vu *loadtest.VirtualUser) error {
	v, ok := vu.GetData(pageKey)
	if !ok {
		return errNoPage
	}
	page, ok := v.(Page)
	if !ok {
		return errNoPage
	}
	return run(ctx, page.Login, page.AddAdvertisement, page.InstantOrder, page.Logout)
}

// run executes steps in order and stops at the first error.
func run(ctx context.Context, steps ...func(context.Context) error) error {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func viewProducts(page Page, n int) func(context.Context) error {
	return func(ctx context.Context) error {
		return page.ViewProducts(ctx, n)
	}
}
