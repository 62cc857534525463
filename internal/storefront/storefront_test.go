package storefront

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/loadtest"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

const (
	productID    = "0123456789abcdef0123456789abcdef"
	propertyA    = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	salutationID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	countryID    = "cccccccccccccccccccccccccccccccc"
)

func testFixtures() *Context {
	c := &Context{
		Listings:       []string{"/Clothing/"},
		Products:       []string{"/Fixture-Product/SW100"},
		Advertisements: []Product{{ID: productID, URL: "/Graphics-Card/SW1"}},
		Keywords:       []string{"graphics"},
		Properties:     []string{propertyA},
		SalutationIDs:  []string{salutationID},
		CountryIDs:     []string{countryID},
	}
	c.applyDefaults()
	return c
}

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
}

// fakeShop is a minimal storefront with sessions keyed by cookie.
type fakeShop struct {
	mu       sync.Mutex
	requests []recordedRequest
	accounts map[string]string
	sessions map[string]string
	nextID   int
}

func newFakeShop(t *testing.T) (*fakeShop, *httptest.Server) {
	shop := &fakeShop{accounts: map[string]string{}, sessions: map[string]string{}}
	srv := httptest.NewServer(shop)
	t.Cleanup(srv.Close)
	return shop, srv
}

func (f *fakeShop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	f.mu.Lock()
	defer f.mu.Unlock()

	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
	if r.Method == http.MethodPost {
		rec.Form = r.PostForm
	}
	f.requests = append(f.requests, rec)

	session := ""
	if c, err := r.Cookie("session"); err == nil {
		session = c.Value
	} else {
		f.nextID++
		session = fmt.Sprintf("s%d", f.nextID)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: session, Path: "/"})
	}

	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	switch {
	case r.URL.Path == "/Clothing/":
		fmt.Fprintf(w, `<html><body>
			<a class="product-image-link" href="http://%s/Shirt/SW2">img</a>
			<a class="product-name" href="/Shirt/SW2">Shirt</a>
			<a class="product-name" href="/Jeans/SW3">Jeans</a>
			<a class="nav-link" href="/Other/">other</a>
			<form action="/checkout/line-item/add" method="post">
				<input type="hidden" name="_csrf_token" value="tok-cart">
			</form>
		</body></html>`, r.Host)
	case r.URL.Path == "/search":
		fmt.Fprint(w, `<html><body><a class="product-name" href="/Found/SW9">Found</a></body></html>`)
	case r.URL.Path == "/account/register" && r.Method == http.MethodPost:
		f.accounts[r.PostForm.Get("email")] = r.PostForm.Get("password")
		f.sessions[session] = r.PostForm.Get("email")
		fmt.Fprint(w, `<html><body>account</body></html>`)
	case r.URL.Path == "/account/login" && r.Method == http.MethodPost:
		email := r.PostForm.Get("username")
		if pw, ok := f.accounts[email]; !ok || pw != r.PostForm.Get("password") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.sessions[session] = email
	case r.URL.Path == "/account/logout":
		delete(f.sessions, session)
	case r.URL.Path == "/checkout/confirm":
		if f.sessions[session] == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `<html><body><form action="/checkout/order" method="post">
			<input type="hidden" name="_csrf_token" value="tok-order"></form></body></html>`)
	case r.URL.Path == "/checkout/order":
		if r.PostForm.Get("tos") != "on" {
			w.WriteHeader(http.StatusBadRequest)
		}
	case r.URL.Path == "/broken/":
		w.WriteHeader(http.StatusInternalServerError)
	default:
		fmt.Fprint(w, `<html><body>page</body></html>`)
	}
}

func (f *fakeShop) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestStorefront(t *testing.T, srv *httptest.Server, fixtures *Context, m *metrics.Engine) *Storefront {
	t.Helper()
	client, err := loadtest.NewClient(srv.URL, http.DefaultTransport, loadtest.DefaultHTTPClientConfig(), m)
	require.NoError(t, err)
	return New(client, fixtures, rand.New(rand.NewPCG(1, 2)))
}

func TestStorefront_ListingFlow(t *testing.T) {
	shop, srv := newFakeShop(t)
	m := metrics.NewEngine()
	defer m.Stop()
	s := newTestStorefront(t, srv, testFixtures(), m)
	ctx := context.Background()

	require.NoError(t, s.GoToListing(ctx))
	assert.Equal(t, []string{"/Shirt/SW2", "/Jeans/SW3"}, s.productLinks)
	assert.Equal(t, "tok-cart", s.csrfTokens["/checkout/line-item/add"])

	require.NoError(t, s.ViewProducts(ctx, 2))
	require.NoError(t, s.GoToNextPage(ctx))
	assert.Equal(t, "/Clothing/?p=2", s.Listing())

	require.NoError(t, s.SelectSorting(ctx))
	assert.Equal(t, 1, s.page)
	assert.NotEmpty(t, s.sorting)

	require.NoError(t, s.AddPropertyFilter(ctx))
	require.NoError(t, s.AddPropertyFilter(ctx))
	assert.Equal(t, []string{propertyA}, s.filters, "the same option is applied once")

	require.NoError(t, s.DoSearch(ctx))
	assert.Equal(t, []string{"/Found/SW9"}, s.productLinks)
	require.NoError(t, s.ViewProducts(ctx, 1))

	reqs := shop.recorded()
	require.Len(t, reqs, 9)
	assert.Equal(t, "/Clothing/", reqs[0].Path)
	assert.Contains(t, []string{"/Shirt/SW2", "/Jeans/SW3"}, reqs[1].Path)
	assert.Equal(t, "2", reqs[3].Query.Get("p"))
	assert.NotEmpty(t, reqs[4].Query.Get("order"))
	assert.Equal(t, propertyA, reqs[5].Query.Get("properties"))
	assert.Equal(t, "graphics", reqs[7].Query.Get("search"))
	assert.Equal(t, "/Found/SW9", reqs[8].Path)

	stats := m.GetRequestStats()
	assert.Equal(t, int64(1), stats[RequestListing].Requests)
	assert.Equal(t, int64(3), stats[RequestProductDetail].Requests)
	assert.Equal(t, int64(1), stats[RequestListingPagination].Requests)
	assert.Equal(t, int64(1), stats[RequestListingSorting].Requests)
	assert.Equal(t, int64(2), stats[RequestListingFilter].Requests)
	assert.Equal(t, int64(1), stats[RequestSearch].Requests)
}

func TestStorefront_ListingActionsNeedListing(t *testing.T) {
	_, srv := newFakeShop(t)
	s := newTestStorefront(t, srv, testFixtures(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.GoToNextPage(ctx), ErrNoListing)
	assert.ErrorIs(t, s.SelectSorting(ctx), ErrNoListing)
	assert.ErrorIs(t, s.AddPropertyFilter(ctx), ErrNoListing)
	assert.Equal(t, "", s.Listing())
}

func TestStorefront_ViewProductsFallsBackToFixtures(t *testing.T) {
	shop, srv := newFakeShop(t)
	s := newTestStorefront(t, srv, testFixtures(), nil)

	require.NoError(t, s.ViewProducts(context.Background(), 1))
	reqs := shop.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/Fixture-Product/SW100", reqs[0].Path)
}

func TestStorefront_CustomerFlow(t *testing.T) {
	shop, srv := newFakeShop(t)
	s := newTestStorefront(t, srv, testFixtures(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.Login(ctx), ErrNotRegistered)

	require.NoError(t, s.Register(ctx))
	assert.True(t, strings.HasPrefix(s.Email(), "user-"))
	assert.True(t, strings.HasSuffix(s.Email(), "@example.com"))
	require.NoError(t, s.Logout(ctx))

	require.NoError(t, s.Login(ctx))
	require.NoError(t, s.AddAdvertisement(ctx))
	require.NoError(t, s.InstantOrder(ctx))
	require.NoError(t, s.Logout(ctx))

	var paths []string
	for _, r := range shop.recorded() {
		paths = append(paths, r.Method+" "+r.Path)
	}
	assert.Equal(t, []string{
		"POST /account/register",
		"GET /account/logout",
		"POST /account/login",
		"POST /checkout/line-item/add",
		"POST /checkout/line-item/add",
		"GET /checkout/confirm",
		"POST /checkout/order",
		"GET /account/logout",
	}, paths)

	reqs := shop.recorded()
	register := reqs[0].Form
	assert.Equal(t, salutationID, register.Get("salutationId"))
	assert.Equal(t, countryID, register.Get("billingAddress[countryId]"))
	assert.Equal(t, DefaultPassword, register.Get("password"))

	cart := reqs[3].Form
	assert.Equal(t, productID, cart.Get("lineItems["+productID+"][referencedId]"))
	assert.Equal(t, "product", cart.Get("lineItems["+productID+"][type]"))

	order := reqs[6].Form
	assert.Equal(t, "on", order.Get("tos"))
	assert.Equal(t, "tok-order", order.Get("_csrf_token"))
}

func TestStorefront_UniqueEmails(t *testing.T) {
	_, srv := newFakeShop(t)
	a := newTestStorefront(t, srv, testFixtures(), nil)
	b := newTestStorefront(t, srv, testFixtures(), nil)

	require.NoError(t, a.Register(context.Background()))
	require.NoError(t, b.Register(context.Background()))
	assert.NotEqual(t, a.Email(), b.Email())
}

func TestStorefront_HTTPErrorPropagates(t *testing.T) {
	_, srv := newFakeShop(t)
	fixtures := testFixtures()
	fixtures.Listings = []string{"/broken/"}
	m := metrics.NewEngine()
	defer m.Stop()
	s := newTestStorefront(t, srv, fixtures, m)

	err := s.GoToListing(context.Background())
	var httpErr *loadtest.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, int64(1), m.GetRequestStats()[RequestListing].Failures)
}

func TestStorefront_EmptyFixtures(t *testing.T) {
	_, srv := newFakeShop(t)
	s := newTestStorefront(t, srv, &Context{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.GoToListing(ctx), ErrEmptyContext)
	assert.ErrorIs(t, s.ViewProducts(ctx, 1), ErrEmptyContext)
	assert.ErrorIs(t, s.DoSearch(ctx), ErrEmptyContext)
	assert.ErrorIs(t, s.Register(ctx), ErrEmptyContext)
	assert.ErrorIs(t, s.AddAdvertisement(ctx), ErrEmptyContext)
}
