package storefront

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wesleyorama2/storeload/internal/loadtest"
)

// Request names used for metrics.
const (
	RequestListing           = "listing-page"
	RequestListingPagination = "listing-page-pagination"
	RequestListingSorting    = "listing-page-sorting"
	RequestListingFilter     = "listing-page-filter"
	RequestSearch            = "search-page"
	RequestProductDetail     = "product-detail-page"
	RequestRegister          = "register"
	RequestLogin             = "login"
	RequestLogout            = "logout"
	RequestAddToCart         = "add-to-cart"
	RequestCheckoutConfirm   = "checkout-confirm"
	RequestCheckoutOrder     = "checkout-order"
)

// Client is the HTTP surface the page helper needs.
type Client interface {
	Get(ctx context.Context, name, path string) (*loadtest.Response, error)
	PostForm(ctx context.Context, name, path string, form url.Values) (*loadtest.Response, error)
}

// Storefront is the page helper of one simulated shopper. It remembers where
// the shopper is (listing, page, sorting, filters), the product links it last
// saw and the customer account it registered.
//
// A Storefront is not safe for concurrent use.
type Storefront struct {
	client   Client
	fixtures *Context
	rng      *rand.Rand

	listing      string
	page         int
	sorting      string
	filters      []string
	productLinks []string
	csrfTokens   map[string]string

	email    string
	password string
}

// New creates a page helper for one shopper.
func New(client Client, fixtures *Context, rng *rand.Rand) *Storefront {
	return &Storefront{
		client:     client,
		fixtures:   fixtures,
		rng:        rng,
		csrfTokens: make(map[string]string),
	}
}

// Email returns the registered customer email, or "" before Register.
func (s *Storefront) Email() string {
	return s.email
}

// Listing returns the current listing URL, or "" before GoToListing.
func (s *Storefront) Listing() string {
	if s.listing == "" {
		return ""
	}
	return s.listingURL()
}

// GoToListing opens a random category listing on its first page.
func (s *Storefront) GoToListing(ctx context.Context) error {
	listing, err := s.fixtures.RandomListing(s.rng)
	if err != nil {
		return err
	}

	s.listing = listing
	s.page = 1
	s.sorting = ""
	s.filters = nil

	return s.browse(ctx, RequestListing, s.listingURL())
}

// ViewProducts opens n product detail pages, preferring products seen on
// the last listing or search page.
func (s *Storefront) ViewProducts(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		product, err := s.randomProductLink()
		if err != nil {
			return err
		}
		if _, err := s.visit(ctx, RequestProductDetail, product); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storefront) randomProductLink() (string, error) {
	if len(s.productLinks) > 0 {
		return s.productLinks[s.rng.IntN(len(s.productLinks))], nil
	}
	return s.fixtures.RandomProduct(s.rng)
}

// GoToNextPage opens the next page of the current listing.
func (s *Storefront) GoToNextPage(ctx context.Context) error {
	if s.listing == "" {
		return ErrNoListing
	}
	s.page++
	return s.browse(ctx, RequestListingPagination, s.listingURL())
}

// SelectSorting reloads the current listing with a random sort order.
func (s *Storefront) SelectSorting(ctx context.Context) error {
	if s.listing == "" {
		return ErrNoListing
	}
	sorting, err := s.fixtures.RandomSorting(s.rng)
	if err != nil {
		return err
	}
	s.sorting = sorting
	s.page = 1
	return s.browse(ctx, RequestListingSorting, s.listingURL())
}

// AddPropertyFilter narrows the current listing by one more random property option.
func (s *Storefront) AddPropertyFilter(ctx context.Context) error {
	if s.listing == "" {
		return ErrNoListing
	}
	property, err := s.fixtures.RandomProperty(s.rng)
	if err != nil {
		return err
	}
	if !contains(s.filters, property) {
		s.filters = append(s.filters, property)
	}
	s.page = 1
	return s.browse(ctx, RequestListingFilter, s.listingURL())
}

// DoSearch searches for a random keyword. Products found become the
// candidates for the next ViewProducts.
func (s *Storefront) DoSearch(ctx context.Context) error {
	keyword, err := s.fixtures.RandomKeyword(s.rng)
	if err != nil {
		return err
	}
	return s.browse(ctx, RequestSearch, "/search?"+url.Values{"search": {keyword}}.Encode())
}

// Register creates a new customer account with a unique email address.
// The shopper stays logged in afterwards.
func (s *Storefront) Register(ctx context.Context) error {
	salutation, err := s.fixtures.RandomSalutation(s.rng)
	if err != nil {
		return err
	}
	country, err := s.fixtures.RandomCountry(s.rng)
	if err != nil {
		return err
	}

	email := fmt.Sprintf("user-%s@example.com", strings.ReplaceAll(uuid.NewString(), "-", ""))
	password := s.fixtures.Password
	if password == "" {
		password = DefaultPassword
	}

	form := url.Values{
		"redirectTo":                   {"frontend.account.home.page"},
		"salutationId":                 {salutation},
		"firstName":                    {"Firstname"},
		"lastName":                     {"Lastname"},
		"email":                        {email},
		"password":                     {password},
		"billingAddress[street]":       {"Test street"},
		"billingAddress[zipcode]":      {"11111"},
		"billingAddress[city]":         {"Test city"},
		"billingAddress[countryId]":    {country},
		"acceptedDataProtection":       {"1"},
		"createCustomerAccount":        {"1"},
		"billingAddress[salutationId]": {salutation},
	}
	if _, err := s.submit(ctx, RequestRegister, "/account/register", form); err != nil {
		return err
	}

	s.email = email
	s.password = password
	return nil
}

// Login logs the registered customer in.
func (s *Storefront) Login(ctx context.Context) error {
	if s.email == "" {
		return ErrNotRegistered
	}
	form := url.Values{
		"redirectTo": {"frontend.account.home.page"},
		"username":   {s.email},
		"password":   {s.password},
	}
	_, err := s.submit(ctx, RequestLogin, "/account/login", form)
	return err
}

// Logout ends the customer session.
func (s *Storefront) Logout(ctx context.Context) error {
	_, err := s.visit(ctx, RequestLogout, "/account/logout")
	return err
}

// AddAdvertisement puts a random advertised product into the cart.
func (s *Storefront) AddAdvertisement(ctx context.Context) error {
	product, err := s.fixtures.RandomAdvertisement(s.rng)
	if err != nil {
		return err
	}
	return s.addToCart(ctx, product)
}

// InstantOrder buys a random advertised product: add to cart, open the
// confirm page and place the order.
func (s *Storefront) InstantOrder(ctx context.Context) error {
	if err := s.AddAdvertisement(ctx); err != nil {
		return err
	}
	if _, err := s.visit(ctx, RequestCheckoutConfirm, "/checkout/confirm"); err != nil {
		return err
	}
	form := url.Values{
		"tos":        {"on"},
		"redirectTo": {"frontend.checkout.finish.page"},
	}
	_, err := s.submit(ctx, RequestCheckoutOrder, "/checkout/order", form)
	return err
}

func (s *Storefront) addToCart(ctx context.Context, product Product) error {
	prefix := "lineItems[" + product.ID + "]"
	form := url.Values{
		"redirectTo":              {"frontend.cart.offcanvas"},
		prefix + "[id]":           {product.ID},
		prefix + "[referencedId]": {product.ID},
		prefix + "[type]":         {"product"},
		prefix + "[quantity]":     {"1"},
		prefix + "[stackable]":    {"1"},
		prefix + "[removable]":    {"1"},
	}
	_, err := s.submit(ctx, RequestAddToCart, "/checkout/line-item/add", form)
	return err
}

// listingURL renders the current listing with page, sorting and filters.
func (s *Storefront) listingURL() string {
	query := url.Values{}
	if s.page > 1 {
		query.Set("p", strconv.Itoa(s.page))
	}
	if s.sorting != "" {
		query.Set("order", s.sorting)
	}
	if len(s.filters) > 0 {
		query.Set("properties", strings.Join(s.filters, "|"))
	}
	if len(query) == 0 {
		return s.listing
	}

	sep := "?"
	if strings.Contains(s.listing, "?") {
		sep = "&"
	}
	return s.listing + sep + query.Encode()
}

// browse visits a listing or search page and remembers its product links.
func (s *Storefront) browse(ctx context.Context, name, path string) error {
	p, err := s.visit(ctx, name, path)
	if err != nil {
		return err
	}
	if p != nil && len(p.productLinks) > 0 {
		s.productLinks = p.productLinks
	}
	return nil
}

func (s *Storefront) visit(ctx context.Context, name, path string) (*page, error) {
	resp, err := s.client.Get(ctx, name, path)
	if err != nil {
		return nil, err
	}
	return s.remember(resp), nil
}

// submit posts a form, adding the CSRF token last seen for its action.
func (s *Storefront) submit(ctx context.Context, name, path string, form url.Values) (*page, error) {
	if token, ok := s.csrfTokens[path]; ok {
		form.Set("_csrf_token", token)
	}
	resp, err := s.client.PostForm(ctx, name, path, form)
	if err != nil {
		return nil, err
	}
	return s.remember(resp), nil
}

// remember scrapes an HTML response. Non-HTML bodies yield nil.
func (s *Storefront) remember(resp *loadtest.Response) *page {
	if resp == nil || len(resp.Body) == 0 {
		return nil
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil
	}
	p, err := parsePage(resp.Body)
	if err != nil {
		return nil
	}
	for action, token := range p.csrfTokens {
		s.csrfTokens[action] = token
	}
	return p
}

func contains(items []string, item string) bool {
	for _, it := range items {
		if it == item {
			return true
		}
	}
	return false
}
