// Package storefront drives a Shopware-style storefront the way a shopper does.
package storefront

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
)

// DefaultPassword is used for registered customers when fixtures name none.
const DefaultPassword = "shopware"

// DefaultSortings are the listing sort keys a stock storefront offers.
var DefaultSortings = []string{"name-asc", "name-desc", "price-asc", "price-desc", "topseller"}

// Product is a product that can be put into the cart.
type Product struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Context is the catalog state shared by every simulated user of a run.
// It is read-only after construction.
type Context struct {
	// Listings are category page paths, e.g. "/Clothing/"
	Listings []string `json:"listings"`

	// Products are product detail page paths
	Products []string `json:"products"`

	// Advertisements are the products customers put into their cart
	Advertisements []Product `json:"advertisements"`

	Keywords      []string `json:"keywords"`
	Properties    []string `json:"properties"`
	Sortings      []string `json:"sortings,omitempty"`
	SalutationIDs []string `json:"salutationIds"`
	CountryIDs    []string `json:"countryIds"`
	Password      string   `json:"password,omitempty"`
}

// LoadContext reads fixtures from a JSON file.
func LoadContext(path string) (*Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseContext(data)
}

// ParseContext validates fixture JSON against the embedded schema and decodes it.
func ParseContext(data []byte) (*Context, error) {
	if err := ValidateFixtures(data); err != nil {
		return nil, err
	}

	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode fixtures: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Context) applyDefaults() {
	if len(c.Sortings) == 0 {
		c.Sortings = append([]string(nil), DefaultSortings...)
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
}

// Save writes the fixtures as indented JSON.
func (c *Context) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fixtures: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write fixtures: %w", err)
	}
	return nil
}

// RandomListing returns a random listing path.
func (c *Context) RandomListing(r *rand.Rand) (string, error) {
	return pick(r, c.Listings, "listings")
}

// RandomProduct returns a random product detail path.
func (c *Context) RandomProduct(r *rand.Rand) (string, error) {
	return pick(r, c.Products, "products")
}

// RandomAdvertisement returns a random cart product.
func (c *Context) RandomAdvertisement(r *rand.Rand) (Product, error) {
	return pick(r, c.Advertisements, "advertisements")
}

// RandomKeyword returns a random search term.
func (c *Context) RandomKeyword(r *rand.Rand) (string, error) {
	return pick(r, c.Keywords, "keywords")
}

// RandomProperty returns a random property option id.
func (c *Context) RandomProperty(r *rand.Rand) (string, error) {
	return pick(r, c.Properties, "properties")
}

// RandomSorting returns a random listing sort key.
func (c *Context) RandomSorting(r *rand.Rand) (string, error) {
	return pick(r, c.Sortings, "sortings")
}

// RandomSalutation returns a random salutation id.
func (c *Context) RandomSalutation(r *rand.Rand) (string, error) {
	return pick(r, c.SalutationIDs, "salutationIds")
}

// RandomCountry returns a random country id.
func (c *Context) RandomCountry(r *rand.Rand) (string, error) {
	return pick(r, c.CountryIDs, "countryIds")
}

func pick[T any](r *rand.Rand, items []T, what string) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, fmt.Errorf("%w: %s", ErrEmptyContext, what)
	}
	return items[r.IntN(len(items))], nil
}
