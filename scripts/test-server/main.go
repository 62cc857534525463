// Test-server is a small stand-in for a Shopware shop. It serves storefront
// pages and the admin search API so storeload can be tried locally:
//
//	go run ./scripts/test-server -addr :8000
//	storeload fixtures --host http://localhost:8000 --client-id local --client-secret local
//	storeload run --host http://localhost:8000 --fixtures fixtures.json --users 21 --run-time 30s
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wesleyorama2/storeload/internal/logging"
)

const (
	productCount = 24
	csrfToken    = "local-csrf-token"
)

// shop serves every storefront path with the same listing page.
type shop struct {
	logger       *zap.Logger
	clientSecret string
	latency      time.Duration
	orders       atomic.Int64
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	secret := flag.String("client-secret", "local", "admin API client secret")
	latency := flag.Duration("latency", 0, "artificial delay added to every storefront page")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.New(*level, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	server := &http.Server{
		Addr:              *addr,
		Handler:           newShop(logger, *secret, *latency),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("test shop listening", zap.String("addr", *addr))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newShop(logger *zap.Logger, clientSecret string, latency time.Duration) *shop {
	return &shop{logger: logger, clientSecret: clientSecret, latency: latency}
}

func (s *shop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/oauth/token":
		s.token(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/search/"):
		s.search(w, r)
	default:
		s.storefront(w, r)
	}
}

func (s *shop) token(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	if gjson.GetBytes(body, "client_secret").String() != s.clientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"detail":"The client credentials are invalid"}]}`)
		return
	}
	fmt.Fprint(w, `{"access_token":"local","expires_in":600,"token_type":"Bearer"}`)
}

func (s *shop) search(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer local" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)
	entity := strings.TrimPrefix(r.URL.Path, "/api/search/")
	route := gjson.GetBytes(body, `filter.#(field=="routeName").value`).String()

	var items []string
	switch {
	case entity == "seo-url" && route == "frontend.navigation.page":
		for _, c := range []string{"Clothing", "Computers", "Graphics-Cards"} {
			items = append(items, fmt.Sprintf(`{"seoPathInfo":"%s/"}`, c))
		}
	case entity == "seo-url" && route == "frontend.detail.page":
		for i := 1; i <= productCount; i++ {
			items = append(items, fmt.Sprintf(`{"seoPathInfo":"Product-%d/SW%d","foreignKey":"%032x"}`, i, i, i))
		}
	case entity == "product":
		for _, name := range []string{"Graphics Card", "Gaming Mouse", "Mechanical Keyboard"} {
			items = append(items, fmt.Sprintf(`{"translated":{"name":"%s"}}`, name))
		}
	case entity == "property-group-option", entity == "salutation", entity == "country":
		items = append(items, fmt.Sprintf(`{"id":"%032x"}`, len(entity)))
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total":%d,"data":[%s]}`, len(items), strings.Join(items, ","))
}

func (s *shop) storefront(w http.ResponseWriter, r *http.Request) {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if r.Method == http.MethodPost && r.URL.Path == "/checkout/order" {
		if n := s.orders.Add(1); n%100 == 0 {
			s.logger.Info("orders placed", zap.Int64("orders", n))
		}
	}
	s.logger.Debug("storefront request", zap.String("method", r.Method), zap.String("path", r.URL.Path))

	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	fmt.Fprint(w, "<html><body>\n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(w, `<a class="product-name" href="/Product-%d/SW%d">Product %d</a>`+"\n", i, i, i)
	}
	for _, action := range []string{"/account/register", "/account/login", "/checkout/line-item/add", "/checkout/order"} {
		fmt.Fprintf(w, `<form action="%s" method="post"><input type="hidden" name="_csrf_token" value="%s"></form>`+"\n", action, csrfToken)
	}
	fmt.Fprint(w, "</body></html>\n")
}
