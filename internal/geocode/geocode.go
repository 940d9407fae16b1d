package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Client resolves free-text place names to coordinates through the
// OpenWeather direct-geocoding API, with an optional Redis cache in front.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      *redis.Client
	cacheTTL   time.Duration
}

func NewClient(baseURL, apiKey string, timeout time.Duration, cache *redis.Client, cacheTTL time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

// lat/lon are pointers so a result that omits them is distinguishable from a
// genuine (0, 0); missing fields are an error, never a default coordinate.
type geocodeResult struct {
	Name    string   `json:"name"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func (c *Client) Resolve(ctx context.Context, placeName string) (Coordinates, error) {
	if coords, ok := c.cached(ctx, placeName); ok {
		return coords, nil
	}

	query := url.Values{}
	query.Set("q", placeName)
	query.Set("limit", "1")
	query.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return Coordinates{}, resolveError(placeName, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, resolveError(placeName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, resolveError(placeName, fmt.Errorf("geocoding service returned status %d", resp.StatusCode))
	}

	var results []geocodeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coordinates{}, resolveError(placeName, err)
	}
	if len(results) == 0 {
		return Coordinates{}, fmt.Errorf("no location found for place name: %s", placeName)
	}

	result := results[0]
	if result.Lat == nil || result.Lon == nil {
		return Coordinates{}, fmt.Errorf("invalid coordinates received for place name: %s", placeName)
	}

	coords := Coordinates{Latitude: *result.Lat, Longitude: *result.Lon}
	c.store(ctx, placeName, coords)
	return coords, nil
}

func resolveError(placeName string, err error) error {
	return fmt.Errorf("could not determine coordinates for %q: %w", placeName, err)
}

func cacheKey(placeName string) string {
	return "geocode:" + strings.ToLower(strings.TrimSpace(placeName))
}

func (c *Client) cached(ctx context.Context, placeName string) (Coordinates, bool) {
	if c.cache == nil {
		return Coordinates{}, false
	}
	raw, err := c.cache.Get(ctx, cacheKey(placeName)).Bytes()
	if err != nil {
		return Coordinates{}, false
	}
	var coords Coordinates
	if err := json.Unmarshal(raw, &coords); err != nil {
		return Coordinates{}, false
	}
	return coords, true
}

// Cache failures are logged and ignored; the lookup already succeeded.
func (c *Client) store(ctx context.Context, placeName string, coords Coordinates) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(placeName), raw, c.cacheTTL).Err(); err != nil {
		log.Printf("geocode cache write failed: %v", err)
	}
}
