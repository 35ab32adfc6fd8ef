package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const geocoderUserAgent = "costume-atelier-api/1.0"

// Address is a reverse-geocoded location
type Address struct {
	DisplayName string `json:"displayName"`
	Road        string `json:"road,omitempty"`
	Suburb      string `json:"suburb,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	Country     string `json:"country,omitempty"`
}

// AddressValidation is the outcome of checking a typed address against coordinates
type AddressValidation struct {
	Valid      bool     `json:"valid"`
	CityMatch  bool     `json:"cityMatch"`
	StateMatch bool     `json:"stateMatch"`
	Address    *Address `json:"address"`
}

type nominatimReverse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		Road          string `json:"road"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		County        string `json:"county"`
		State         string `json:"state"`
		Postcode      string `json:"postcode"`
		Country       string `json:"country"`
	} `json:"address"`
}

// GeocodingService resolves coordinates through a Nominatim-compatible API
type GeocodingService struct {
	httpClient *http.Client
	baseURL    string
}

// NewGeocodingService creates a geocoder for baseURL
func NewGeocodingService(baseURL string) *GeocodingService {
	return &GeocodingService{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Reverse looks up the address at lat, lon
func (s *GeocodingService) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeocoder, err)
	}
	req.Header.Set("User-Agent", geocoderUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeocoder, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrGeocoder, resp.StatusCode)
	}

	var body nominatimReverse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGeocoder, err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrGeocoder, body.Error)
	}

	a := body.Address
	return &Address{
		DisplayName: body.DisplayName,
		Road:        a.Road,
		Suburb:      firstNonEmpty(a.Suburb, a.Neighbourhood),
		City:        firstNonEmpty(a.City, a.Town, a.Village, a.County),
		State:       a.State,
		Postcode:    a.Postcode,
		Country:     a.Country,
	}, nil
}

// ValidateAddress checks that city and state appear in the address found at lat, lon
func (s *GeocodingService) ValidateAddress(ctx context.Context, city, state string, lat, lon float64) (*AddressValidation, error) {
	if strings.TrimSpace(city) == "" {
		return nil, fmt.Errorf("%w: city is required", ErrValidation)
	}

	addr, err := s.Reverse(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	haystack := []string{addr.City, addr.Suburb, addr.State, addr.DisplayName}
	result := &AddressValidation{
		CityMatch:  matchesAny(city, haystack...),
		StateMatch: strings.TrimSpace(state) == "" || matchesAny(normalizeState(state), addr.State, addr.DisplayName),
		Address:    addr,
	}
	result.Valid = result.CityMatch && result.StateMatch
	return result, nil
}

// matchesAny reports whether a candidate contains needle, or needle contains a
// candidate as whole words, ignoring case
func matchesAny(needle string, candidates ...string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return false
	}
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if strings.Contains(c, needle) || containsWords(needle, c) {
			return true
		}
	}
	return false
}

// containsWords reports whether the words of phrase appear consecutively in text
func containsWords(text, phrase string) bool {
	textWords, phraseWords := words(text), words(phrase)
	if len(phraseWords) == 0 || len(phraseWords) > len(textWords) {
		return false
	}
	for i := 0; i+len(phraseWords) <= len(textWords); i++ {
		if slices.Equal(textWords[i:i+len(phraseWords)], phraseWords) {
			return true
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeState drops the "State" suffix customers often type ("Lagos State")
func normalizeState(state string) string {
	state = strings.TrimSpace(state)
	if trimmed := strings.TrimSuffix(strings.ToLower(state), " state"); trimmed != strings.ToLower(state) {
		return trimmed
	}
	return state
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
