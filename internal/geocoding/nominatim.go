package geocoding

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/upstream"
)

const (
	DefaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	DefaultUserAgent        = "WeatherAssistant/1.0"
)

// Nominatim talks to an OpenStreetMap Nominatim instance. The usage policy
// requires an identifying User-Agent on every request.
type Nominatim struct {
	baseURL string
	client  *upstream.Client
}

func NewNominatim(baseURL string, cfg upstream.Config) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Nominatim{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  upstream.New("nominatim", cfg),
	}
}

func (n *Nominatim) Name() string {
	return "nominatim"
}

type nominatimResult struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	DisplayName string           `json:"display_name"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Address     nominatimAddress `json:"address"`
	BoundingBox []string         `json:"boundingbox"`
	Error       string           `json:"error"`
}

type nominatimAddress struct {
	HouseNumber   string `json:"house_number"`
	Road          string `json:"road"`
	Neighbourhood string `json:"neighbourhood"`
	Suburb        string `json:"suburb"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	County        string `json:"county"`
	State         string `json:"state"`
	Postcode      string `json:"postcode"`
	Country       string `json:"country"`
	CountryCode   string `json:"country_code"`
}

func (n *Nominatim) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	values := url.Values{}
	values.Set("q", query)
	values.Set("format", "json")
	values.Set("addressdetails", "1")
	values.Set("limit", strconv.Itoa(limit))

	var results []nominatimResult
	if err := n.client.GetJSON(ctx, fmt.Sprintf("%s/search?%s", n.baseURL, values.Encode()), &results); err != nil {
		return nil, err
	}

	places := make([]Place, 0, len(results))
	for _, r := range results {
		places = append(places, r.place(0, 0))
	}
	return places, nil
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	values := url.Values{}
	values.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	values.Set("format", "json")
	values.Set("addressdetails", "1")

	var r nominatimResult
	if err := n.client.GetJSON(ctx, fmt.Sprintf("%s/reverse?%s", n.baseURL, values.Encode()), &r); err != nil {
		return Place{}, err
	}
	// Nominatim answers 200 with an error body when nothing is found.
	if r.Error != "" {
		return Place{}, fmt.Errorf("%w: %s", common.ErrInvalidQuery, r.Error)
	}
	return r.place(lat, lon), nil
}

func (r nominatimResult) place(defLat, defLon float64) Place {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		lat = defLat
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		lon = defLon
	}
	a := r.Address
	return Place{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: r.DisplayName,
		Name:        r.Name,
		Type:        r.Type,
		BoundingBox: r.BoundingBox,
		Address: Address{
			HouseNumber:   a.HouseNumber,
			Road:          a.Road,
			Neighbourhood: a.Neighbourhood,
			Suburb:        a.Suburb,
			City:          common.FirstNonEmpty(a.City, a.Town, a.Village),
			County:        a.County,
			State:         a.State,
			Postcode:      a.Postcode,
			Country:       a.Country,
			CountryCode:   a.CountryCode,
		},
	}
}
