package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type CampusEvent struct {
	Room     string    `json:"room"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
}

type Media struct {
	URL         string  `json:"url"`
	Mimetype    string  `json:"mimetype"`
	Size        int64   `json:"size"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Alternative *string `json:"alternative"`
	Preview     bool    `json:"preview"`
}

type News struct {
	Title    string    `json:"title"`
	Teaser   string    `json:"teaser"`
	Body     string    `json:"body"`
	Media    []Media   `json:"media"`
	Datetime time.Time `json:"datetime"`
	Author   string    `json:"author"`
}

type Event struct {
	Title           string     `json:"title"`
	Teaser          string     `json:"teaser"`
	Body            string     `json:"body"`
	Media           []Media    `json:"media"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	Allday          bool       `json:"allday"`
	Registration    bool       `json:"registration"`
	RegistrationEnd *time.Time `json:"registration_end"`
	Location        string     `json:"location"`
	Organizer       string     `json:"organizer"`
	Contact         string     `json:"contact"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Meal struct {
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Diet        string  `json:"diet"`
}

type RestaurantDetail struct {
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Zipcode  string  `json:"zipcode"`
	City     string  `json:"city"`
	Phone    string  `json:"phone"`
	URL      *string `json:"url"`
	Position *Point  `json:"position"`
	Meals    []Meal  `json:"meals"`
}

// Sources fetches the external data some pages embed. A failed fetch makes the page
// unavailable, it is not retried.
type Sources interface {
	Forecast(ctx context.Context, location string) (json.RawMessage, error)
	CampusOnlineEvents(ctx context.Context, building string) ([]CampusEvent, error)
	News(ctx context.Context, id int) (*News, error)
	Event(ctx context.Context, id int) (*Event, error)
	Restaurants(ctx context.Context, ids []int) ([]RestaurantDetail, error)
}

// HTTPSources reads the data from a JSON API below BaseURL.
type HTTPSources struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSources(baseURL string, timeout time.Duration) *HTTPSources {
	return &HTTPSources{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSources) get(ctx context.Context, path string, query url.Values, out any) error {
	u := s.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", u).Msg("content source request failed")
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *HTTPSources) Forecast(ctx context.Context, location string) (json.RawMessage, error) {
	var out json.RawMessage
	err := s.get(ctx, "/weather/"+url.PathEscape(location)+"/forecast", nil, &out)
	return out, err
}

func (s *HTTPSources) CampusOnlineEvents(ctx context.Context, building string) ([]CampusEvent, error) {
	var out []CampusEvent
	err := s.get(ctx, "/campusonline/buildings/"+url.PathEscape(building)+"/events", nil, &out)
	return out, err
}

func (s *HTTPSources) News(ctx context.Context, id int) (*News, error) {
	var out News
	if err := s.get(ctx, fmt.Sprintf("/typo3/news/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPSources) Event(ctx context.Context, id int) (*Event, error) {
	var out Event
	if err := s.get(ctx, fmt.Sprintf("/typo3/events/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restaurants only returns enabled restaurants with the meals available today.
func (s *HTTPSources) Restaurants(ctx context.Context, ids []int) ([]RestaurantDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", strconv.Itoa(id))
	}
	q.Set("enabled", "true")
	q.Set("available", time.Now().Format(time.DateOnly))

	var out []RestaurantDetail
	err := s.get(ctx, "/restaurants", q, &out)
	return out, err
}
