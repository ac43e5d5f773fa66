// Package content renders playlists and their pages into the messages sent to
// display frontends.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

// Page kinds double as the "page" tag of the rendered message.
const (
	Weather           = "Weather"
	HTML              = "HTML"
	RichText          = "RichText"
	Image             = "Image"
	Video             = "Video"
	Website           = "Website"
	PDF               = "PDF"
	CampusOnlineEvent = "CampusOnlineEvent"
	LiveChannel       = "LiveChannel"
	TYPO3News         = "TYPO3News"
	TYPO3Event        = "TYPO3Event"
	Restaurant        = "Restaurant"
)

var ErrUnknownKind = errors.New("unknown page kind")

// Header is shared by every page message.
type Header struct {
	Page    string  `json:"page"`
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Runtime float64 `json:"runtime"`
}

type weatherData struct {
	Location string `json:"location"`
}

type textData struct {
	Content string `json:"content"`
}

type fileData struct {
	File string `json:"file"`
}

type websiteData struct {
	URL string `json:"url"`
}

type pdfData struct {
	File        string   `json:"file"`
	Renders     []string `json:"renders"`
	PageRuntime float64  `json:"page_runtime"`
}

type campusData struct {
	Building string `json:"building"`
}

type newsData struct {
	News int `json:"news"`
}

type eventData struct {
	Event int `json:"event"`
}

type restaurantData struct {
	Restaurants       []int   `json:"restaurants"`
	RestaurantRuntime float64 `json:"restaurant_runtime"`
}

type WeatherMessage struct {
	Header
	Forecast json.RawMessage `json:"forecast"`
}

type TextMessage struct {
	Header
	Content string `json:"content"`
}

type URLMessage struct {
	Header
	URL string `json:"url"`
}

type PDFMessage struct {
	Header
	URL         string   `json:"url"`
	Pages       []string `json:"pages"`
	PageRuntime float64  `json:"page_runtime"`
}

type CampusOnlineEventMessage struct {
	Header
	Items []CampusEvent `json:"items"`
}

type TYPO3NewsMessage struct {
	Header
	News
}

type TYPO3EventMessage struct {
	Header
	Event
}

type RestaurantMessage struct {
	Header
	RestaurantRuntime *float64           `json:"restaurant_runtime"`
	Restaurants       []RestaurantDetail `json:"restaurants"`
}

func decode[T any](p model.Page) (T, error) {
	var v T
	if len(p.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(p.Data, &v); err != nil {
		return v, fmt.Errorf("page %d: decode %s data: %w", p.ID, p.Kind, err)
	}
	return v, nil
}

// Runtime is how long the page stays visible. PDF and restaurant pages derive it
// from their number of rendered pages or restaurants.
func Runtime(p model.Page) time.Duration {
	switch p.Kind {
	case PDF:
		d, err := decode[pdfData](p)
		if err == nil && d.PageRuntime > 0 {
			return time.Duration(float64(len(d.Renders)) * d.PageRuntime * float64(time.Second))
		}
	case Restaurant:
		d, err := decode[restaurantData](p)
		if err == nil && len(d.Restaurants) > 0 && d.RestaurantRuntime > 0 {
			return time.Duration(float64(len(d.Restaurants)) * d.RestaurantRuntime * float64(time.Second))
		}
	}
	return p.Runtime()
}

func header(p model.Page) Header {
	return Header{
		Page:    p.Kind,
		ID:      p.ID,
		Name:    p.Name,
		Runtime: Runtime(p).Seconds(),
	}
}

// LiveChannelURL is where the frontend fetches stream metadata for a live channel page.
func LiveChannelURL(pageID int) string {
	return fmt.Sprintf("/signage/page/livechannel/%d/", pageID)
}

// Page renders a single page message.
func (r *Renderer) Page(ctx context.Context, p model.Page) (any, error) {
	h := header(p)
	switch p.Kind {
	case Weather:
		d, err := decode[weatherData](p)
		if err != nil {
			return nil, err
		}
		forecast, err := r.sources.Forecast(ctx, d.Location)
		if err != nil {
			return nil, err
		}
		return WeatherMessage{Header: h, Forecast: forecast}, nil

	case HTML, RichText:
		d, err := decode[textData](p)
		if err != nil {
			return nil, err
		}
		return TextMessage{Header: h, Content: d.Content}, nil

	case Image, Video:
		d, err := decode[fileData](p)
		if err != nil {
			return nil, err
		}
		u, err := r.storage.URL(d.File)
		if err != nil {
			return nil, err
		}
		return URLMessage{Header: h, URL: u}, nil

	case Website:
		d, err := decode[websiteData](p)
		if err != nil {
			return nil, err
		}
		return URLMessage{Header: h, URL: d.URL}, nil

	case PDF:
		return r.pdf(p, h)

	case CampusOnlineEvent:
		d, err := decode[campusData](p)
		if err != nil {
			return nil, err
		}
		items, err := r.sources.CampusOnlineEvents(ctx, d.Building)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []CampusEvent{}
		}
		return CampusOnlineEventMessage{Header: h, Items: items}, nil

	case LiveChannel:
		return URLMessage{Header: h, URL: LiveChannelURL(p.ID)}, nil

	case TYPO3News:
		d, err := decode[newsData](p)
		if err != nil {
			return nil, err
		}
		news, err := r.sources.News(ctx, d.News)
		if err != nil {
			return nil, err
		}
		return TYPO3NewsMessage{Header: h, News: *news}, nil

	case TYPO3Event:
		d, err := decode[eventData](p)
		if err != nil {
			return nil, err
		}
		event, err := r.sources.Event(ctx, d.Event)
		if err != nil {
			return nil, err
		}
		return TYPO3EventMessage{Header: h, Event: *event}, nil

	case Restaurant:
		d, err := decode[restaurantData](p)
		if err != nil {
			return nil, err
		}
		restaurants, err := r.sources.Restaurants(ctx, d.Restaurants)
		if err != nil {
			return nil, err
		}
		if restaurants == nil {
			restaurants = []RestaurantDetail{}
		}
		msg := RestaurantMessage{Header: h, Restaurants: restaurants}
		if d.RestaurantRuntime > 0 {
			msg.RestaurantRuntime = &d.RestaurantRuntime
		}
		return msg, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
}

func (r *Renderer) pdf(p model.Page, h Header) (any, error) {
	d, err := decode[pdfData](p)
	if err != nil {
		return nil, err
	}
	msg := PDFMessage{Header: h, Pages: make([]string, 0, len(d.Renders))}
	if d.File != "" {
		if msg.URL, err = r.storage.URL(d.File); err != nil {
			return nil, err
		}
	}
	for _, key := range d.Renders {
		u, err := r.storage.URL(key)
		if err != nil {
			return nil, err
		}
		msg.Pages = append(msg.Pages, u)
	}
	switch {
	case d.PageRuntime > 0:
		msg.PageRuntime = d.PageRuntime
	case len(d.Renders) > 0:
		msg.PageRuntime = h.Runtime / float64(len(d.Renders))
	}
	return msg, nil
}
