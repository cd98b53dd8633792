package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"soulspot/internal/constants"
	"soulspot/internal/domain"
	"soulspot/internal/httpclient"
)

// fetchLimit is the page size requested from upstream listings.
const fetchLimit = 100

// RESTSource adapts a provider's HTTP API to the Source interface.
type RESTSource struct {
	name    string
	baseURL string
	client  *httpclient.Client
}

func NewRESTSource(name, baseURL string, requestsPerSecond float64) *RESTSource {
	return &RESTSource{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: httpclient.NewClient(&http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		}, requestsPerSecond, 1),
	}
}

func (s *RESTSource) Name() string {
	return s.name
}

func (s *RESTSource) FetchEntities(ctx context.Context, kind domain.EntityKind, cursor string) (*Page, error) {
	switch kind {
	case domain.EntityKindArtist:
		return s.fetchArtists(ctx, cursor)
	case domain.EntityKindAlbum:
		return s.fetchAlbums(ctx, cursor)
	case domain.EntityKindTrack:
		return s.fetchTracks(ctx, cursor)
	default:
		return nil, fmt.Errorf("unsupported entity kind: %s", kind)
	}
}

func (s *RESTSource) fetchArtists(ctx context.Context, cursor string) (*Page, error) {
	u := fmt.Sprintf("%s/artists/?cursor=%s&limit=%d", s.baseURL, url.QueryEscape(cursor), fetchLimit)
	var resp struct {
		Items      []artistItem `json:"items"`
		NextCursor string       `json:"next_cursor"`
	}
	if err := s.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: resp.NextCursor}
	for i := range resp.Items {
		page.Records = append(page.Records, resp.Items[i].record(s))
	}
	return page, nil
}

func (s *RESTSource) fetchAlbums(ctx context.Context, cursor string) (*Page, error) {
	u := fmt.Sprintf("%s/albums/?cursor=%s&limit=%d", s.baseURL, url.QueryEscape(cursor), fetchLimit)
	var resp struct {
		Items      []albumItem `json:"items"`
		NextCursor string      `json:"next_cursor"`
	}
	if err := s.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: resp.NextCursor}
	for i := range resp.Items {
		page.Records = append(page.Records, resp.Items[i].record(s))
	}
	return page, nil
}

func (s *RESTSource) fetchTracks(ctx context.Context, cursor string) (*Page, error) {
	u := fmt.Sprintf("%s/tracks/?cursor=%s&limit=%d", s.baseURL, url.QueryEscape(cursor), fetchLimit)
	var resp struct {
		Items      []trackItem `json:"items"`
		NextCursor string      `json:"next_cursor"`
	}
	if err := s.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: resp.NextCursor}
	for i := range resp.Items {
		page.Records = append(page.Records, resp.Items[i].record(s))
	}
	return page, nil
}

func (s *RESTSource) GetRecord(ctx context.Context, kind domain.EntityKind, externalID string) (*domain.Record, error) {
	switch kind {
	case domain.EntityKindArtist:
		u := fmt.Sprintf("%s/artist/?id=%s", s.baseURL, url.QueryEscape(externalID))
		var resp struct {
			Data artistItem `json:"data"`
		}
		if err := s.get(ctx, u, &resp); err != nil {
			return nil, err
		}
		rec := resp.Data.record(s)
		return &rec, nil
	case domain.EntityKindAlbum:
		u := fmt.Sprintf("%s/album/?id=%s", s.baseURL, url.QueryEscape(externalID))
		var resp struct {
			Data albumItem `json:"data"`
		}
		if err := s.get(ctx, u, &resp); err != nil {
			return nil, err
		}
		rec := resp.Data.record(s)
		return &rec, nil
	case domain.EntityKindTrack:
		u := fmt.Sprintf("%s/track/?id=%s", s.baseURL, url.QueryEscape(externalID))
		var resp struct {
			Data trackItem `json:"data"`
		}
		if err := s.get(ctx, u, &resp); err != nil {
			return nil, err
		}
		rec := resp.Data.record(s)
		return &rec, nil
	default:
		return nil, fmt.Errorf("unsupported entity kind: %s", kind)
	}
}

func (s *RESTSource) Search(ctx context.Context, kind domain.EntityKind, query string) ([]domain.Record, error) {
	u := fmt.Sprintf("%s/search/?q=%s&type=%s", s.baseURL, url.QueryEscape(query), kind)

	switch kind {
	case domain.EntityKindArtist:
		var resp struct {
			Items []artistItem `json:"items"`
		}
		if err := s.get(ctx, u, &resp); err != nil {
			return nil, err
		}
		records := make([]domain.Record, 0, len(resp.Items))
		for i := range resp.Items {
			records = append(records, resp.Items[i].record(s))
		}
		return records, nil
	case domain.EntityKindAlbum:
		var resp struct {
			Items []albumItem `json:"items"`
		}
		if err := s.get(ctx, u, &resp); err != nil {
			return nil, err
		}
		records := make([]domain.Record, 0, len(resp.Items))
		for i := range resp.Items {
			records = append(records, resp.Items[i].record(s))
		}
		return records, nil
	case domain.EntityKindTrack:
		var resp struct {
			Items []trackItem `json:"items"`
		}
		if err := s.get(ctx, u, &resp); err != nil {
			return nil, err
		}
		records := make([]domain.Record, 0, len(resp.Items))
		for i := range resp.Items {
			records = append(records, resp.Items[i].record(s))
		}
		return records, nil
	default:
		return nil, fmt.Errorf("unsupported entity kind: %s", kind)
	}
}

// artistItem, albumItem and trackItem mirror the upstream payloads. IDs come
// back as either numbers or strings depending on the provider.
type artistItem struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	MBID    string      `json:"mbid"`
	Picture FlexCover   `json:"picture"`
}

func (i *artistItem) record(s *RESTSource) domain.Record {
	rec := domain.Record{
		Kind:       domain.EntityKindArtist,
		Source:     s.name,
		ExternalID: formatID(i.ID),
		Name:       i.Name,
		MBID:       i.MBID,
	}
	if len(i.Picture) > 0 {
		rec.ImageURL = s.absoluteURL(i.Picture[0])
	}
	return rec
}

type albumItem struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	ReleaseDate string      `json:"releaseDate"`
	UPC         string      `json:"upc"`
	MBID        string      `json:"mbid"`
	Genre       string      `json:"genre"`
	Cover       FlexCover   `json:"cover"`
	Artist      struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"artist"`
}

func (i *albumItem) record(s *RESTSource) domain.Record {
	rec := domain.Record{
		Kind:       domain.EntityKindAlbum,
		Source:     s.name,
		ExternalID: formatID(i.ID),
		Name:       i.Title,
		MBID:       i.MBID,
		UPC:        i.UPC,
		Year:       parseYear(i.ReleaseDate),
		Genre:      i.Genre,
		ArtistKey:  formatID(i.Artist.ID),
		ArtistName: i.Artist.Name,
	}
	if len(i.Cover) > 0 {
		rec.ImageURL = s.absoluteURL(i.Cover[0])
	}
	return rec
}

type trackItem struct {
	ID           json.Number `json:"id"`
	Title        string      `json:"title"`
	TrackNumber  int         `json:"trackNumber"`
	VolumeNumber int         `json:"volumeNumber"`
	Duration     int         `json:"duration"`
	ISRC         string      `json:"isrc"`
	MBID         string      `json:"mbid"`
	Genre        string      `json:"genre"`
	Artists      []struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"artists"`
	Album struct {
		ID          json.Number `json:"id"`
		Title       string      `json:"title"`
		ReleaseDate string      `json:"releaseDate"`
		Cover       FlexCover   `json:"cover"`
	} `json:"album"`
}

func (i *trackItem) record(s *RESTSource) domain.Record {
	rec := domain.Record{
		Kind:        domain.EntityKindTrack,
		Source:      s.name,
		ExternalID:  formatID(i.ID),
		Name:        i.Title,
		MBID:        i.MBID,
		ISRC:        i.ISRC,
		Year:        parseYear(i.Album.ReleaseDate),
		Duration:    i.Duration,
		TrackNumber: i.TrackNumber,
		DiscNumber:  i.VolumeNumber,
		Genre:       i.Genre,
		AlbumKey:    formatID(i.Album.ID),
		AlbumName:   i.Album.Title,
	}
	if len(i.Artists) > 0 {
		rec.ArtistKey = formatID(i.Artists[0].ID)
		rec.ArtistName = i.Artists[0].Name
	}
	if len(i.Album.Cover) > 0 {
		rec.ImageURL = s.absoluteURL(i.Album.Cover[0])
	}
	return rec
}

// absoluteURL resolves provider-relative image paths against the base URL.
func (s *RESTSource) absoluteURL(raw string) string {
	if raw == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return s.baseURL + "/" + strings.TrimPrefix(raw, "/")
}

func (s *RESTSource) get(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	return decoder.Decode(target)
}

func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	var year int
	if _, err := fmt.Sscanf(date[:4], "%d", &year); err != nil {
		return 0
	}
	return year
}

// formatID converts various ID types to string
func formatID(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FlexCover handles flexible cover image formats from provider APIs
type FlexCover []string

// UnmarshalJSON implements custom JSON unmarshaling for FlexCover
func (f *FlexCover) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = []string{s}
	case '[':
		var items []struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		var urls []string
		for _, item := range items {
			urls = append(urls, item.URL)
		}
		*f = urls
	case '{':
		var item struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		*f = []string{item.URL}
	}

	return nil
}
