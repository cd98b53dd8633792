package catalog

import (
	"context"
	"strconv"

	"soulspot/internal/domain"
)

// MockSource serves scripted pages and records in tests.
type MockSource struct {
	SourceName string
	Pages      map[domain.EntityKind][]Page
	Records    map[string]*domain.Record
	SearchHits []domain.Record
	Err        error

	FetchCalls int
}

func NewMockSource(name string) *MockSource {
	return &MockSource{
		SourceName: name,
		Pages:      make(map[domain.EntityKind][]Page),
		Records:    make(map[string]*domain.Record),
	}
}

func (m *MockSource) Name() string {
	return m.SourceName
}

// AddPage appends a page to the scripted listing for kind. Cursors are page
// indexes; the last page gets an empty next cursor.
func (m *MockSource) AddPage(kind domain.EntityKind, records ...domain.Record) {
	pages := m.Pages[kind]
	if n := len(pages); n > 0 {
		pages[n-1].NextCursor = strconv.Itoa(n)
	}
	m.Pages[kind] = append(pages, Page{Records: records})
}

func (m *MockSource) FetchEntities(ctx context.Context, kind domain.EntityKind, cursor string) (*Page, error) {
	m.FetchCalls++
	if m.Err != nil {
		return nil, m.Err
	}

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	pages := m.Pages[kind]
	if idx >= len(pages) {
		return &Page{}, nil
	}
	page := pages[idx]
	return &page, nil
}

func (m *MockSource) GetRecord(ctx context.Context, kind domain.EntityKind, externalID string) (*domain.Record, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	record, ok := m.Records[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

func (m *MockSource) Search(ctx context.Context, kind domain.EntityKind, query string) ([]domain.Record, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.SearchHits, nil
}

var _ Source = (*MockSource)(nil)
