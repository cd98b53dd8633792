package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildPath(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		data       *PathData
		want       string
		wantErr    bool
		errContain string
	}{
		{
			name:     "default template",
			template: "{{.Artist}}/{{.Year}} - {{.Album}}/{{.Disc}}-{{.Track}} {{.Title}}",
			data: &PathData{
				Artist: "Pink Floyd",
				Year:   1973,
				Album:  "The Dark Side of the Moon",
				Disc:   "01",
				Track:  "01",
				Title:  "Speak to Me",
			},
			want: "Pink Floyd/1973 - The Dark Side of the Moon/01-01 Speak to Me",
		},
		{
			name:     "custom template",
			template: "{{.Artist}} - {{.Album}}/{{.Track}}. {{.Title}}",
			data: &PathData{
				Artist: "The Beatles",
				Year:   1969,
				Album:  "Abbey Road",
				Disc:   "01",
				Track:  "05",
				Title:  "Something",
			},
			want: "The Beatles - Abbey Road/05. Something",
		},
		{
			name:     "template with only filename",
			template: "{{.Track}} - {{.Title}}",
			data: &PathData{
				Artist: "Artist",
				Year:   2020,
				Album:  "Album",
				Disc:   "01",
				Track:  "10",
				Title:  "Song Title",
			},
			want: "10 - Song Title",
		},
		{
			name:       "invalid template syntax",
			template:   "{{.Artist",
			data:       &PathData{Artist: "Test"},
			wantErr:    true,
			errContain: "parse layout template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPath(tt.template, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("BuildPath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errContain != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContain) {
					t.Errorf("BuildPath() error = %v, should contain %v", err, tt.errContain)
				}
				return
			}
			if got != tt.want {
				t.Errorf("BuildPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPathDataFor(t *testing.T) {
	data := PathDataFor("AC/DC", 1980, "Back in Black", 1, 6, "Back in Black?")

	if data.Artist != "ACDC" {
		t.Errorf("expected sanitized artist ACDC, got %q", data.Artist)
	}
	if data.Title != "Back in Black" {
		t.Errorf("expected sanitized title, got %q", data.Title)
	}
	if data.Disc != "01" || data.Track != "06" {
		t.Errorf("expected zero-padded numbers, got disc %q track %q", data.Disc, data.Track)
	}
	if data.Year != 1980 {
		t.Errorf("expected year 1980, got %d", data.Year)
	}
}

func TestBuildFullPath(t *testing.T) {
	data := PathDataFor("Nina Simone", 1965, "Pastel Blues", 1, 10, "Sinnerman")

	got, err := BuildFullPath("/music", "{{.Artist}}/{{.Year}} - {{.Album}}/{{.Disc}}-{{.Track}} {{.Title}}", data, "flac")
	if err != nil {
		t.Fatalf("BuildFullPath() error = %v", err)
	}

	want := filepath.Clean("/music/Nina Simone/1965 - Pastel Blues/01-10 Sinnerman.flac")
	if got != want {
		t.Errorf("BuildFullPath() = %q, want %q", got, want)
	}

	// Extension with a leading dot behaves the same.
	got2, err := BuildFullPath("/music", "{{.Title}}", data, ".flac")
	if err != nil {
		t.Fatalf("BuildFullPath() error = %v", err)
	}
	if got2 != filepath.Clean("/music/Sinnerman.flac") {
		t.Errorf("BuildFullPath() = %q", got2)
	}
}
