package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// PathData feeds the library layout template. String fields arrive already
// sanitized; Disc and Track are zero-padded strings so templates can join
// them without formatting verbs.
type PathData struct {
	Artist string
	Album  string
	Title  string
	Disc   string
	Track  string
	Year   int
}

// PathDataFor builds template data from track metadata, sanitizing every
// free-text field.
func PathDataFor(artist string, year int, album string, discNum, trackNum int, title string) *PathData {
	return &PathData{
		Artist: Sanitize(artist),
		Album:  Sanitize(album),
		Title:  Sanitize(title),
		Disc:   fmt.Sprintf("%02d", discNum),
		Track:  fmt.Sprintf("%02d", trackNum),
		Year:   year,
	}
}

// BuildPath executes the layout template and returns the relative path
// without extension.
func BuildPath(templateStr string, data *PathData) (string, error) {
	tmpl, err := template.New("subdir").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("parse layout template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute layout template: %w", err)
	}

	return buf.String(), nil
}

// BuildFullPath joins the library root, the rendered template and the
// extension into a cleaned destination path.
func BuildFullPath(libraryDir, templateStr string, data *PathData, ext string) (string, error) {
	relPath, err := BuildPath(templateStr, data)
	if err != nil {
		return "", err
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return filepath.Clean(filepath.Join(libraryDir, relPath+ext)), nil
}
