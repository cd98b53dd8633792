// Package tagging writes canonical metadata into downloaded audio files.
// MP3 gets ID3v2.4 frames, FLAC gets a fresh Vorbis comment plus an optional
// picture block. The file's audio content is never touched.
package tagging

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"soulspot/internal/constants"
	"soulspot/internal/domain"
)

// ErrUnsupportedFormat is returned for extensions the tagger cannot write.
// Callers skip those files; transcoding is out of scope.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Apply rewrites the tags of the file at path from the merged library
// entities. artist and album may be nil when the track has no resolved
// parents; cover bytes are embedded when non-empty.
func Apply(path string, track, artist, album *domain.LibraryEntity, cover []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtFLAC:
		return applyFLAC(path, track, artist, album, cover)
	case constants.ExtMP3:
		return applyMP3(path, track, artist, album, cover)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func applyFLAC(path string, track, artist, album *domain.LibraryEntity, cover []byte) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parse flac: %w", err)
	}

	// Drop stale comment and picture blocks; stream info, seek tables and
	// everything else stay as they are.
	kept := f.Meta[:0]
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment || block.Type == flac.Picture {
			continue
		}
		kept = append(kept, block)
	}
	f.Meta = kept

	cmt := flacvorbis.New()
	add := func(field, value string) {
		if value != "" {
			_ = cmt.Add(field, value)
		}
	}

	add(flacvorbis.FIELD_TITLE, track.Name)
	if artist != nil {
		add(flacvorbis.FIELD_ARTIST, artist.Name)
		add("ALBUMARTIST", artist.Name)
	}
	if album != nil {
		add(flacvorbis.FIELD_ALBUM, album.Name)
		add("BARCODE", album.UPC)
	}
	if track.TrackNumber > 0 {
		add(flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(track.TrackNumber))
	}
	if track.DiscNumber > 0 {
		add("DISCNUMBER", strconv.Itoa(track.DiscNumber))
	}
	if y := yearOf(track, album); y > 0 {
		add(flacvorbis.FIELD_DATE, strconv.Itoa(y))
	}
	add(flacvorbis.FIELD_GENRE, genreOf(track, album))
	add(flacvorbis.FIELD_ISRC, track.ISRC)
	add("MUSICBRAINZ_TRACKID", track.MBID)

	cmtBlock := cmt.Marshal()
	f.Meta = append(f.Meta, &cmtBlock)

	if len(cover) > 0 {
		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, "Front Cover", cover, detectMime(cover))
		if err != nil {
			return fmt.Errorf("build flac picture: %w", err)
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}

	return f.Save(path)
}

func applyMP3(path string, track, artist, album *domain.LibraryEntity, cover []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open mp3 for tagging: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetTitle(track.Name)
	if artist != nil {
		tag.SetArtist(artist.Name)
		tag.AddTextFrame(tag.CommonID("Band/Orchestra/Accompaniment"), tag.DefaultEncoding(), artist.Name)
	}
	if album != nil {
		tag.SetAlbum(album.Name)
	}
	if y := yearOf(track, album); y > 0 {
		tag.SetYear(strconv.Itoa(y))
	}
	if g := genreOf(track, album); g != "" {
		tag.SetGenre(g)
	}
	if track.TrackNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), tag.DefaultEncoding(), strconv.Itoa(track.TrackNumber))
	}
	if track.DiscNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Part of a set"), tag.DefaultEncoding(), strconv.Itoa(track.DiscNumber))
	}
	if track.ISRC != "" {
		tag.AddTextFrame(tag.CommonID("ISRC"), tag.DefaultEncoding(), track.ISRC)
	}
	if track.MBID != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "MUSICBRAINZ_TRACKID",
			Value:       track.MBID,
		})
	}
	if album != nil && album.UPC != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "BARCODE",
			Value:       album.UPC,
		})
	}
	if len(cover) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    detectMime(cover),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     cover,
		})
	}

	return tag.Save()
}

// yearOf prefers the track year, falling back to the album release year.
func yearOf(track, album *domain.LibraryEntity) int {
	if track.Year > 0 {
		return track.Year
	}
	if album != nil {
		return album.Year
	}
	return 0
}

func genreOf(track, album *domain.LibraryEntity) string {
	if track.Genre != "" {
		return track.Genre
	}
	if album != nil {
		return album.Genre
	}
	return ""
}

// detectMime sniffs the image type from its header bytes. Unrecognized
// headers fall back to JPEG, the dominant artwork format.
func detectMime(data []byte) string {
	mime := http.DetectContentType(data)
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if !strings.HasPrefix(mime, "image/") {
		return constants.MimeTypeJPEG
	}
	return mime
}
