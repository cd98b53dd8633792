package dedup

import (
	"time"

	"soulspot/internal/domain"

	"github.com/google/uuid"
)

// fillEntity copies record fields into empty entity fields. Populated
// values always win over the newcomer.
func fillEntity(entity *domain.LibraryEntity, rec *domain.Record) bool {
	changed := false

	if entity.MBID == "" && rec.MBID != "" {
		entity.MBID = rec.MBID
		changed = true
	}
	if entity.ISRC == "" && rec.ISRC != "" {
		entity.ISRC = rec.ISRC
		changed = true
	}
	if entity.UPC == "" && rec.UPC != "" {
		entity.UPC = rec.UPC
		changed = true
	}
	if entity.SortName == "" && rec.SortName != "" {
		entity.SortName = rec.SortName
		changed = true
	}
	if entity.Year == 0 && rec.Year > 0 {
		entity.Year = rec.Year
		changed = true
	}
	if entity.Duration == 0 && rec.Duration > 0 {
		entity.Duration = rec.Duration
		changed = true
	}
	if entity.TrackNumber == 0 && rec.TrackNumber > 0 {
		entity.TrackNumber = rec.TrackNumber
		changed = true
	}
	if entity.DiscNumber == 0 && rec.DiscNumber > 0 {
		entity.DiscNumber = rec.DiscNumber
		changed = true
	}
	if entity.Genre == "" && rec.Genre != "" {
		entity.Genre = rec.Genre
		changed = true
	}
	if entity.ImageURL == "" && rec.ImageURL != "" {
		entity.ImageURL = rec.ImageURL
		changed = true
	}

	return changed
}

func newEntity(rec *domain.Record, parentID *string, now time.Time) *domain.LibraryEntity {
	sortName := rec.SortName
	if sortName == "" {
		sortName = domain.SortName(rec.Name)
	}

	return &domain.LibraryEntity{
		ID:          uuid.NewString(),
		Kind:        rec.Kind,
		ParentID:    parentID,
		Name:        rec.Name,
		NormName:    domain.NormalizeName(rec.Name),
		SortName:    sortName,
		Source:      rec.Source,
		ExternalIDs: domain.IDMap{rec.Source: rec.ExternalID},
		MBID:        rec.MBID,
		ISRC:        rec.ISRC,
		UPC:         rec.UPC,
		Year:        rec.Year,
		Duration:    rec.Duration,
		TrackNumber: rec.TrackNumber,
		DiscNumber:  rec.DiscNumber,
		Genre:       rec.Genre,
		ImageURL:    rec.ImageURL,
		Aliases:     domain.StringSlice{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// score rates how likely the record and the entity describe the same thing:
// name similarity, discounted for every populated field the two sides
// disagree on.
func score(entity *domain.LibraryEntity, rec *domain.Record) float64 {
	s := similarity(entity.NormName, domain.NormalizeName(rec.Name))

	if entity.Year > 0 && rec.Year > 0 && entity.Year != rec.Year {
		s -= 0.2
	}
	if entity.Duration > 0 && rec.Duration > 0 {
		delta := entity.Duration - rec.Duration
		if delta < 0 {
			delta = -delta
		}
		if delta > 5 {
			s -= 0.2
		}
	}
	if entity.TrackNumber > 0 && rec.TrackNumber > 0 && entity.TrackNumber != rec.TrackNumber {
		s -= 0.1
	}

	if s < 0 {
		return 0
	}
	return s
}

// similarity is the Dice coefficient over character bigrams of two
// normalized names. Identical strings score 1.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := make(map[string]int)
	for i := 0; i+2 <= len(a); i++ {
		bigrams[a[i:i+2]]++
	}

	matches := 0
	for i := 0; i+2 <= len(b); i++ {
		if bigrams[b[i:i+2]] > 0 {
			bigrams[b[i:i+2]]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(len(a)-1+len(b)-1)
}

// recordRank and entityRank measure completeness: populated fields count
// one each, an industry identifier counts double. Used to decide whether a
// conflicting name is credible enough to keep as an alias.
func recordRank(rec *domain.Record) int {
	rank := 0
	if rec.IndustryID() != "" {
		rank += 2
	}
	if rec.Year > 0 {
		rank++
	}
	if rec.Duration > 0 {
		rank++
	}
	if rec.Genre != "" {
		rank++
	}
	if rec.ImageURL != "" {
		rank++
	}
	return rank
}

func entityRank(entity *domain.LibraryEntity) int {
	rank := 0
	if entity.MBID != "" || entity.ISRC != "" || entity.UPC != "" {
		rank += 2
	}
	if entity.Year > 0 {
		rank++
	}
	if entity.Duration > 0 {
		rank++
	}
	if entity.Genre != "" {
		rank++
	}
	if entity.ImageURL != "" {
		rank++
	}
	return rank
}
