package extraction

import (
	"digitaltwin/common/models"
	"digitaltwin/common/textnorm"
)

// Normalize cleans whitespace in every field, title-cases location and
// company and drops repeated requirement phrases.
func Normalize(f models.CastingCallFields) models.CastingCallFields {
	out := models.CastingCallFields{
		Title:        textnorm.CleanText(f.Title),
		Description:  textnorm.CleanText(f.Description),
		Company:      textnorm.TitleCase(f.Company),
		Location:     textnorm.TitleCase(f.Location),
		Compensation: textnorm.CleanText(f.Compensation),
		Deadline:     textnorm.CleanText(f.Deadline),
		ContactInfo:  textnorm.CleanText(f.ContactInfo),
	}

	seen := make(map[string]struct{}, len(f.Requirements))
	for _, r := range f.Requirements {
		r = textnorm.CleanText(r)
		key := textnorm.Fold(r)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Requirements = append(out.Requirements, r)
	}
	return out
}
