package extract

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ErrPageOutOfRange is returned when a requested page number exceeds the
// task's page count.
var ErrPageOutOfRange = errors.New("page number out of range")

// ExtractPages runs extraction over every page independently. A failed
// page gets an error marker and empty fields; the remaining pages are
// still extracted. The output always has one entry per input page, tagged
// with its 1-based page number.
func ExtractPages(ctx context.Context, ex Extractor, pages []string) []PageFields {
	out := make([]PageFields, 0, len(pages))
	for i, pageText := range pages {
		entry := PageFields{Page: i + 1}
		fields, err := ex.ExtractFields(ctx, pageText)
		if err != nil {
			log.Warn().Int("page", i+1).Err(err).Msg("page extraction failed, continuing batch")
			entry.Error = err.Error()
		} else {
			entry.Fields = fields
		}
		out = append(out, entry)
	}
	return out
}

// ExtractPage extracts a single 1-based page. Unlike the batch path, a
// failure here is surfaced to the caller; there is no other page to
// continue with.
func ExtractPage(ctx context.Context, ex Extractor, pages []string, page int) (PageFields, error) {
	if page < 1 || page > len(pages) {
		return PageFields{}, ErrPageOutOfRange
	}
	fields, err := ex.ExtractFields(ctx, pages[page-1])
	if err != nil {
		return PageFields{}, err
	}
	return PageFields{Fields: fields, Page: page}, nil
}
