package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// failNth fails extraction for one page text and succeeds for the rest.
type failNth struct {
	failOn string
}

func (f *failNth) ExtractFields(_ context.Context, pageText string) (Fields, error) {
	if pageText == f.failOn {
		return Fields{}, fmt.Errorf("backend timeout")
	}
	return Fields{InvoiceNumber: "INV-" + pageText}, nil
}

func TestExtractPagesContinuesPastFailure(t *testing.T) {
	pages := []string{"one", "two", "three"}
	out := ExtractPages(context.Background(), &failNth{failOn: "two"}, pages)

	if len(out) != 3 {
		t.Fatalf("expected one entry per page, got %d", len(out))
	}
	for i, entry := range out {
		if entry.Page != i+1 {
			t.Fatalf("entry %d has page %d", i, entry.Page)
		}
	}
	if out[0].InvoiceNumber != "INV-one" || out[2].InvoiceNumber != "INV-three" {
		t.Fatalf("healthy pages must still extract: %+v", out)
	}
	if out[1].Error == "" || out[1].InvoiceNumber != "" {
		t.Fatalf("failed page must carry an error marker and empty fields: %+v", out[1])
	}
}

func TestExtractPagesEmpty(t *testing.T) {
	out := ExtractPages(context.Background(), &failNth{}, nil)
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

func TestExtractPage(t *testing.T) {
	pages := []string{"one", "two"}

	entry, err := ExtractPage(context.Background(), &failNth{}, pages, 2)
	if err != nil {
		t.Fatalf("ExtractPage: %v", err)
	}
	if entry.Page != 2 || entry.InvoiceNumber != "INV-two" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	for _, page := range []int{0, -1, 3} {
		if _, err := ExtractPage(context.Background(), &failNth{}, pages, page); !errors.Is(err, ErrPageOutOfRange) {
			t.Fatalf("page %d: expected ErrPageOutOfRange, got %v", page, err)
		}
	}

	if _, err := ExtractPage(context.Background(), &failNth{failOn: "one"}, pages, 1); err == nil {
		t.Fatal("single-page failure must surface to the caller")
	}
}
