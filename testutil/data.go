package testutil

import (
	"fmt"
	"time"

	"github.com/c360/recordstream/csvcodec"
	"github.com/c360/recordstream/record"
)

// Records generates n deterministic records with distinct ids and emails.
// Timestamps tick one second apart so ordering assertions are stable.
func Records(n int) []record.Record {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recs := make([]record.Record, 0, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		recs = append(recs, record.Record{
			ID:        fmt.Sprintf("rec-%04d", i),
			Name:      fmt.Sprintf("Fixture User %d", i),
			Email:     fmt.Sprintf("fixture%d@example.com", i),
			Age:       20 + i%50,
			CreatedAt: ts,
			UpdatedAt: ts,
			Version:   1,
		})
	}
	return recs
}

// CSVDocument renders records as a full CSV document with header, suitable
// as an import payload.
func CSVDocument(recs []record.Record) ([]byte, error) {
	body, err := csvcodec.EncodeRows(recs)
	if err != nil {
		return nil, err
	}
	return append(csvcodec.EncodeHeader(), body...), nil
}
