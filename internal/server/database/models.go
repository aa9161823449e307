package database

import "time"

// Compression is one completed compression in the ledger. ID is the
// download identifier handed to the client.
type Compression struct {
	ID             string
	Filename       string
	Strategy       string
	Fallback       bool
	OriginalSize   int64
	CompressedSize int64
	Checksum       string
	CreatedAt      time.Time
	DownloadedAt   *time.Time // nil until downloaded
}

// Stats holds aggregate ledger statistics.
type Stats struct {
	TotalCompressions int64   `json:"total_compressions"`
	TotalDownloads    int64   `json:"total_downloads"`
	Fallbacks         int64   `json:"fallbacks"`
	BytesIn           int64   `json:"bytes_in"`
	BytesOut          int64   `json:"bytes_out"`
	AverageRatio      float64 `json:"average_ratio_percent"`
}
