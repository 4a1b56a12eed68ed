// Package report renders run results for terminals and archives run
// reports to S3-compatible object storage.
package report
