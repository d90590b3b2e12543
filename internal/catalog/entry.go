package catalog

import (
	"journalshare/internal/journal"
	"journalshare/internal/store"
)

// Entry is one row of the serialized catalog. The JSON keys are fixed: the
// web front end and remote viewers parse them.
type Entry struct {
	Title        string             `json:"title"`
	Description  string             `json:"desc"`
	Comments     []journal.Comment  `json:"comment"`
	ID           string             `json:"id"`
	SharedBy     journal.Identity   `json:"shared_by"`
	DownloadedBy []journal.Identity `json:"downloaded_by"`
}

// newEntry derives a view record from a stored object. Missing or malformed
// metadata fields default to empty rather than failing the entry.
func newEntry(obj *store.Object) Entry {
	md := obj.Metadata
	return Entry{
		Title:        md[journal.KeyTitle],
		Description:  md[journal.KeyDescription],
		Comments:     md.Comments(),
		ID:           obj.ID,
		SharedBy:     md.SharedBy(),
		DownloadedBy: md.Downloaders(),
	}
}
