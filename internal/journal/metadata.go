package journal

import (
	"encoding/json"
	"strconv"
)

// Well-known metadata keys.
const (
	KeyTitle            = "title"
	KeyDescription      = "description"
	KeyComments         = "comments"
	KeySharedBy         = "shared_by"
	KeyDownloadedBy     = "downloaded_by"
	KeyMimeType         = "mime_type"
	KeyFavorite         = "keep"
	KeyOriginalObjectID = "original_object_id"
)

// Keys that only make sense inside the originating store. They are stripped
// when an object is packaged for transfer.
var reservedKeys = map[string]bool{
	"object_id": true,
	"preview":   true,
	"progress":  true,
}

// Metadata is the string-keyed property map attached to a journal object.
// Values are strings; list-shaped fields (comments, downloaded_by) are stored
// as JSON-encoded strings, matching how the journal keeps them.
type Metadata map[string]string

// Clone returns an independent copy of m.
func (m Metadata) Clone() Metadata {
	cp := make(Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// decodeMetadata reads a metadata document produced by any peer. Values are
// coerced to strings: numbers and bools are formatted, lists and objects are
// re-encoded as JSON. Peers are not trusted to send flat string maps.
func decodeMetadata(raw []byte) (Metadata, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	md := make(Metadata, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case string:
			md[k] = val
		case nil:
			md[k] = ""
		case float64:
			md[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			md[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			md[k] = string(b)
		}
	}
	return md, nil
}

// Identity names a participant: display name plus [stroke, fill] icon colors.
// The shape matches the journal's comment-box records.
type Identity struct {
	From string   `json:"from"`
	Icon []string `json:"icon"`
}

// Comment is one entry of an object's comment list.
type Comment struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	IconColor string `json:"icon-color"`
}

// Downloaders decodes the downloaded_by metadata list. Missing or malformed
// values yield an empty list, never an error.
func (m Metadata) Downloaders() []Identity {
	var out []Identity
	if raw, ok := m[KeyDownloadedBy]; ok {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	if out == nil {
		out = []Identity{}
	}
	return out
}

// Comments decodes the comments metadata list, tolerantly.
func (m Metadata) Comments() []Comment {
	var out []Comment
	if raw, ok := m[KeyComments]; ok {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	if out == nil {
		out = []Comment{}
	}
	return out
}

// SharedBy decodes the shared_by identity, tolerantly.
func (m Metadata) SharedBy() Identity {
	var out Identity
	if raw, ok := m[KeySharedBy]; ok {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	return out
}
