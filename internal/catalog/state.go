package catalog

import (
	"context"
	"encoding/json"
	"io"
)

// savedState is the durable form of the selection, written on suspend and
// loaded on resume. The document is a dictionary so more fields can be added
// later without breaking old readers.
type savedState struct {
	SharedItems []string `json:"shared_items"`
}

// LoadState restores the selection from a saved-state document and
// regenerates the snapshot.
func (m *Manager) LoadState(ctx context.Context, r io.Reader) error {
	var st savedState
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return err
	}
	if st.SharedItems == nil {
		return nil
	}
	return m.SetSelection(ctx, st.SharedItems)
}

// SaveState writes the current selection as a saved-state document.
func (m *Manager) SaveState(w io.Writer) error {
	st := savedState{SharedItems: m.Selection()}
	if st.SharedItems == nil {
		st.SharedItems = []string{}
	}
	return json.NewEncoder(w).Encode(st)
}
