package monitor

import (
	"encoding/json"
	"fmt"
)

// Field names used when a site is appended to the work log.
const (
	FieldSiteID = "id"
	FieldURL    = "url"
)

// ParseEntries decodes claimed entries. It fails closed: one entry with a
// missing or empty field rejects the whole batch so nothing gets acknowledged.
func ParseEntries(raw []RawEntry) ([]WorkEntry, error) {
	out := make([]WorkEntry, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: empty entry id", ErrMalformedEntry)
		}
		siteID, err := stringField(r, FieldSiteID)
		if err != nil {
			return nil, err
		}
		url, err := stringField(r, FieldURL)
		if err != nil {
			return nil, err
		}
		out = append(out, WorkEntry{EntryID: r.ID, SiteID: siteID, URL: url})
	}
	return out, nil
}

func stringField(r RawEntry, name string) (string, error) {
	v, ok := r.Fields[name]
	if !ok {
		return "", fmt.Errorf("%w: entry %s missing field %q", ErrMalformedEntry, r.ID, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: entry %s field %q has type %T", ErrMalformedEntry, r.ID, name, v)
	}
	if s == "" {
		return "", fmt.Errorf("%w: entry %s field %q is empty", ErrMalformedEntry, r.ID, name)
	}
	return s, nil
}

// EncodeOutcome serializes an outcome for the outcome queue.
func EncodeOutcome(o Outcome) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}
	return b, nil
}

// DecodeOutcome parses a queued outcome and checks the fields the permanent
// store requires.
func DecodeOutcome(b []byte) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(b, &o); err != nil {
		return Outcome{}, fmt.Errorf("unmarshal outcome: %w", err)
	}
	switch {
	case o.ID == "":
		return Outcome{}, fmt.Errorf("outcome missing id")
	case o.SiteID == "":
		return Outcome{}, fmt.Errorf("outcome %s missing websiteId", o.ID)
	case o.RegionID == "":
		return Outcome{}, fmt.Errorf("outcome %s missing regionId", o.ID)
	case !o.Status.Valid():
		return Outcome{}, fmt.Errorf("outcome %s has invalid status %q", o.ID, o.Status)
	}
	return o, nil
}
