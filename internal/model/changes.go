package model

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// ChangeEntry is one entry of the changes feed.
type ChangeEntry struct {
	Seq   int64  `json:"seq"`
	Event *Event `json:"event"`
}

// ChangesQuery asks for the changes after Since.
type ChangesQuery struct {
	Since   int64    `json:"since"`
	Limit   int      `json:"limit,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
}

// ChangesResult is the answer to a ChangesQuery.
// LastSeq is the highest sequence the server had emitted when it answered.
type ChangesResult struct {
	Changes []ChangeEntry `json:"changes"`
	LastSeq int64         `json:"lastSeq"`
}

// Filter selects events for a live subscription.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	// Tags maps a tag name to the accepted values. It is sent as "#<name>".
	Tags  map[string][]string
	Since *int64
	Until *int64
	Limit int
}

func (f Filter) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if len(f.IDs) > 0 {
		out["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		out["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		out["authors"] = f.Authors
	}
	for name, values := range f.Tags {
		out["#"+name] = values
	}
	if f.Since != nil {
		out["since"] = *f.Since
	}
	if f.Until != nil {
		out["until"] = *f.Until
	}
	if f.Limit > 0 {
		out["limit"] = f.Limit
	}

	return json.Marshal(out)
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = Filter{}
	for key, value := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(value, &f.IDs)
		case key == "kinds":
			err = json.Unmarshal(value, &f.Kinds)
		case key == "authors":
			err = json.Unmarshal(value, &f.Authors)
		case key == "since":
			f.Since = new(int64)
			err = json.Unmarshal(value, f.Since)
		case key == "until":
			f.Until = new(int64)
			err = json.Unmarshal(value, f.Until)
		case key == "limit":
			err = json.Unmarshal(value, &f.Limit)
		case strings.HasPrefix(key, "#"):
			var values []string
			err = json.Unmarshal(value, &values)
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[key[1:]] = values
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev *Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		found := false
		for _, v := range ev.Tags.Values(name) {
			if slices.Contains(values, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Matches reports whether the event passes the kind and author restrictions of the query.
func (q ChangesQuery) Matches(ev *Event) bool {
	if len(q.Kinds) > 0 && !slices.Contains(q.Kinds, ev.Kind) {
		return false
	}
	if len(q.Authors) > 0 && !slices.Contains(q.Authors, ev.PubKey) {
		return false
	}
	return true
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
