package domain

import "encoding/json"

// ModificationFailure describes one feature that could not be written.
type ModificationFailure struct {
	ID       string `json:"id,omitempty"`
	Position int    `json:"position"`
	Message  string `json:"message"`
}

// FeatureCollection is the response of feature reads and writes.
type FeatureCollection struct {
	Features []*Feature           `json:"features"`
	Inserted []string             `json:"inserted,omitempty"`
	Updated  []string             `json:"updated,omitempty"`
	Deleted  []string             `json:"deleted,omitempty"`
	Failed   []ModificationFailure `json:"failed,omitempty"`
}

// MarshalJSON adds the GeoJSON type member.
func (c *FeatureCollection) MarshalJSON() ([]byte, error) {
	type plain FeatureCollection
	features := c.Features
	if features == nil {
		features = []*Feature{}
	}
	out := struct {
		Type string `json:"type"`
		*plain
		Features []*Feature `json:"features"`
	}{Type: "FeatureCollection", plain: (*plain)(c), Features: features}
	return json.Marshal(out)
}

// ModifyRequest is the body of a feature write: a collection of features.
type ModifyRequest struct {
	Features []*Feature `json:"features"`
}

// UnmarshalJSON accepts a FeatureCollection or a single Feature.
func (r *ModifyRequest) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Type == "FeatureCollection" || probe.Features != nil {
		r.Features = make([]*Feature, 0, len(probe.Features))
		for _, raw := range probe.Features {
			f, err := ParseFeature(raw)
			if err != nil {
				return err
			}
			r.Features = append(r.Features, f)
		}
		return nil
	}
	f, err := ParseFeature(data)
	if err != nil {
		return err
	}
	r.Features = []*Feature{f}
	return nil
}
