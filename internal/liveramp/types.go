// Package liveramp implements the LiveRamp Data Marketplace provider adapter:
// OAuth2 authentication, cursor-paginated catalog fetch and normalization of
// raw marketplace records into the local catalog row shape.
package liveramp

import (
	"encoding/json"
	"fmt"
)

// FlexString is a string type that can unmarshal from both string and number
// JSON values. The marketplace API is not consistent about id types.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler for FlexString
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}

	return fmt.Errorf("FlexString: cannot unmarshal %s", string(data))
}

// String returns the string value
func (f FlexString) String() string {
	return string(f)
}

// RawSegment is one catalog record as the buyer API returns it. The optional
// nested blocks (reach, subscriptions, categories) are kept as raw JSON and
// probed field-by-field during normalization, because their shape varies
// between providers and any of them may be absent or malformed.
type RawSegment struct {
	ID            FlexString      `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	ProviderName  string          `json:"providerName"`
	SegmentType   string          `json:"segmentType"`
	Reach         json.RawMessage `json:"reach"`
	Subscriptions json.RawMessage `json:"subscriptions"`
	Categories    json.RawMessage `json:"categories"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the typed fields and retains the original bytes
// verbatim for the raw_payload column.
func (s *RawSegment) UnmarshalJSON(data []byte) error {
	type alias RawSegment
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = RawSegment(a)
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw returns the original record bytes as received from the API.
func (s *RawSegment) Raw() []byte { return s.raw }

// segmentsPage is the wire shape of one catalog page.
type segmentsPage struct {
	Segments   []RawSegment `json:"v3_Segments"`
	Pagination struct {
		After string `json:"after"`
	} `json:"_pagination"`
}
