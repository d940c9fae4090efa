package liveramp

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ignite/signals-agent/internal/catalog"
)

// Normalizer converts raw marketplace records into catalog rows. The
// population and cap drive the reach→coverage estimate; both are business
// heuristics supplied by configuration, not derived invariants.
type Normalizer struct {
	Population  int64
	CoverageCap float64
}

// NewNormalizer creates a Normalizer. Zero values fall back to the
// marketplace defaults (250M addressable population, 50% cap).
func NewNormalizer(population int64, capPct float64) *Normalizer {
	if population <= 0 {
		population = 250_000_000
	}
	if capPct <= 0 {
		capPct = 50.0
	}
	return &Normalizer{Population: population, CoverageCap: capPct}
}

// Normalize maps one raw segment to the store's row shape. Every optional
// nested block may be absent, partially shaped, or of unexpected type;
// missing data normalizes to nil/false and is accumulated in FieldGaps,
// never fabricated and never fatal.
func (n *Normalizer) Normalize(seg RawSegment) catalog.SegmentRecord {
	var gaps []string

	id := seg.ID.String()
	if id == "" {
		gaps = append(gaps, "id")
	}

	name := seg.Name
	if name == "" {
		name = fmt.Sprintf("LiveRamp Segment %s", id)
		gaps = append(gaps, "name")
	}
	if seg.Description == "" {
		gaps = append(gaps, "description")
	}

	provider := seg.ProviderName
	if provider == "" {
		provider = "Unknown Provider"
		gaps = append(gaps, "providerName")
	}

	reach, ok := decodeReach(seg.Reach)
	if !ok {
		gaps = append(gaps, "reach")
	}

	cpm, hasPricing, ok := decodePricing(seg.Subscriptions)
	if !ok {
		gaps = append(gaps, "subscriptions")
	}

	cats, ok := decodeCategories(seg.Categories)
	if !ok {
		gaps = append(gaps, "categories")
	}

	rec := catalog.SegmentRecord{
		SegmentID:    id,
		Name:         name,
		Description:  seg.Description,
		ProviderName: provider,
		SegmentType:  seg.SegmentType,
		Categories:   cats,
		ReachCount:   reach,
		HasPricing:   hasPricing,
		CPMPrice:     cpm,
		IsFree:       !hasPricing || (cpm != nil && *cpm == 0),
		RawPayload:   seg.Raw(),
		FieldGaps:    gaps,
	}

	if reach != nil {
		pct := n.coveragePct(*reach)
		rec.CoveragePct = &pct
		rec.HasCoverageData = true
	}

	rec.SearchText = composeSearchText(rec.Name, rec.Description, rec.ProviderName, cats)
	return rec
}

// coveragePct estimates the share of the addressable population a segment
// reaches: min(reach/population*100, cap), rounded to one decimal. A rough,
// capped estimate only.
func (n *Normalizer) coveragePct(reach int64) float64 {
	pct := float64(reach) / float64(n.Population) * 100
	if pct > n.CoverageCap {
		pct = n.CoverageCap
	}
	return math.Round(pct*10) / 10
}

// composeSearchText builds the one field the search index reads.
func composeSearchText(name, description, provider string, categories []string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{name, description, provider, strings.Join(categories, " ")} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// decodeReach probes reach.inputRecords.count. Returns (nil, false) when the
// block is absent or any level of it is not shaped as expected.
func decodeReach(raw json.RawMessage) (*int64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var reach struct {
		InputRecords struct {
			Count *int64 `json:"count"`
		} `json:"inputRecords"`
	}
	if err := json.Unmarshal(raw, &reach); err != nil {
		return nil, false
	}
	if reach.InputRecords.Count == nil {
		return nil, false
	}
	return reach.InputRecords.Count, true
}

// decodePricing takes the first valid priced offer in the subscription list.
// An explicit cpm (or value) of 0 is a priced offer at zero; a list with no
// price block at all means the segment is unpriced. Entries of unexpected
// shape are skipped rather than failing the record.
func decodePricing(raw json.RawMessage) (cpm *float64, hasPricing bool, present bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, false
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, false
	}
	for _, entry := range entries {
		var sub struct {
			Price *struct {
				CPM   *float64 `json:"cpm"`
				Value *float64 `json:"value"`
			} `json:"price"`
		}
		if err := json.Unmarshal(entry, &sub); err != nil || sub.Price == nil {
			continue
		}
		price := sub.Price.CPM
		if price == nil {
			price = sub.Price.Value
		}
		if price != nil {
			return price, true, true
		}
	}
	return nil, false, true
}

// decodeCategories accepts both {"name": "..."} objects and bare strings.
func decodeCategories(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(entry, &obj); err == nil && obj.Name != "" {
			names = append(names, obj.Name)
			continue
		}
		var s string
		if err := json.Unmarshal(entry, &s); err == nil && s != "" {
			names = append(names, s)
		}
	}
	return names, true
}
