package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tier identifies the retention tier a block currently lives in.
type Tier int

const (
	TierWorking Tier = iota
	TierShortTerm
	TierLongTerm
	TierStale
)

// Tiers returns all tiers ordered from most to least active.
func Tiers() []Tier {
	return []Tier{TierWorking, TierShortTerm, TierLongTerm, TierStale}
}

// String returns the storage name of the tier
func (t Tier) String() string {
	switch t {
	case TierWorking:
		return "working"
	case TierShortTerm:
		return "short_term"
	case TierLongTerm:
		return "long_term"
	case TierStale:
		return "stale"
	default:
		return "unknown"
	}
}

// FileName returns the hyphenated legacy touch-file name for the tier
func (t Tier) FileName() string {
	return strings.ReplaceAll(t.String(), "_", "-") + ".memory"
}

// ParseTier converts a storage name back to a Tier
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers() {
		if t.String() == s {
			return t, nil
		}
	}
	return TierWorking, fmt.Errorf("unknown tier %q", s)
}

// Significance classifies where a block's content originated.
type Significance int

const (
	SignificanceSystem Significance = iota
	SignificanceUser
	SignificanceLLM
	SignificanceDerived
)

// String returns the storage name of the significance type
func (s Significance) String() string {
	switch s {
	case SignificanceSystem:
		return "system"
	case SignificanceUser:
		return "user"
	case SignificanceLLM:
		return "llm"
	case SignificanceDerived:
		return "derived"
	default:
		return "unknown"
	}
}

// ParseSignificance converts a storage name back to a Significance
func ParseSignificance(s string) (Significance, error) {
	switch s {
	case "system":
		return SignificanceSystem, nil
	case "user":
		return SignificanceUser, nil
	case "llm":
		return SignificanceLLM, nil
	case "derived":
		return SignificanceDerived, nil
	default:
		return SignificanceDerived, fmt.Errorf("unknown significance type %q", s)
	}
}

// MarshalJSON stores the significance as its string tag
func (s Significance) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the significance string tag
func (s *Significance) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := ParseSignificance(tag)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// References holds a block's outgoing links: lexical keywords and the
// ids of related blocks. Related blocks may form cycles; consumers walk
// them one hop only.
type References struct {
	Keywords      []string `json:"keywords"`
	RelatedBlocks []string `json:"related_blocks"`
}

// NexusMetadata is present on blocks flagged as nexus points.
type NexusMetadata struct {
	ImportanceScore float64 `json:"importance_score"`
	ProtectionLevel string  `json:"protection_level"`
	LastUpdate      float64 `json:"last_update"`
}

// Block is the unit of stored information.
//
// Content holds the original text while the block is in working memory;
// reads from lower tiers see the stored summary instead.
type Block struct {
	ID            string
	Content       string
	Tokens        int
	Timestamp     float64 // creation time, unix seconds
	Significance  Significance
	Tier          Tier
	IsNexus       bool
	AccessCount   int
	W3WReference  []string
	References    References
	NexusMetadata *NexusMetadata
	Summary       string
}

// NewBlock creates a working-tier block with empty references.
func NewBlock(id, content string, tokens int, significance Significance) *Block {
	return &Block{
		ID:           id,
		Content:      content,
		Tokens:       tokens,
		Timestamp:    Now(),
		Significance: significance,
		Tier:         TierWorking,
		W3WReference: []string{},
		References: References{
			Keywords:      []string{},
			RelatedBlocks: []string{},
		},
	}
}

// Age returns how long ago the block was created.
func (b *Block) Age() time.Duration {
	return time.Duration((Now() - b.Timestamp) * float64(time.Second))
}

// Now returns the current time as unix seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// tierStatus is the persisted one-hot tier flag vector.
type tierStatus struct {
	Working   bool `json:"working"`
	ShortTerm bool `json:"short_term"`
	LongTerm  bool `json:"long_term"`
	Stale     bool `json:"stale"`
}

func statusFor(t Tier) tierStatus {
	return tierStatus{
		Working:   t == TierWorking,
		ShortTerm: t == TierShortTerm,
		LongTerm:  t == TierLongTerm,
		Stale:     t == TierStale,
	}
}

// tier resolves the one-hot flags back to a Tier. Stale wins over
// long_term over short_term so a briefly inconsistent vector still
// resolves deterministically.
func (st tierStatus) tier() Tier {
	switch {
	case st.Stale:
		return TierStale
	case st.LongTerm:
		return TierLongTerm
	case st.ShortTerm:
		return TierShortTerm
	default:
		return TierWorking
	}
}

func (st *tierStatus) set(t Tier, on bool) {
	switch t {
	case TierWorking:
		st.Working = on
	case TierShortTerm:
		st.ShortTerm = on
	case TierLongTerm:
		st.LongTerm = on
	case TierStale:
		st.Stale = on
	}
}

// blockRecord is the on-disk shape of a single block.
type blockRecord struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Tokens        int            `json:"tokens"`
	Timestamp     float64        `json:"timestamp"`
	Significance  Significance   `json:"significance_type"`
	Status        tierStatus     `json:"status"`
	IsNexus       bool           `json:"is_nexus"`
	AccessCount   int            `json:"access_count"`
	W3WReference  []string       `json:"w3w_reference"`
	References    References     `json:"references"`
	NexusMetadata *NexusMetadata `json:"nexus_metadata"`
	Summary       string         `json:"summary,omitempty"`
}

// MarshalJSON emits nexus_metadata as an empty object rather than null
// when the block is not a nexus point.
func (r *blockRecord) MarshalJSON() ([]byte, error) {
	type alias blockRecord
	wrapped := struct {
		*alias
		NexusMetadata any `json:"nexus_metadata"`
	}{alias: (*alias)(r)}

	if r.NexusMetadata != nil {
		wrapped.NexusMetadata = r.NexusMetadata
	} else {
		wrapped.NexusMetadata = struct{}{}
	}
	return json.Marshal(wrapped)
}

// UnmarshalJSON treats an empty nexus_metadata object as absent.
func (r *blockRecord) UnmarshalJSON(data []byte) error {
	type alias blockRecord
	wrapped := struct {
		*alias
		NexusMetadata json.RawMessage `json:"nexus_metadata"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}

	trimmed := strings.TrimSpace(string(wrapped.NexusMetadata))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		r.NexusMetadata = nil
		return nil
	}
	meta := &NexusMetadata{}
	if err := json.Unmarshal(wrapped.NexusMetadata, meta); err != nil {
		return err
	}
	r.NexusMetadata = meta
	return nil
}

// recordFromBlock converts an in-memory block to its persisted shape.
func recordFromBlock(b *Block) *blockRecord {
	keywords := b.References.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	related := b.References.RelatedBlocks
	if related == nil {
		related = []string{}
	}
	w3w := b.W3WReference
	if w3w == nil {
		w3w = []string{}
	}

	return &blockRecord{
		ID:           b.ID,
		Content:      b.Content,
		Tokens:       b.Tokens,
		Timestamp:    b.Timestamp,
		Significance: b.Significance,
		Status:       statusFor(b.Tier),
		IsNexus:      b.IsNexus,
		AccessCount:  b.AccessCount,
		W3WReference: w3w,
		References: References{
			Keywords:      keywords,
			RelatedBlocks: related,
		},
		NexusMetadata: b.NexusMetadata,
		Summary:       b.Summary,
	}
}

// blockFromRecord converts a persisted record back to a block. When
// summarized is true and the block lives below working memory, the
// returned content is the stored summary (or a placeholder derived from
// the w3w reference).
func blockFromRecord(r *blockRecord, summarized bool) *Block {
	tier := r.Status.tier()

	content := r.Content
	if summarized && tier != TierWorking {
		if r.Summary != "" {
			content = r.Summary
		} else {
			content = SummaryPlaceholder(r.W3WReference)
		}
	}

	return &Block{
		ID:            r.ID,
		Content:       content,
		Tokens:        r.Tokens,
		Timestamp:     r.Timestamp,
		Significance:  r.Significance,
		Tier:          tier,
		IsNexus:       r.IsNexus,
		AccessCount:   r.AccessCount,
		W3WReference:  r.W3WReference,
		References:    r.References,
		NexusMetadata: r.NexusMetadata,
		Summary:       r.Summary,
	}
}

// SummaryPlaceholder builds the stand-in content for a demoted block
// from its w3w reference.
func SummaryPlaceholder(w3w []string) string {
	return "Summary: " + strings.Join(w3w, " • ")
}
