package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/hiermem/hiermem/internal/logging"
)

var log = logging.GetLogger("store")

// ErrNotFound reports a lookup for a block id the store does not hold.
var ErrNotFound = errors.New("block not found")

// ErrExists reports an insert with an id the store already holds.
var ErrExists = errors.New("block already exists")

const storeVersion = "1.0"

// document is the persisted shape of the whole store.
type document struct {
	Blocks   map[string]*blockRecord `json:"blocks"`
	Metadata documentMetadata        `json:"metadata"`
}

type documentMetadata struct {
	LastUpdate float64 `json:"last_update"`
	Version    string  `json:"version"`
}

func emptyDocument() *document {
	return &document{
		Blocks: map[string]*blockRecord{},
		Metadata: documentMetadata{
			LastUpdate: Now(),
			Version:    storeVersion,
		},
	}
}

// TierStats is the per-tier bucket of block and token counts.
type TierStats struct {
	Blocks int `json:"blocks"`
	Tokens int `json:"tokens"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalBlocks int                  `json:"total_blocks"`
	TotalTokens int                  `json:"total_tokens"`
	Tiers       map[string]TierStats `json:"tiers"`
}

// Store is the persistent tiered block store. The entire store is a
// single JSON document rewritten atomically on every mutation; an
// exclusive file lease serializes writers.
type Store struct {
	baseDir  string
	dataFile string
	lease    *flock.Flock
}

// Open initializes a store rooted at baseDir, creating the directory,
// the legacy per-tier touch files, and the store document as needed.
// A missing or corrupted document is reinitialized to an empty store.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	for _, tier := range Tiers() {
		tierFile := filepath.Join(baseDir, tier.FileName())
		if _, err := os.Stat(tierFile); os.IsNotExist(err) {
			if err := os.WriteFile(tierFile, []byte("{}"), 0644); err != nil {
				return nil, fmt.Errorf("failed to create tier file: %w", err)
			}
		}
	}

	statsFile := filepath.Join(baseDir, "stats.json")
	if _, err := os.Stat(statsFile); os.IsNotExist(err) {
		if err := os.WriteFile(statsFile, []byte("{}"), 0644); err != nil {
			return nil, fmt.Errorf("failed to create stats file: %w", err)
		}
	}

	s := &Store{
		baseDir:  baseDir,
		dataFile: filepath.Join(baseDir, "memory_store.json"),
		lease:    flock.New(filepath.Join(baseDir, "memory_store.lock")),
	}

	if err := s.ensureIntegrity(); err != nil {
		return nil, err
	}

	return s, nil
}

// BaseDir returns the directory the store is rooted at.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// ensureIntegrity makes sure the store document exists and parses,
// reinitializing it otherwise. This is the documented recovery policy.
func (s *Store) ensureIntegrity() error {
	if err := s.lease.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lease: %w", err)
	}
	defer s.lease.Unlock()

	if _, err := s.load(); err != nil {
		log.Warn("store document missing or corrupted, reinitializing", "error", err)
		if err := s.save(emptyDocument()); err != nil {
			return fmt.Errorf("failed to reinitialize store: %w", err)
		}
	}
	return nil
}

// load reads and parses the whole store document. Callers must hold the
// lease.
func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.dataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read store document: %w", err)
	}

	doc := &document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse store document: %w", err)
	}
	if doc.Blocks == nil {
		return nil, fmt.Errorf("store document has no blocks section")
	}

	return doc, nil
}

// save writes the whole store document with write-then-rename so a
// crash mid-write leaves the previous document intact. Callers must
// hold the lease.
func (s *Store) save(doc *document) error {
	doc.Metadata.LastUpdate = Now()
	if doc.Metadata.Version == "" {
		doc.Metadata.Version = storeVersion
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store document: %w", err)
	}

	tmp := s.dataFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write store document: %w", err)
	}
	if err := os.Rename(tmp, s.dataFile); err != nil {
		return fmt.Errorf("failed to replace store document: %w", err)
	}
	return nil
}

// loadOrRecover reads the document, falling back to an empty store on
// parse failure per the recovery policy. Callers must hold the lease.
func (s *Store) loadOrRecover() (*document, error) {
	doc, err := s.load()
	if err == nil {
		return doc, nil
	}
	log.Warn("recovering store document", "error", err)
	doc = emptyDocument()
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Add inserts a new block. It fails if the id is already present.
func (s *Store) Add(b *Block) error {
	if err := s.lease.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lease: %w", err)
	}
	defer s.lease.Unlock()

	doc, err := s.loadOrRecover()
	if err != nil {
		return err
	}

	if _, ok := doc.Blocks[b.ID]; ok {
		return fmt.Errorf("block %s: %w", b.ID, ErrExists)
	}

	doc.Blocks[b.ID] = recordFromBlock(b)
	return s.save(doc)
}

// Get returns all blocks currently tagged with the given tier. Blocks
// below working memory are returned with their summary as content.
func (s *Store) Get(tier Tier) ([]*Block, error) {
	if err := s.lease.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire store lease: %w", err)
	}
	defer s.lease.Unlock()

	doc, err := s.loadOrRecover()
	if err != nil {
		return nil, err
	}

	var blocks []*Block
	for _, record := range doc.Blocks {
		if record.Status.tier() == tier {
			blocks = append(blocks, blockFromRecord(record, true))
		}
	}
	return blocks, nil
}

// Find locates a block by id across all tiers. Blocks below working
// memory are returned with their summary as content.
func (s *Store) Find(id string) (*Block, error) {
	if err := s.lease.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire store lease: %w", err)
	}
	defer s.lease.Unlock()

	doc, err := s.loadOrRecover()
	if err != nil {
		return nil, err
	}

	record, ok := doc.Blocks[id]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", id, ErrNotFound)
	}
	return blockFromRecord(record, true), nil
}

// Update replaces the record for an existing block. The stored summary
// field survives the update so demoted blocks keep their stand-in
// content. For a block stored below working memory the stored original
// content is kept, since reads of such a block only expose its summary.
func (s *Store) Update(b *Block) error {
	if err := s.lease.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lease: %w", err)
	}
	defer s.lease.Unlock()

	doc, err := s.loadOrRecover()
	if err != nil {
		return err
	}

	existing, ok := doc.Blocks[b.ID]
	if !ok {
		return fmt.Errorf("block %s: %w", b.ID, ErrNotFound)
	}

	record := recordFromBlock(b)
	if record.Summary == "" {
		record.Summary = existing.Summary
	}
	if existing.Status.tier() != TierWorking {
		record.Content = existing.Content
	}
	doc.Blocks[b.ID] = record
	return s.save(doc)
}

// Move flips a block's one-hot tier flags from one tier to another.
// When the destination is below working memory and the block has no
// summary yet, one is generated from its w3w reference.
func (s *Store) Move(id string, from, to Tier) error {
	if err := s.lease.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lease: %w", err)
	}
	defer s.lease.Unlock()

	doc, err := s.loadOrRecover()
	if err != nil {
		return err
	}

	record, ok := doc.Blocks[id]
	if !ok {
		return fmt.Errorf("block %s: %w", id, ErrNotFound)
	}

	record.Status.set(from, false)
	record.Status.set(to, true)

	if to != TierWorking && record.Summary == "" {
		record.Summary = SummaryPlaceholder(record.W3WReference)
	}

	return s.save(doc)
}

// Stats returns totals and per-tier block and token counts.
func (s *Store) Stats() (*Stats, error) {
	if err := s.lease.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire store lease: %w", err)
	}
	defer s.lease.Unlock()

	doc, err := s.loadOrRecover()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Tiers: map[string]TierStats{},
	}
	for _, tier := range Tiers() {
		stats.Tiers[tier.String()] = TierStats{}
	}

	for _, record := range doc.Blocks {
		stats.TotalBlocks++
		stats.TotalTokens += record.Tokens

		bucket := stats.Tiers[record.Status.tier().String()]
		bucket.Blocks++
		bucket.Tokens += record.Tokens
		stats.Tiers[record.Status.tier().String()] = bucket
	}

	return stats, nil
}
