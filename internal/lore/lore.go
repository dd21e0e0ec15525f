// Package lore implements hybrid keyword and semantic retrieval over the
// lore entries of one world pack.
//
// A [Retriever] combines three scoring passes:
//
//  1. Keyword pass: query terms from [Tokenize] are matched against entry
//     primary and secondary keys. Primary matches seed a higher score than
//     secondary ones; a secondary match never upgrades a primary match.
//  2. Vector pass: the raw query is searched against the lore collection of
//     the query's own script. Similarity contributes a weighted score, and
//     entries hit by both passes have their score multiplied by the
//     dual-match boost.
//  3. Constant entries are merged in at a fixed score regardless of the
//     query, so world background is always eligible.
//
// Candidates are filtered by visibility and location/region scope, sorted
// by descending score with entry order breaking ties, and capped at
// [Tunables.TopK]. Vector-store failures degrade the search to keyword-only
// results; they are logged, never surfaced to the caller.
package lore

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
	"github.com/MrWong99/fateweaver/pkg/vector"
)

// Default tunable values.
const (
	DefaultPrimaryWeight   = 2.0
	DefaultSecondaryWeight = 1.0
	DefaultVectorWeight    = 0.8
	DefaultDualMatchBoost  = 1.5
	DefaultTopK            = 5
	DefaultVectorTopK      = 10
)

// constantEntryScore is the forced score of constant entries. It sits above
// any single non-boosted match so that world background survives the cap.
const constantEntryScore = 2.0

// Tunables are the retrieval weights and limits. They can be replaced at
// runtime through [Retriever.SetTunables], which is how configuration hot
// reload reaches a live retriever.
type Tunables struct {
	// PrimaryWeight seeds entries whose primary keys match a query term.
	PrimaryWeight float64

	// SecondaryWeight seeds entries matched only through secondary keys.
	SecondaryWeight float64

	// VectorWeight scales cosine similarity from the vector pass.
	VectorWeight float64

	// DualMatchBoost multiplies the score of entries hit by both the
	// keyword and the vector pass.
	DualMatchBoost float64

	// TopK caps the number of returned entries.
	TopK int

	// VectorTopK is the neighbour count requested from the vector store.
	VectorTopK int

	// BidirectionalKeys also matches when a key is contained in the query
	// term, not only the term in the key. This is the legacy behavior and
	// the default.
	BidirectionalKeys bool

	// FuzzyDistance enables a Damerau-Levenshtein keyword assist when
	// positive. Zero disables fuzzy matching.
	FuzzyDistance int
}

// DefaultTunables returns the stock retrieval settings.
func DefaultTunables() Tunables {
	return Tunables{
		PrimaryWeight:     DefaultPrimaryWeight,
		SecondaryWeight:   DefaultSecondaryWeight,
		VectorWeight:      DefaultVectorWeight,
		DualMatchBoost:    DefaultDualMatchBoost,
		TopK:              DefaultTopK,
		VectorTopK:        DefaultVectorTopK,
		BidirectionalKeys: true,
	}
}

// withLimits replaces non-positive caps with their defaults. Weights are
// left alone because zero is a legitimate way to disable a pass.
func (t Tunables) withLimits() Tunables {
	if t.TopK <= 0 {
		t.TopK = DefaultTopK
	}
	if t.VectorTopK <= 0 {
		t.VectorTopK = DefaultVectorTopK
	}
	return t
}

// Query is a single retrieval request. Text is the raw player input or
// agent query. CurrentLocation and CurrentRegion feed the scope filters; an
// empty value means entries restricted to specific locations or regions are
// dropped. Lang selects the language of formatted output. The vector
// subcorpus is chosen by detecting the script of Text, not by Lang.
type Query struct {
	Text            string
	CurrentLocation string
	CurrentRegion   string
	Lang            types.Lang
}

// Scored pairs a lore entry with its accumulated retrieval score.
type Scored struct {
	Entry *worldpack.LoreEntry
	Score float64
}

// Retriever searches one world pack. It lazily indexes the pack's entries
// into two per-language vector collections on first use; see
// [Retriever.Index]. All exported methods are goroutine-safe.
type Retriever struct {
	pack  *worldpack.Pack
	store vector.Store

	mu  sync.RWMutex
	tun Tunables

	indexOnce sync.Once
	indexErr  error
}

// Option is a functional option for [New].
type Option func(*Retriever)

// WithTunables overrides the initial retrieval tunables.
// Defaults to [DefaultTunables].
func WithTunables(t Tunables) Option {
	return func(r *Retriever) { r.tun = t.withLimits() }
}

// New creates a [Retriever] over pack backed by store. A nil store is
// allowed and turns the retriever into a keyword-only engine, which the
// tests and degraded deployments use.
func New(pack *worldpack.Pack, store vector.Store, opts ...Option) *Retriever {
	r := &Retriever{
		pack:  pack,
		store: store,
		tun:   DefaultTunables(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetTunables replaces the retrieval tunables for all future searches.
// Safe to call concurrently with searches.
func (r *Retriever) SetTunables(t Tunables) {
	r.mu.Lock()
	r.tun = t.withLimits()
	r.mu.Unlock()
}

// Tunables returns the currently active tunables.
func (r *Retriever) Tunables() Tunables {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tun
}

// Index builds the per-language lore collections for this pack. It runs at
// most once per Retriever; later calls return the first outcome. Searching
// triggers indexing on demand, so calling Index up front is optional and
// mainly useful to surface vector-store problems during startup.
func (r *Retriever) Index(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.indexOnce.Do(func() { r.indexErr = r.buildIndex(ctx) })
	return r.indexErr
}

func (r *Retriever) buildIndex(ctx context.Context) error {
	for _, lang := range []types.Lang{types.LangCN, types.LangEN} {
		name := collectionName(r.pack.ID(), lang)
		col, err := r.store.Collection(ctx, name)
		if err != nil {
			return fmt.Errorf("lore: open collection %s: %w", name, err)
		}
		var docs []vector.Document
		for _, e := range r.pack.Entries() {
			content := e.Content.In(lang)
			if content == "" {
				continue
			}
			docs = append(docs, vector.Document{
				ID:       strconv.Itoa(e.UID),
				Content:  content,
				Metadata: map[string]string{"pack": r.pack.ID()},
			})
		}
		if len(docs) == 0 {
			continue
		}
		if err := col.Add(ctx, docs); err != nil {
			return fmt.Errorf("lore: index collection %s: %w", name, err)
		}
	}
	return nil
}

// collectionName returns the vector collection holding packID's entries
// rendered in lang.
func collectionName(packID string, lang types.Lang) string {
	return fmt.Sprintf("lore_%s_%s", packID, lang)
}

// Search runs [Retriever.SearchEntries] and renders the result with
// [FormatResults].
func (r *Retriever) Search(ctx context.Context, q Query) (string, error) {
	if !q.Lang.IsValid() {
		q.Lang = types.LangCN
	}
	entries, err := r.SearchEntries(ctx, q)
	if err != nil {
		return "", err
	}
	return FormatResults(q.Text, q.Lang, entries), nil
}

// SearchEntries returns the top-scored lore entries for q, filtered and
// ordered. An empty query skips both the keyword and the vector pass and
// returns only the constant entries that survive the filters.
func (r *Retriever) SearchEntries(ctx context.Context, q Query) ([]Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tun := r.Tunables()

	cands := make(map[int]*candidate)
	if strings.TrimSpace(q.Text) != "" {
		r.keywordPass(q.Text, tun, cands)
		r.vectorPass(ctx, q.Text, tun, cands)
	}
	r.constantPass(cands)

	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		if !passesFilters(c.entry, q) {
			continue
		}
		scored = append(scored, Scored{Entry: c.entry, Score: c.score})
	}
	sortScored(scored)
	if len(scored) > tun.TopK {
		scored = scored[:tun.TopK]
	}
	return scored, nil
}

type candidate struct {
	entry *worldpack.LoreEntry
	score float64

	// keyword marks entries seeded by the keyword pass; only those are
	// eligible for the dual-match boost.
	keyword bool
}

// keywordPass seeds candidates from primary keys first, then from secondary
// keys for entries not already matched. A uid is seeded once; repeated hits
// from other terms do not accumulate.
func (r *Retriever) keywordPass(query string, tun Tunables, cands map[int]*candidate) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return
	}
	match := matchFuncFor(tun)
	entries := r.pack.Entries()

	for _, term := range terms {
		for _, e := range entries {
			if !e.MatchesPrimary(term, match) {
				continue
			}
			if _, ok := cands[e.UID]; !ok {
				cands[e.UID] = &candidate{entry: e, score: tun.PrimaryWeight, keyword: true}
			}
		}
	}
	for _, term := range terms {
		for _, e := range entries {
			if !e.MatchesSecondary(term, match) {
				continue
			}
			if _, ok := cands[e.UID]; !ok {
				cands[e.UID] = &candidate{entry: e, score: tun.SecondaryWeight, keyword: true}
			}
		}
	}
}

// vectorPass queries the language-matching collection and merges the
// results: keyword-seeded entries get the dual-match boost, new entries are
// inserted with the weighted similarity score. Every failure path degrades
// to keyword-only results with a warning.
func (r *Retriever) vectorPass(ctx context.Context, query string, tun Tunables, cands map[int]*candidate) {
	if r.store == nil {
		return
	}
	if err := r.Index(ctx); err != nil {
		slog.Warn("lore vector index unavailable, keyword-only results", "pack", r.pack.ID(), "error", err)
		return
	}
	name := collectionName(r.pack.ID(), types.DetectLang(query))
	col, err := r.store.Collection(ctx, name)
	if err != nil {
		slog.Warn("lore vector search failed, keyword-only results", "pack", r.pack.ID(), "collection", name, "error", err)
		return
	}
	results, err := col.Query(ctx, query, tun.VectorTopK, nil)
	if err != nil {
		slog.Warn("lore vector search failed, keyword-only results", "pack", r.pack.ID(), "collection", name, "error", err)
		return
	}

	for _, res := range results {
		uid, err := strconv.Atoi(res.ID)
		if err != nil {
			continue
		}
		if c, ok := cands[uid]; ok {
			if c.keyword {
				c.score *= tun.DualMatchBoost
			}
			continue
		}
		e, ok := r.pack.Entry(uid)
		if !ok {
			continue
		}
		cands[uid] = &candidate{entry: e, score: tun.VectorWeight * float64(1-res.Distance)}
	}
}

// constantPass forces every constant entry to [constantEntryScore],
// overriding whatever the earlier passes accumulated.
func (r *Retriever) constantPass(cands map[int]*candidate) {
	for _, e := range r.pack.Entries() {
		if !e.Constant {
			continue
		}
		if c, ok := cands[e.UID]; ok {
			c.score = constantEntryScore
		} else {
			cands[e.UID] = &candidate{entry: e, score: constantEntryScore}
		}
	}
}

// passesFilters applies the retrieval-time visibility and scope rules.
// Constant entries skip the visibility filter but still have to match the
// current location and region when they declare restrictions.
func passesFilters(e *worldpack.LoreEntry, q Query) bool {
	if e.Visibility == worldpack.VisibilityDetailed && !e.Constant {
		return false
	}
	if len(e.ApplicableLocations) > 0 && !slices.Contains(e.ApplicableLocations, q.CurrentLocation) {
		return false
	}
	if len(e.ApplicableRegions) > 0 && !slices.Contains(e.ApplicableRegions, q.CurrentRegion) {
		return false
	}
	return true
}

// sortScored orders by descending score, then ascending entry order, then
// uid so that equally ranked results are stable across runs.
func sortScored(scored []Scored) {
	slices.SortFunc(scored, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Entry.Order, b.Entry.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Entry.UID, b.Entry.UID)
	})
}
