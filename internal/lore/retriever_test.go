package lore_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/fateweaver/internal/lore"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
	"github.com/MrWong99/fateweaver/pkg/vector"
	vectormock "github.com/MrWong99/fateweaver/pkg/vector/mock"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

// retrievalPack covers every scoring and filtering branch: a constant entry,
// a plain primary entry, a secondary-key entry, a detailed entry, entries
// scoped to a location and a region, and a constant that is location-scoped.
const retrievalPack = `{
  "info": {"id": "mistvale", "name": {"cn": "雾谷", "en": "Mistvale"}},
  "entries": {
    "1": {"constant": true, "order": 10,
          "content": {"cn": "雾谷笼罩在常年不散的薄雾之中。", "en": "Mistvale lies under a mist that never lifts."}},
    "2": {"primary_keys": ["石碑", "stone tablet"],
          "content": {"cn": "广场的石碑刻着褪色的铭文。", "en": "The tablet on the square bears faded inscriptions."}},
    "3": {"primary_keys": ["守夜人", "night watch"], "secondary_keys": ["钟楼", "bell tower"],
          "content": {"cn": "守夜人每夜从钟楼出发巡逻。", "en": "The night watch patrols from the bell tower."}},
    "4": {"primary_keys": ["龙脉", "dragon vein"], "visibility": "detailed",
          "content": {"cn": "山下沉睡着一条龙脉。", "en": "A dragon vein sleeps beneath the hills."}},
    "5": {"primary_keys": ["水井", "old well"], "applicable_locations": ["village_square"],
          "content": {"cn": "水井的底部藏着一枚铜币。", "en": "A copper coin hides at the bottom of the well."}},
    "6": {"primary_keys": ["渡鸦", "raven"], "applicable_regions": ["mistvale_valley"],
          "content": {"cn": "渡鸦在山谷上空盘旋。", "en": "Ravens circle above the valley."}},
    "7": {"primary_keys": ["城堡", "castle"], "constant": true, "applicable_locations": ["castle_gate"],
          "content": {"cn": "城门上刻着家族纹章。", "en": "The family crest is carved above the gate."}}
  },
  "locations": {
    "village_square": {"name": {"cn": "村庄广场", "en": "Village Square"}, "region_id": "mistvale_valley"},
    "castle_gate": {"name": {"cn": "城堡大门", "en": "Castle Gate"}}
  },
  "regions": {
    "mistvale_valley": {"name": {"cn": "雾谷山谷", "en": "Mistvale Valley"}, "location_ids": ["village_square"]}
  }
}`

func newTestPack(t *testing.T) *worldpack.Pack {
	t.Helper()
	pack, err := worldpack.Parse([]byte(retrievalPack))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return pack
}

// squareQuery returns a query positioned at the village square.
func squareQuery(text string) lore.Query {
	return lore.Query{
		Text:            text,
		CurrentLocation: "village_square",
		CurrentRegion:   "mistvale_valley",
		Lang:            types.LangCN,
	}
}

func uids(scored []lore.Scored) []int {
	out := make([]int, len(scored))
	for i, s := range scored {
		out[i] = s.Entry.UID
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ─────────────────────────────────────────────────────────────────────────────
// keyword scoring
// ─────────────────────────────────────────────────────────────────────────────

// TestSearchEntries_PrimaryMatch verifies that a primary-key hit is seeded
// with the primary weight and that constants rank first through their lower
// order value.
func TestSearchEntries_PrimaryMatch(t *testing.T) {
	t.Parallel()
	r := lore.New(newTestPack(t), nil)

	got, err := r.SearchEntries(context.Background(), squareQuery("石碑"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1, 2}; !slices.Equal(uids(got), want) {
		t.Fatalf("uids = %v, want %v", uids(got), want)
	}
	if !almostEqual(got[0].Score, 2.0) || !almostEqual(got[1].Score, 2.0) {
		t.Errorf("scores = %v/%v, want 2.0/2.0", got[0].Score, got[1].Score)
	}
}

// TestSearchEntries_SecondaryMatch verifies the lower secondary seed and
// that a secondary hit never upgrades an entry already matched through its
// primary keys.
func TestSearchEntries_SecondaryMatch(t *testing.T) {
	t.Parallel()
	r := lore.New(newTestPack(t), nil)

	got, err := r.SearchEntries(context.Background(), squareQuery("钟楼"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1, 3}; !slices.Equal(uids(got), want) {
		t.Fatalf("uids = %v, want %v", uids(got), want)
	}
	if !almostEqual(got[1].Score, 1.0) {
		t.Errorf("secondary score = %v, want 1.0", got[1].Score)
	}

	// Both the primary 守夜人 and the secondary 钟楼 appear in the query;
	// the primary seed must win.
	got, err = r.SearchEntries(context.Background(), squareQuery("守夜人与钟楼"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	for _, s := range got {
		if s.Entry.UID == 3 && !almostEqual(s.Score, 2.0) {
			t.Errorf("uid 3 score = %v, want primary seed 2.0", s.Score)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// vector pass
// ─────────────────────────────────────────────────────────────────────────────

// TestSearchEntries_DualMatchBoost verifies that an entry hit by both the
// keyword and the vector pass has its keyword score multiplied by the boost
// and outranks plain constants.
func TestSearchEntries_DualMatchBoost(t *testing.T) {
	t.Parallel()
	store := vectormock.NewStore()
	store.Col("lore_mistvale_cn").QueryResults = []vector.Result{{ID: "2", Distance: 0.2}}
	r := lore.New(newTestPack(t), store)

	got, err := r.SearchEntries(context.Background(), squareQuery("石碑"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{2, 1}; !slices.Equal(uids(got), want) {
		t.Fatalf("uids = %v, want %v", uids(got), want)
	}
	if !almostEqual(got[0].Score, 3.0) {
		t.Errorf("boosted score = %v, want 3.0", got[0].Score)
	}

	calls := store.Col("lore_mistvale_cn").QueryCalls
	if len(calls) != 1 || calls[0].Text != "石碑" || calls[0].TopK != lore.DefaultVectorTopK {
		t.Errorf("vector query calls = %+v, want one call with the raw query and topK %d", calls, lore.DefaultVectorTopK)
	}
}

// TestSearchEntries_VectorOnlyInsert verifies that entries found only by
// the vector pass are inserted with the weighted similarity score, and that
// results with unknown or non-numeric ids are skipped.
func TestSearchEntries_VectorOnlyInsert(t *testing.T) {
	t.Parallel()
	store := vectormock.NewStore()
	store.Col("lore_mistvale_cn").QueryResults = []vector.Result{
		{ID: "5", Distance: 0.25},
		{ID: "99", Distance: 0.1},
		{ID: "bogus", Distance: 0.1},
	}
	r := lore.New(newTestPack(t), store)

	got, err := r.SearchEntries(context.Background(), squareQuery("古墓"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1, 5}; !slices.Equal(uids(got), want) {
		t.Fatalf("uids = %v, want %v", uids(got), want)
	}
	if want := 0.8 * 0.75; !almostEqual(got[1].Score, want) {
		t.Errorf("vector score = %v, want %v", got[1].Score, want)
	}
}

// TestSearchEntries_VectorErrorsSwallowed verifies that vector-store
// failures degrade the search to keyword-only results without surfacing an
// error.
func TestSearchEntries_VectorErrorsSwallowed(t *testing.T) {
	t.Parallel()

	t.Run("query error", func(t *testing.T) {
		t.Parallel()
		store := vectormock.NewStore()
		store.Col("lore_mistvale_cn").QueryErr = errors.New("connection refused")
		r := lore.New(newTestPack(t), store)

		got, err := r.SearchEntries(context.Background(), squareQuery("石碑"))
		if err != nil {
			t.Fatalf("SearchEntries() error = %v", err)
		}
		if want := []int{1, 2}; !slices.Equal(uids(got), want) {
			t.Errorf("uids = %v, want keyword results %v", uids(got), want)
		}
	})

	t.Run("index error", func(t *testing.T) {
		t.Parallel()
		store := vectormock.NewStore()
		store.CollectionErr = errors.New("backend down")
		r := lore.New(newTestPack(t), store)

		got, err := r.SearchEntries(context.Background(), squareQuery("石碑"))
		if err != nil {
			t.Fatalf("SearchEntries() error = %v", err)
		}
		if want := []int{1, 2}; !slices.Equal(uids(got), want) {
			t.Errorf("uids = %v, want keyword results %v", uids(got), want)
		}
	})
}

// TestSearchEntries_LanguageSubcorpus verifies that the vector pass picks
// the collection matching the script of the query, not the session
// language.
func TestSearchEntries_LanguageSubcorpus(t *testing.T) {
	t.Parallel()
	store := vectormock.NewStore()
	r := lore.New(newTestPack(t), store)

	q := squareQuery("stone tablet")
	q.Lang = types.LangCN // session language must not influence the subcorpus
	if _, err := r.SearchEntries(context.Background(), q); err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}

	if n := len(store.Col("lore_mistvale_en").QueryCalls); n != 1 {
		t.Errorf("en collection queries = %d, want 1", n)
	}
	if n := len(store.Col("lore_mistvale_cn").QueryCalls); n != 0 {
		t.Errorf("cn collection queries = %d, want 0", n)
	}
}

// TestRetriever_IndexesOnce verifies that the pack is written to both
// per-language collections exactly once per retriever, no matter how many
// searches run.
func TestRetriever_IndexesOnce(t *testing.T) {
	t.Parallel()
	store := vectormock.NewStore()
	r := lore.New(newTestPack(t), store)

	if err := r.Index(context.Background()); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	for range 3 {
		if _, err := r.SearchEntries(context.Background(), squareQuery("石碑")); err != nil {
			t.Fatalf("SearchEntries() error = %v", err)
		}
	}

	for _, name := range []string{"lore_mistvale_cn", "lore_mistvale_en"} {
		adds := store.Col(name).AddCalls
		if len(adds) != 1 {
			t.Fatalf("%s Add calls = %d, want 1", name, len(adds))
		}
		if len(adds[0].Docs) != 7 {
			t.Errorf("%s indexed %d docs, want 7", name, len(adds[0].Docs))
		}
		for _, doc := range adds[0].Docs {
			if doc.Metadata["pack"] != "mistvale" {
				t.Errorf("doc %s metadata = %v, want pack=mistvale", doc.ID, doc.Metadata)
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// filters, caps and empty queries
// ─────────────────────────────────────────────────────────────────────────────

// TestSearchEntries_Filters verifies the visibility and scope rules:
// detailed entries never surface, scoped entries need the matching location
// or region, and even constants must pass the scope filters.
func TestSearchEntries_Filters(t *testing.T) {
	t.Parallel()
	r := lore.New(newTestPack(t), nil)

	tests := []struct {
		name string
		q    lore.Query
		want []int
	}{
		{
			name: "detailed entry dropped",
			q:    squareQuery("龙脉"),
			want: []int{1},
		},
		{
			name: "location scoped entry at its location",
			q:    squareQuery("水井"),
			want: []int{1, 5},
		},
		{
			name: "location scoped entry elsewhere",
			q: lore.Query{
				Text:            "水井",
				CurrentLocation: "castle_gate",
				Lang:            types.LangCN,
			},
			want: []int{1, 7},
		},
		{
			name: "region scoped entry inside the region",
			q:    squareQuery("渡鸦"),
			want: []int{1, 6},
		},
		{
			name: "region scoped entry without a region",
			q: lore.Query{
				Text:            "渡鸦",
				CurrentLocation: "castle_gate",
				Lang:            types.LangCN,
			},
			want: []int{1, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.SearchEntries(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("SearchEntries() error = %v", err)
			}
			if !slices.Equal(uids(got), tt.want) {
				t.Errorf("uids = %v, want %v", uids(got), tt.want)
			}
		})
	}
}

// TestSearchEntries_EmptyQuery verifies that an empty query returns only the
// filtered constant entries and never touches the vector store.
func TestSearchEntries_EmptyQuery(t *testing.T) {
	t.Parallel()
	store := vectormock.NewStore()
	r := lore.New(newTestPack(t), store)

	got, err := r.SearchEntries(context.Background(), squareQuery("  "))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1}; !slices.Equal(uids(got), want) {
		t.Errorf("uids = %v, want constants %v", uids(got), want)
	}
	if n := len(store.Col("lore_mistvale_cn").QueryCalls); n != 0 {
		t.Errorf("vector queries = %d, want 0 for an empty query", n)
	}
}

// TestSearchEntries_TopKCap verifies the result cap and that SetTunables
// takes effect on later searches.
func TestSearchEntries_TopKCap(t *testing.T) {
	t.Parallel()
	r := lore.New(newTestPack(t), nil)

	tun := r.Tunables()
	tun.TopK = 1
	r.SetTunables(tun)

	got, err := r.SearchEntries(context.Background(), squareQuery("石碑"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1}; !slices.Equal(uids(got), want) {
		t.Errorf("uids = %v, want %v after lowering TopK", uids(got), want)
	}
}

// TestRetriever_TunableLimits verifies the default tunables and that
// non-positive caps fall back to their defaults.
func TestRetriever_TunableLimits(t *testing.T) {
	t.Parallel()

	if got := lore.New(newTestPack(t), nil).Tunables(); got != lore.DefaultTunables() {
		t.Errorf("Tunables() = %+v, want defaults", got)
	}

	r := lore.New(newTestPack(t), nil, lore.WithTunables(lore.Tunables{TopK: -1, VectorTopK: 0}))
	got := r.Tunables()
	if got.TopK != lore.DefaultTopK || got.VectorTopK != lore.DefaultVectorTopK {
		t.Errorf("caps = %d/%d, want defaults %d/%d", got.TopK, got.VectorTopK, lore.DefaultTopK, lore.DefaultVectorTopK)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// keyword match modes
// ─────────────────────────────────────────────────────────────────────────────

// TestSearchEntries_OneWayKeys verifies that disabling bidirectional keys
// stops key-in-term containment: "ravens" no longer hits the key "raven".
func TestSearchEntries_OneWayKeys(t *testing.T) {
	t.Parallel()
	pack := newTestPack(t)

	bidi := lore.New(pack, nil)
	got, err := bidi.SearchEntries(context.Background(), squareQuery("ravens"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1, 6}; !slices.Equal(uids(got), want) {
		t.Fatalf("bidirectional uids = %v, want %v", uids(got), want)
	}

	tun := lore.DefaultTunables()
	tun.BidirectionalKeys = false
	oneWay := lore.New(pack, nil, lore.WithTunables(tun))
	got, err = oneWay.SearchEntries(context.Background(), squareQuery("ravens"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1}; !slices.Equal(uids(got), want) {
		t.Errorf("one-way uids = %v, want %v", uids(got), want)
	}
}

// TestSearchEntries_FuzzyAssist verifies the Damerau-Levenshtein assist:
// off by default, and matching transposition typos against individual words
// of multi-word keys when enabled.
func TestSearchEntries_FuzzyAssist(t *testing.T) {
	t.Parallel()
	pack := newTestPack(t)

	strict := lore.New(pack, nil)
	got, err := strict.SearchEntries(context.Background(), squareQuery("ravne"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1}; !slices.Equal(uids(got), want) {
		t.Fatalf("fuzzy off uids = %v, want %v", uids(got), want)
	}

	tun := lore.DefaultTunables()
	tun.FuzzyDistance = 1
	fuzzy := lore.New(pack, nil, lore.WithTunables(tun))

	got, err = fuzzy.SearchEntries(context.Background(), squareQuery("ravne"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1, 6}; !slices.Equal(uids(got), want) {
		t.Errorf("fuzzy uids = %v, want %v", uids(got), want)
	}

	// A typo one transposition away from "night" must hit the multi-word
	// key "night watch" through its first word.
	got, err = fuzzy.SearchEntries(context.Background(), squareQuery("nigth"))
	if err != nil {
		t.Fatalf("SearchEntries() error = %v", err)
	}
	if want := []int{1, 3}; !slices.Equal(uids(got), want) {
		t.Errorf("typo uids = %v, want %v", uids(got), want)
	}
}
