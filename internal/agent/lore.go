package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/fateweaver/internal/lore"
)

// Compile-time check that [Librarian] satisfies [Agent].
var _ Agent = (*Librarian)(nil)

// Librarian is the lore lookup agent. Unlike the other agents it calls no
// language model: a lookup runs the hybrid retrieval of the world pack
// and formats the hits for prompt injection.
type Librarian struct {
	retrievers map[string]*lore.Retriever
}

// NewLibrarian creates the agent over one retriever per world pack id.
// The map is captured as-is and must not be mutated afterwards.
func NewLibrarian(retrievers map[string]*lore.Retriever) *Librarian {
	return &Librarian{retrievers: retrievers}
}

// Name implements [Agent].
func (l *Librarian) Name() string { return "lore" }

// Invoke implements [Agent]. An empty query falls back to the raw player
// input, so "the player asked about X" and "look up X" both work.
func (l *Librarian) Invoke(ctx context.Context, req Request) (Result, error) {
	lc := req.Lore
	if lc == nil {
		return Result{}, errors.New("agent: lore: request carries no lore context")
	}
	rt, ok := l.retrievers[lc.WorldPackID]
	if !ok {
		return Result{}, fmt.Errorf("agent: lore: no retriever for world pack %q", lc.WorldPackID)
	}

	query := strings.TrimSpace(lc.Query)
	if query == "" {
		query = strings.TrimSpace(req.PlayerInput)
	}

	content, err := rt.Search(ctx, lore.Query{
		Text:            query,
		CurrentLocation: lc.CurrentLocation,
		CurrentRegion:   lc.CurrentRegion,
		Lang:            req.Lang,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agent: lore: %w", err)
	}

	if len(lc.DiscoveredItems) > 0 {
		content += pick(req.Lang, "\n\n已发现物品：", "\n\nDiscovered items: ")
		content += strings.Join(lc.DiscoveredItems, pick(req.Lang, "、", ", "))
	}

	return Result{
		Content:  content,
		Metadata: map[string]string{"query": query},
	}, nil
}
