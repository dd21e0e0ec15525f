// Package mock provides configurable test doubles for [vector.Store] and
// [vector.Collection].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/fateweaver/pkg/vector"
)

// Compile-time interface checks.
var (
	_ vector.Store      = (*Store)(nil)
	_ vector.Collection = (*Collection)(nil)
)

// AddCall records one Add invocation.
type AddCall struct {
	Docs []vector.Document
}

// QueryCall records one Query invocation.
type QueryCall struct {
	Text  string
	TopK  int
	Where map[string]string
}

// Collection is a mock [vector.Collection]. Configure the result fields,
// then inspect the recorded calls. The zero value is ready to use.
type Collection struct {
	mu sync.Mutex

	// AddErr is returned by Add when set.
	AddErr error
	// QueryResults is returned by every Query call.
	QueryResults []vector.Result
	// QueryErr is returned by Query when set.
	QueryErr error
	// CountResult is returned by Count.
	CountResult int
	// CountErr is returned by Count when set.
	CountErr error

	// AddCalls records every Add invocation in order.
	AddCalls []AddCall
	// QueryCalls records every Query invocation in order.
	QueryCalls []QueryCall
	// CallCountCount is the number of Count invocations.
	CallCountCount int
}

// Add implements [vector.Collection].
func (c *Collection) Add(_ context.Context, docs []vector.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AddCalls = append(c.AddCalls, AddCall{Docs: docs})
	return c.AddErr
}

// Query implements [vector.Collection].
func (c *Collection) Query(_ context.Context, text string, topK int, where map[string]string) ([]vector.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QueryCalls = append(c.QueryCalls, QueryCall{Text: text, TopK: topK, Where: where})
	if c.QueryErr != nil {
		return nil, c.QueryErr
	}
	return c.QueryResults, nil
}

// Count implements [vector.Collection].
func (c *Collection) Count(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountCount++
	if c.CountErr != nil {
		return 0, c.CountErr
	}
	return c.CountResult, nil
}

// Reset clears all recorded calls.
func (c *Collection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AddCalls = nil
	c.QueryCalls = nil
	c.CallCountCount = 0
}

// Store is a mock [vector.Store]. Collections are created on demand and kept
// by name, so tests can prime a collection before the code under test looks
// it up and inspect it afterwards.
type Store struct {
	mu sync.Mutex

	// CollectionErr is returned by Collection when set.
	CollectionErr error
	// DeleteErr is returned by DeleteCollection when set.
	DeleteErr error

	cols map[string]*Collection

	// CollectionCalls records the names passed to Collection in order.
	CollectionCalls []string
	// DeleteCalls records the names passed to DeleteCollection in order.
	DeleteCalls []string
	// CallCountClose is the number of Close invocations.
	CallCountClose int
}

// NewStore returns an empty mock store.
func NewStore() *Store {
	return &Store{cols: make(map[string]*Collection)}
}

// Collection implements [vector.Store].
func (s *Store) Collection(_ context.Context, name string) (vector.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CollectionCalls = append(s.CollectionCalls, name)
	if s.CollectionErr != nil {
		return nil, s.CollectionErr
	}
	return s.get(name), nil
}

// DeleteCollection implements [vector.Store].
func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls = append(s.DeleteCalls, name)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.cols, name)
	return nil
}

// Close implements [vector.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Col returns the mock collection registered under name, creating it if
// needed. Use it to configure results before the test runs or to inspect
// recorded calls afterwards.
func (s *Store) Col(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(name)
}

// Reset clears all recorded calls on the store and every collection.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CollectionCalls = nil
	s.DeleteCalls = nil
	s.CallCountClose = 0
	for _, col := range s.cols {
		col.Reset()
	}
}

func (s *Store) get(name string) *Collection {
	col, ok := s.cols[name]
	if !ok {
		col = &Collection{}
		s.cols[name] = col
	}
	return col
}
