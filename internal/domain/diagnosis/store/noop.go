package store

import "context"

type noopStore struct{}

// NewNoop returns a store that never holds anything.
func NewNoop() Store { return noopStore{} }

func (noopStore) Put(context.Context, Entry) error                 { return nil }
func (noopStore) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }
func (noopStore) Remove(context.Context, string) error             { return nil }
func (noopStore) CleanupExpired(context.Context) error             { return nil }
func (noopStore) Close(context.Context) error                      { return nil }

func (noopStore) Stats(context.Context) (map[string]any, error) {
	return map[string]any{"type": DriverNone}, nil
}
