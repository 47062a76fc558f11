package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is the embedded driver selected by TESTING=true or an empty
// STORE_URI. Documents are normalized through BSON marshaling so both
// drivers see the same value types, and the filter/pipeline subset the
// engine uses is evaluated in place.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]bson.M
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]bson.M)}
}

func toDoc(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return m, nil
}

func (s *MemoryStore) InsertOne(ctx context.Context, collection string, doc any) error {
	m, err := toDoc(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if collection == CollectionUsers {
		id := m["user_id"]
		for _, existing := range s.collections[collection] {
			if fieldMatches(existing["user_id"], id) {
				return ErrDuplicateKey
			}
		}
	}

	s.collections[collection] = append(s.collections[collection], m)
	return nil
}

func (s *MemoryStore) FindOne(ctx context.Context, collection string, filter bson.M, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			return decodeDoc(doc, out)
		}
	}
	return ErrNotFound
}

// Find snapshots the matching documents: cursors decode after the lock is
// released, and UpdateOne mutates stored documents in place, so handing out
// the live maps would race any concurrent list against an update.
func (s *MemoryStore) Find(ctx context.Context, collection string, filter bson.M) (Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []bson.M
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			copied, err := toDoc(doc)
			if err != nil {
				return nil, err
			}
			result = append(result, copied)
		}
	}
	return &memCursor{docs: result}, nil
}

func (s *MemoryStore) UpdateOne(ctx context.Context, collection string, filter bson.M, set bson.M) (int64, error) {
	normalized, err := toDoc(set)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			for k, v := range normalized {
				doc[k] = v
			}
			return 1, nil
		}
	}
	return 0, nil
}

func (s *MemoryStore) DeleteOne(ctx context.Context, collection string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	for i, doc := range docs {
		if matches(doc, filter) {
			s.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *MemoryStore) DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []bson.M
	var deleted int64
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return deleted, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, collection string, pipeline []bson.M) (Cursor, error) {
	s.mu.RLock()
	docs := make([]bson.M, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		copied, err := toDoc(doc)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		docs = append(docs, copied)
	}
	s.mu.RUnlock()

	for _, stage := range pipeline {
		for op, arg := range stage {
			switch op {
			case "$match":
				filter, ok := asFilter(arg)
				if !ok {
					return nil, fmt.Errorf("aggregate: malformed $match stage")
				}
				var matched []bson.M
				for _, doc := range docs {
					if matches(doc, filter) {
						matched = append(matched, doc)
					}
				}
				docs = matched
			case "$group":
				spec, ok := asFilter(arg)
				if !ok {
					return nil, fmt.Errorf("aggregate: malformed $group stage")
				}
				grouped, err := groupDocs(docs, spec)
				if err != nil {
					return nil, err
				}
				docs = grouped
			default:
				return nil, fmt.Errorf("aggregate: unsupported stage %q", op)
			}
		}
	}
	return &memCursor{docs: docs}, nil
}

// groupDocs implements $group for a nil/constant _id with $sum and $avg
// accumulators, the subset velocity evaluation relies on. Non-numeric
// values are skipped; $avg over zero numeric inputs yields null; grouping
// zero documents yields zero output documents.
func groupDocs(docs []bson.M, spec bson.M) ([]bson.M, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	out := bson.M{"_id": spec["_id"]}
	for field, accExpr := range spec {
		if field == "_id" {
			continue
		}
		acc, ok := asFilter(accExpr)
		if !ok || len(acc) != 1 {
			return nil, fmt.Errorf("aggregate: malformed accumulator for %q", field)
		}
		for op, expr := range acc {
			var sum float64
			var n int
			for _, doc := range docs {
				v, ok := numeric(evalExpr(expr, doc))
				if !ok {
					continue
				}
				sum += v
				n++
			}
			switch op {
			case "$sum":
				out[field] = sum
			case "$avg":
				if n == 0 {
					out[field] = nil
				} else {
					out[field] = sum / float64(n)
				}
			default:
				return nil, fmt.Errorf("aggregate: unsupported accumulator %q", op)
			}
		}
	}
	return []bson.M{out}, nil
}

// evalExpr resolves "$field" references against the document and passes
// literals through.
func evalExpr(expr any, doc bson.M) any {
	if s, ok := expr.(string); ok && strings.HasPrefix(s, "$") {
		return doc[strings.TrimPrefix(s, "$")]
	}
	return expr
}

func (s *MemoryStore) EnsureIndexes(ctx context.Context) error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

type memCursor struct {
	docs []bson.M
	idx  int
	cur  bson.M
}

func (c *memCursor) Next(ctx context.Context) bool {
	if c.idx >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.idx]
	c.idx++
	return true
}

func (c *memCursor) Decode(v any) error {
	return decodeDoc(c.cur, v)
}

func (c *memCursor) Err() error { return nil }

func (c *memCursor) Close(ctx context.Context) error { return nil }

func decodeDoc(doc bson.M, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return bson.Unmarshal(raw, out)
}

// matches evaluates the filter subset the engine uses: field equality
// (with Mongo's array-contains semantics), $or/$and, and the comparison
// operators $gte/$gt/$lte/$lt/$ne/$in.
func matches(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$or":
			clauses := asFilterList(cond)
			ok := false
			for _, clause := range clauses {
				if matches(doc, clause) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		case "$and":
			for _, clause := range asFilterList(cond) {
				if !matches(doc, clause) {
					return false
				}
			}
		default:
			docVal, exists := doc[key]
			if ops, ok := operatorExpr(cond); ok {
				if !matchOps(docVal, exists, ops) {
					return false
				}
				continue
			}
			if !exists || !fieldMatches(docVal, cond) {
				return false
			}
		}
	}
	return true
}

func matchOps(docVal any, exists bool, ops bson.M) bool {
	for op, arg := range ops {
		switch op {
		case "$gte":
			cmp, ok := compareValues(docVal, arg)
			if !exists || !ok || cmp < 0 {
				return false
			}
		case "$gt":
			cmp, ok := compareValues(docVal, arg)
			if !exists || !ok || cmp <= 0 {
				return false
			}
		case "$lte":
			cmp, ok := compareValues(docVal, arg)
			if !exists || !ok || cmp > 0 {
				return false
			}
		case "$lt":
			cmp, ok := compareValues(docVal, arg)
			if !exists || !ok || cmp >= 0 {
				return false
			}
		case "$ne":
			if exists && fieldMatches(docVal, arg) {
				return false
			}
		case "$in":
			if !exists {
				return false
			}
			items, ok := asList(arg)
			if !ok {
				return false
			}
			found := false
			for _, item := range items {
				if fieldMatches(docVal, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// operatorExpr reports whether cond is an operator document (every key
// begins with "$") rather than a literal value.
func operatorExpr(cond any) (bson.M, bool) {
	m, ok := asFilter(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// fieldMatches applies Mongo equality: a document-side array matches a
// scalar when any element equals it.
func fieldMatches(docVal, filterVal any) bool {
	if arr, ok := asList(docVal); ok && !isList(filterVal) {
		for _, el := range arr {
			if scalarEqual(el, filterVal) {
				return true
			}
		}
		return false
	}
	return scalarEqual(docVal, filterVal)
}

func scalarEqual(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return false
}

// compareValues orders two scalars after coercing numeric and time
// representations onto common types.
func compareValues(a, b any) (int, bool) {
	if af, aok := numeric(a); aok {
		bf, bok := numeric(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if at, aok := asTime(a); aok {
		bt, bok := asTime(b)
		if !bok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	if as, aok := a.(string); aok {
		bs, bok := b.(string)
		if !bok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if ab, aok := a.(bool); aok {
		bb, bok := b.(bool)
		if !bok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		default:
			return 1, true
		}
	}
	if a == nil && b == nil {
		return 0, true
	}
	return 0, false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	default:
		return time.Time{}, false
	}
}

func asFilter(v any) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return bson.M(m), true
	default:
		return nil, false
	}
}

func asFilterList(v any) []bson.M {
	var out []bson.M
	switch list := v.(type) {
	case []bson.M:
		return list
	case primitive.A:
		for _, el := range list {
			if m, ok := asFilter(el); ok {
				out = append(out, m)
			}
		}
	case []any:
		for _, el := range list {
			if m, ok := asFilter(el); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case primitive.A:
		return []any(list), true
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func isList(v any) bool {
	_, ok := asList(v)
	return ok
}
