package command

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/danmuck/capipc/internal/result"
)

var ErrDuplicateCommand = errors.New("command: duplicate command id")

// Format selects one of the two wire formats.
type Format uint8

const (
	Rich Format = iota
	Light
	formatCount
)

func (f Format) String() string {
	switch f {
	case Rich:
		return "rich"
	case Light:
		return "light"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// Entry is one resolved command.
type Entry[C any] struct {
	ID     uint32
	Name   string
	Invoke func(obj any, ctx C) result.Code
}

// Set is the immutable pair of tables for one type.
type Set[C any] struct {
	typ    reflect.Type
	tables [formatCount]map[uint32]Entry[C]
}

// Type is the exact dynamic type the set was declared for.
func (s *Set[C]) Type() reflect.Type {
	return s.typ
}

// Owns reports whether obj's dynamic type is the set's declared type.
func (s *Set[C]) Owns(obj any) bool {
	return obj != nil && reflect.TypeOf(obj) == s.typ
}

func (s *Set[C]) Lookup(f Format, id uint32) (Entry[C], bool) {
	if f >= formatCount {
		return Entry[C]{}, false
	}
	e, ok := s.tables[f][id]
	return e, ok
}

func (s *Set[C]) Len(f Format) int {
	if f >= formatCount {
		return 0
	}
	return len(s.tables[f])
}

// Entries lists one table ordered by id.
func (s *Set[C]) Entries(f Format) []Entry[C] {
	if f >= formatCount {
		return nil
	}
	out := make([]Entry[C], 0, len(s.tables[f]))
	for _, e := range s.tables[f] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type decl[C any] struct {
	format Format
	entry  Entry[C]
}

// Builder collects declarations for type T handled with context C.
type Builder[T any, C any] struct {
	decls []decl[C]
}

// Rich declares a rich-format command.
func (b *Builder[T, C]) Rich(id uint32, name string, fn func(T, C) result.Code) *Builder[T, C] {
	return b.add(Rich, id, name, fn)
}

// Light declares a light-format command.
func (b *Builder[T, C]) Light(id uint32, name string, fn func(T, C) result.Code) *Builder[T, C] {
	return b.add(Light, id, name, fn)
}

// Both declares the same command id in both formats.
func (b *Builder[T, C]) Both(id uint32, name string, fn func(T, C) result.Code) *Builder[T, C] {
	return b.add(Rich, id, name, fn).add(Light, id, name, fn)
}

func (b *Builder[T, C]) add(f Format, id uint32, name string, fn func(T, C) result.Code) *Builder[T, C] {
	b.decls = append(b.decls, decl[C]{
		format: f,
		entry: Entry[C]{
			ID:   id,
			Name: name,
			Invoke: func(obj any, ctx C) result.Code {
				return fn(obj.(T), ctx)
			},
		},
	})
	return b
}

// Build runs declare and assembles the tables. It performs no I/O and
// returns ErrDuplicateCommand when an id repeats within one format.
func Build[T any, C any](declare func(*Builder[T, C])) (*Set[C], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	b := &Builder[T, C]{}
	if declare != nil {
		declare(b)
	}
	set := &Set[C]{typ: typ}
	for f := range set.tables {
		set.tables[f] = make(map[uint32]Entry[C])
	}
	for _, d := range b.decls {
		table := set.tables[d.format]
		if prev, ok := table[d.entry.ID]; ok {
			return nil, fmt.Errorf(
				"%w: type=%s format=%s id=%d names=%q,%q",
				ErrDuplicateCommand, typ, d.format, d.entry.ID, prev.Name, d.entry.Name,
			)
		}
		table[d.entry.ID] = d.entry
	}
	return set, nil
}

type cacheKey struct {
	obj reflect.Type
	ctx reflect.Type
}

var cache sync.Map

// For returns the cached set for T, building it on first use. A build error
// is a configuration fault and panics.
func For[T any, C any](declare func(*Builder[T, C])) *Set[C] {
	key := cacheKey{obj: reflect.TypeOf((*T)(nil)).Elem(), ctx: reflect.TypeOf((*C)(nil)).Elem()}
	if v, ok := cache.Load(key); ok {
		return v.(*Set[C])
	}
	set, err := Build(declare)
	if err != nil {
		panic(err)
	}
	v, _ := cache.LoadOrStore(key, set)
	return v.(*Set[C])
}
