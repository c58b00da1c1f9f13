package handler

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"

	"github.com/cyberinferno/go-netserve/frame"
	"github.com/cyberinferno/go-netserve/logger"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrDuplicateTag is reported when two registrations claim one tag.
	ErrDuplicateTag = errors.New("duplicate handler tag")
	// ErrDuplicatePayload is reported when two registrations claim one payload type.
	ErrDuplicatePayload = errors.New("duplicate handler payload type")
	// ErrReservedTag is reported when a registration uses frame.TagNone.
	ErrReservedTag = errors.New("tag is reserved")
	// ErrNilFactory is reported when a registration has no factory.
	ErrNilFactory = errors.New("nil handler factory")
)

// Factory constructs a handler instance. It is called at most once per tag.
type Factory func() Handler

type entry struct {
	tag     uint32
	payload reflect.Type
	factory Factory
}

// Builder collects handler registrations before a Registry is built. It is
// not safe for concurrent use; register everything at startup.
type Builder struct {
	log     logger.Logger
	entries map[uint32]*entry
	byType  map[reflect.Type]uint32
	errs    []error
}

// NewBuilder creates an empty Builder.
//
// Parameters:
//   - log: Logger for rejected registrations; nil means logger.Nop()
//
// Returns:
//   - The Builder
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}

	return &Builder{
		log:     log.With(logger.Field{Key: "component", Value: "handler-registry"}),
		entries: make(map[uint32]*entry),
		byType:  make(map[reflect.Type]uint32),
	}
}

// Register adds a handler for tag whose payload type is T, so it can be
// found both by tag (receive side) and by payload value (send side).
//
// Parameters:
//   - b: The builder
//   - tag: Message-type tag
//   - factory: Constructor for the shared handler instance
//
// Returns:
//   - An error if the registration was dropped
func Register[T any](b *Builder, tag uint32, factory Factory) error {
	return b.add(tag, reflect.TypeFor[T](), factory)
}

// RegisterTag adds a receive-only handler that has no payload type for
// send-side lookup.
func (b *Builder) RegisterTag(tag uint32, factory Factory) error {
	return b.add(tag, nil, factory)
}

// add records one registration. The first registration for a tag or payload
// type wins; later ones are logged and dropped.
func (b *Builder) add(tag uint32, payload reflect.Type, factory Factory) error {
	var err error

	switch {
	case tag == frame.TagNone:
		err = fmt.Errorf("%w: %d", ErrReservedTag, tag)
	case factory == nil:
		err = fmt.Errorf("%w: tag %d", ErrNilFactory, tag)
	case b.entries[tag] != nil:
		err = fmt.Errorf("%w: %d", ErrDuplicateTag, tag)
	case payload != nil && b.hasPayload(payload):
		err = fmt.Errorf("%w: %s already bound to tag %d", ErrDuplicatePayload, payload, b.byType[payload])
	}

	if err != nil {
		b.log.Error("handler registration dropped", logger.Field{Key: "tag", Value: tag}, logger.Err(err))
		b.errs = append(b.errs, err)
		return err
	}

	b.entries[tag] = &entry{tag: tag, payload: payload, factory: factory}
	if payload != nil {
		b.byType[payload] = tag
	}

	return nil
}

func (b *Builder) hasPayload(t reflect.Type) bool {
	_, ok := b.byType[t]
	return ok
}

// Build freezes the registrations into a Registry. The registry is always
// usable; the returned error joins every dropped registration so callers
// that want to fail closed on configuration errors can do so.
//
// Returns:
//   - The Registry
//   - The joined registration errors, or nil
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		log:       b.log,
		entries:   make(map[uint32]*entry, len(b.entries)),
		byType:    make(map[reflect.Type]uint32, len(b.byType)),
		instances: cache.New(cache.NoExpiration, 0),
		err:       errors.Join(b.errs...),
	}

	for tag, e := range b.entries {
		r.entries[tag] = e
	}

	for t, tag := range b.byType {
		r.byType[t] = tag
	}

	return r, r.err
}

// Registry resolves tags and payload types to handler singletons. Instances
// are created lazily on first use and cached for the registry's lifetime.
// It is safe for concurrent use.
type Registry struct {
	log       logger.Logger
	entries   map[uint32]*entry
	byType    map[reflect.Type]uint32
	instances *cache.Cache
	group     singleflight.Group
	err       error
}

// Err returns the registration errors Build reported, or nil.
func (r *Registry) Err() error {
	return r.err
}

// Handler returns the handler for tag, constructing it on first use.
// Concurrent first lookups construct exactly one instance. A constructed
// handler must report the registered tag and, if it implements
// PayloadTyper, the registered payload type.
//
// Parameters:
//   - tag: Message-type tag
//
// Returns:
//   - The handler, or nil if tag is unknown or construction failed
func (r *Registry) Handler(tag uint32) Handler {
	key := strconv.FormatUint(uint64(tag), 10)
	if h, ok := r.instances.Get(key); ok {
		return h.(Handler)
	}

	e, ok := r.entries[tag]
	if !ok {
		r.log.Warn("no handler for tag", logger.Field{Key: "tag", Value: tag})
		return nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if h, ok := r.instances.Get(key); ok {
			return h, nil
		}

		h := e.factory()
		if h == nil {
			return nil, fmt.Errorf("factory for tag %d returned nil", tag)
		}

		if h.Tag() != tag {
			return nil, fmt.Errorf("factory for tag %d built handler for tag %d", tag, h.Tag())
		}

		if pt, ok := h.(PayloadTyper); ok && e.payload != nil && pt.PayloadType() != e.payload {
			return nil, fmt.Errorf("%w: tag %d is registered for %s but its handler encodes %s",
				ErrPayloadType, tag, e.payload, pt.PayloadType())
		}

		r.instances.Set(key, h, cache.NoExpiration)
		return h, nil
	})
	if err != nil {
		r.log.Error("handler construction failed", logger.Field{Key: "tag", Value: tag}, logger.Err(err))
		return nil
	}

	return v.(Handler)
}

// TagFor returns the tag bound to payload's dynamic type. Pointers are
// resolved to their element type when the pointer type itself is unbound.
func (r *Registry) TagFor(payload any) (uint32, bool) {
	t := reflect.TypeOf(payload)
	if t == nil {
		return 0, false
	}

	if tag, ok := r.byType[t]; ok {
		return tag, true
	}

	if t.Kind() == reflect.Pointer {
		tag, ok := r.byType[t.Elem()]
		return tag, ok
	}

	return 0, false
}

// HandlerFor returns the handler owning payload's type.
//
// Returns:
//   - The handler, or nil if the type is unknown
func (r *Registry) HandlerFor(payload any) Handler {
	tag, ok := r.TagFor(payload)
	if !ok {
		r.log.Warn("no handler for payload type", logger.Field{Key: "type", Value: fmt.Sprintf("%T", payload)})
		return nil
	}

	return r.Handler(tag)
}

// Lookup returns the handler registered for payload type T.
func Lookup[T any](r *Registry) Handler {
	tag, ok := r.byType[reflect.TypeFor[T]()]
	if !ok {
		r.log.Warn("no handler for payload type", logger.Field{Key: "type", Value: reflect.TypeFor[T]().String()})
		return nil
	}

	return r.Handler(tag)
}

// Tags returns the registered tags in ascending order.
func (r *Registry) Tags() []uint32 {
	tags := make([]uint32, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}

	slices.Sort(tags)
	return tags
}

// Len returns the number of registered tags.
func (r *Registry) Len() int {
	return len(r.entries)
}
