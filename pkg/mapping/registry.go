package mapping

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	jsonpool "github.com/CaseSolvedUK/rest-migrate/pkg/json"
	"github.com/spf13/cast"
)

// Converter transforms a raw source value before it is written to a
// destination field
type Converter func(v interface{}) (interface{}, error)

// Registry maps conversion names to converters. Names starting with "."
// are string transforms applied to the source value itself; every other
// name is a free function taking the source value.
type Registry struct {
	converters map[string]Converter
	mu         sync.RWMutex
}

// NewRegistry creates a registry holding the built-in conversions
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[string]Converter)}
	for name, fn := range builtins() {
		r.converters[name] = fn
	}
	return r
}

// Register adds a named converter. Names cannot be registered twice.
func (r *Registry) Register(name string, fn Converter) error {
	if name == "" || fn == nil {
		return errors.New(errors.ErrorTypeConfig, "conversion name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.converters[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("conversion %s already registered", name))
	}
	r.converters[name] = fn
	return nil
}

// Lookup returns the converter for name. Unregistered names are a
// configuration error.
func (r *Registry) Lookup(name string) (Converter, error) {
	r.mu.RLock()
	fn, ok := r.converters[strings.TrimSuffix(name, "()")]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "conversion %q is not registered", name).
			WithDetail("conversion", name)
	}
	return fn, nil
}

// Names lists the registered conversion names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.converters))
	for n := range r.converters {
		names = append(names, n)
	}
	return names
}

func builtins() map[string]Converter {
	return map[string]Converter{
		".lower":      stringMethod(strings.ToLower),
		".upper":      stringMethod(strings.ToUpper),
		".strip":      stringMethod(strings.TrimSpace),
		".lstrip":     stringMethod(func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) }),
		".rstrip":     stringMethod(func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }),
		".title":      stringMethod(title),
		".capitalize": stringMethod(capitalize),

		"str": func(v interface{}) (interface{}, error) { return stringify(v), nil },
		"int": func(v interface{}) (interface{}, error) {
			return cast.ToInt64E(normalize(v))
		},
		"float": func(v interface{}) (interface{}, error) {
			return cast.ToFloat64E(normalize(v))
		},
		"bool": func(v interface{}) (interface{}, error) { return truthy(v), nil },
		"len":  length,
		"abs": func(v interface{}) (interface{}, error) {
			switch n := normalize(v).(type) {
			case int64:
				if n < 0 {
					return -n, nil
				}
				return n, nil
			default:
				f, err := cast.ToFloat64E(n)
				if err != nil {
					return nil, err
				}
				return math.Abs(f), nil
			}
		},
		"round": func(v interface{}) (interface{}, error) {
			f, err := cast.ToFloat64E(normalize(v))
			if err != nil {
				return nil, err
			}
			return int64(math.RoundToEven(f)), nil
		},
		"json.dumps": func(v interface{}) (interface{}, error) {
			return jsonpool.MarshalString(v)
		},
		"json.loads": func(v interface{}) (interface{}, error) {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, err
			}
			out, err := jsonpool.Decode(strings.NewReader(s))
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid JSON value")
			}
			return out, nil
		},
	}
}

func stringMethod(fn func(string) string) Converter {
	return func(v interface{}) (interface{}, error) {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "string conversion applied to %T", v)
		}
		return fn(s), nil
	}
}

func length(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return int64(len([]rune(x))), nil
	case nil:
		return nil, errors.New(errors.ErrorTypeData, "len applied to null")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return int64(rv.Len()), nil
	}
	return nil, errors.Newf(errors.ErrorTypeData, "len applied to %T", v)
}

func title(s string) string {
	var b strings.Builder
	prev := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prev {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prev = true
			continue
		}
		prev = false
		b.WriteRune(r)
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
