package mapping

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	jsonpool "github.com/CaseSolvedUK/rest-migrate/pkg/json"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/spf13/cast"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

// Coerce converts a raw source value to the shape a destination field of
// type ft stores. Lists become newline-joined strings and objects become
// JSON text before any field-specific conversion.
func Coerce(src interface{}, ft store.FieldType) (interface{}, error) {
	switch ft {
	case store.FieldGeolocation, store.FieldPassword, store.FieldSignature, store.FieldFold:
		return nil, errors.Newf(errors.ErrorTypeUnsupportedFieldType, "%s not supported", ft).
			WithDetail("field_type", string(ft))
	}
	if src == nil {
		return "", nil
	}

	switch v := src.(type) {
	case []interface{}:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = stringify(e)
		}
		src = strings.Join(parts, "\n")
	case map[string]interface{}:
		s, err := jsonpool.MarshalString(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to serialize object value")
		}
		src = s
	}
	src = normalize(src)

	if dest, ok := castFieldType(ft, src); ok && !reflect.DeepEqual(dest, src) {
		return dest, nil
	}

	switch ft {
	case store.FieldAttach, store.FieldAttachImage, store.FieldImage:
		return stringify(src), nil
	case store.FieldCheck:
		if truthy(src) {
			return int64(1), nil
		}
		return int64(0), nil
	case store.FieldCurrency, store.FieldFloat, store.FieldPercent:
		f, err := cast.ToFloat64E(src)
		if err != nil {
			return nil, conversionError(err, src, ft)
		}
		return f, nil
	case store.FieldDuration, store.FieldTime:
		d, err := toDuration(src)
		if err != nil {
			return nil, conversionError(err, src, ft)
		}
		return durationValue(d, ft), nil
	case store.FieldInt, store.FieldRating:
		n, err := cast.ToInt64E(src)
		if err != nil {
			return nil, conversionError(err, src, ft)
		}
		return n, nil
	default:
		return stringify(src), nil
	}
}

// castFieldType is the schema-aware cast. ok is false when ft has no
// generic cast or src does not parse.
func castFieldType(ft store.FieldType, src interface{}) (interface{}, bool) {
	switch ft {
	case store.FieldCurrency, store.FieldFloat, store.FieldPercent:
		f, err := cast.ToFloat64E(src)
		return f, err == nil
	case store.FieldInt, store.FieldCheck:
		n, err := cast.ToInt64E(src)
		return n, err == nil
	case store.FieldDate:
		t, err := cast.ToTimeE(src)
		if err != nil {
			return nil, false
		}
		return t.Format(dateLayout), true
	case store.FieldDatetime:
		t, err := cast.ToTimeE(src)
		if err != nil {
			return nil, false
		}
		return t.Format(datetimeLayout), true
	case store.FieldTime:
		d, err := toDuration(src)
		if err != nil {
			return nil, false
		}
		return durationValue(d, ft), true
	case store.FieldData, store.FieldLink, store.FieldSelect, store.FieldText,
		store.FieldSmallText, store.FieldLongText, store.FieldCode:
		return stringify(src), true
	}
	return nil, false
}

// normalize turns decoded JSON numbers into int64 or float64
func normalize(v interface{}) interface{} {
	n, ok := v.(jsonpool.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func stringify(v interface{}) string {
	switch x := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []interface{}, map[string]interface{}:
		if s, err := jsonpool.MarshalString(x); err == nil {
			return s
		}
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func truthy(v interface{}) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	}
	return true
}

// toDuration accepts seconds as a number, "HH:MM[:SS[.ffffff]]", or a Go
// duration string such as "1h30m"
func toDuration(v interface{}) (time.Duration, error) {
	switch x := v.(type) {
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case time.Duration:
		return x, nil
	case string:
		return parseClock(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("cannot convert %T to a duration", v)
}

func parseClock(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	if !strings.Contains(s, ":") {
		return time.ParseDuration(s)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d += time.Duration(f * float64(units[i]))
	}
	return d, nil
}

// durationValue stores Duration fields as seconds and Time fields as a
// clock string
func durationValue(d time.Duration, ft store.FieldType) interface{} {
	if ft == store.FieldDuration {
		return int64(d / time.Second)
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func conversionError(err error, src interface{}, ft store.FieldType) error {
	return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("cannot convert %v to %s", src, ft)).
		WithDetail("field_type", string(ft))
}
