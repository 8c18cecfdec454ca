package queries

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/plastr/extrasolar/internal/shared"
)

// paramPattern matches the substitution forms, longest markers first:
// optional leading % (LIKE prefix), optional @ or # marker, :name, optional
// trailing % (LIKE suffix).
var paramPattern = regexp.MustCompile(`(%?)([@#]?):([A-Za-z_][A-Za-z0-9_]*)(%?)`)

// bind rewrites the template into positional ($1, $2, ...) SQL.
func bind(queryName, text string, params map[string]any) (string, []any, error) {
	var args []any
	var bindErr error

	out := paramPattern.ReplaceAllStringFunc(text, func(match string) string {
		if bindErr != nil {
			return match
		}
		groups := paramPattern.FindStringSubmatch(match)
		likePrefix, marker, name, likeSuffix := groups[1], groups[2], groups[3], groups[4]

		value, ok := params[name]
		if !ok {
			bindErr = fmt.Errorf("%w: query %q missing parameter %q", shared.ErrorImproperInvocation, queryName, name)
			return match
		}

		switch marker {
		case "#":
			n, ok := asInt(value)
			if !ok {
				bindErr = fmt.Errorf("%w: query %q parameter %q must be an integer for #: interpolation", shared.ErrorImproperInvocation, queryName, name)
				return match
			}
			return fmt.Sprintf("%d", n)

		case "@":
			items, err := asList(queryName, name, value)
			if err != nil {
				bindErr = err
				return match
			}
			if items == nil {
				return "(NULL)"
			}
			placeholders := make([]string, len(items))
			for i, item := range items {
				args = append(args, item)
				placeholders[i] = fmt.Sprintf("$%d", len(args))
			}
			return "(" + strings.Join(placeholders, ", ") + ")"

		default:
			if likePrefix == "%" || likeSuffix == "%" {
				s := fmt.Sprintf("%v", value)
				if likePrefix == "%" {
					s = "%" + s
				}
				if likeSuffix == "%" {
					s = s + "%"
				}
				value = s
			}
			args = append(args, value)
			return fmt.Sprintf("$%d", len(args))
		}
	})

	if bindErr != nil {
		return "", nil, bindErr
	}
	return out, args, nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	default:
		return 0, false
	}
}

// asList normalizes an @:name argument. A single nil yields nil (rendered as
// (NULL)); a scalar becomes a one-element list; an empty slice is an
// improper invocation.
func asList(queryName, name string, v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}, nil
	}
	if rv.Len() == 0 {
		return nil, fmt.Errorf("%w: query %q parameter %q expanded from an empty list", shared.ErrorImproperInvocation, queryName, name)
	}
	items := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
