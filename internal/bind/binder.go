package bind

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// MissingBindError reports every template placeholder that has no supplied
// value. It is always raised before any database call.
type MissingBindError struct {
	Names []string
}

func (e *MissingBindError) Error() string {
	return fmt.Sprintf("missing values for bind parameters: %s", strings.Join(e.Names, ", "))
}

// Statement is a template rewritten to engine-native bind tokens, paired
// with only the parameters the statement actually references.
type Statement struct {
	SQL    string
	Params map[string]Value
}

type Binder struct {
	scanner BindScanner
}

func NewBinder() *Binder {
	return &Binder{scanner: NewScanner()}
}

// PlaceholderNames lists the distinct {placeholder} names of a template in
// first-appearance order, preserving the template's casing.
func PlaceholderNames(sqlTemplate string) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, match := range placeholderPattern.FindAllStringSubmatch(sqlTemplate, -1) {
		key := strings.ToLower(match[1])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, match[1])
	}
	return names
}

// Bind maps params onto sqlTemplate's placeholders case-insensitively,
// rewrites every {placeholder} to a :placeholder bind token keeping the
// placeholder's casing exactly as written in the template, and filters the
// parameter map down to the bind names actually present in the rewritten
// statement. Supplied-but-unreferenced parameters are dropped silently; a
// referenced-but-missing placeholder aborts with MissingBindError.
func (b *Binder) Bind(sqlTemplate string, params map[string]Value) (Statement, error) {
	supplied := make(map[string]Value, len(params))
	for name, value := range params {
		supplied[strings.ToLower(name)] = value
	}

	missing := make([]string, 0)
	seenMissing := make(map[string]struct{})
	for _, name := range PlaceholderNames(sqlTemplate) {
		key := strings.ToLower(name)
		if _, ok := supplied[key]; ok {
			continue
		}
		if _, dup := seenMissing[key]; dup {
			continue
		}
		seenMissing[key] = struct{}{}
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Statement{}, &MissingBindError{Names: missing}
	}

	rewritten := placeholderPattern.ReplaceAllStringFunc(sqlTemplate, func(token string) string {
		return ":" + token[1:len(token)-1]
	})

	referenced := b.scanner.BindNames(rewritten)
	filtered := make(map[string]Value, len(referenced))
	for name := range referenced {
		if value, ok := supplied[name]; ok {
			filtered[name] = value
		}
	}

	return Statement{SQL: rewritten, Params: filtered}, nil
}
