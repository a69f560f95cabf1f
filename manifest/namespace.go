package manifest

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ToSnakeCase converts a name to snake_case.
// "MyApp" -> "my_app", "my-app" -> "my_app", "models" -> "models"
func ToSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 {
				prev := rune(s[i-1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// reservedNames lists the built-in type names a helper type must not shadow.
var reservedNames = map[string]bool{
	"object":   true,
	"bool":     true,
	"Sequence": true,
	"Iterator": true,
}

// IsReservedName reports whether name is a built-in type name.
func IsReservedName(name string) bool {
	return reservedNames[name]
}

var errEmptyName = errors.New("name is empty")

// ValidateIdentifier checks that name is a single identifier: a letter or
// underscore followed by letters, digits or underscores.
func ValidateIdentifier(name string) error {
	if name == "" {
		return errEmptyName
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return fmt.Errorf("%q is not a valid identifier", name)
	}
	return nil
}

// ValidateNamespace checks a dotted namespace such as "Acme.Equality". Only
// the root segment is checked against reserved names: "Acme.Sequence" is
// fine because the root is "Acme".
func ValidateNamespace(ns string) error {
	if ns == "" {
		return errEmptyName
	}
	segments := strings.Split(ns, ".")
	for _, seg := range segments {
		if err := ValidateIdentifier(seg); err != nil {
			return fmt.Errorf("namespace %q: %w", ns, err)
		}
	}
	if IsReservedName(segments[0]) {
		return fmt.Errorf("namespace %q: root %q is a built-in type name", ns, segments[0])
	}
	return nil
}
