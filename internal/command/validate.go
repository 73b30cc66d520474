package command

import (
	"fmt"
	"strings"
)

// Field is one required attribute of a command.
type Field struct {
	Name string
	Kind Kind
}

// Schema is the ordered list of attributes a command requires.
type Schema []Field

func (s Schema) String() string {
	parts := make([]string, 0, len(s))
	for _, f := range s {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Name, f.Kind))
	}
	return strings.Join(parts, ", ")
}

// ValidationError lists every attribute that failed validation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "\n")
}

// Validate checks args against schema. All fields are checked before returning.
func Validate(args Args, schema Schema) error {
	var problems []string
	for _, f := range schema {
		raw, ok := args[f.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing attribute <%s> (%s)", f.Name, f.Kind))
			continue
		}
		if _, err := f.Kind.Parse(raw); err != nil {
			problems = append(problems, fmt.Sprintf("can't convert attribute <%s>=%q to <%s>", f.Name, raw, f.Kind))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
