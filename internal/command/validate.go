package command

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validate checks a [CommandDefinition] for required fields and well-formed
// templates.
//
// Rules:
//   - ID must be non-empty and contain no whitespace.
//   - Category must be a recognised [Category].
//   - At least one phrase or one template must be present, or the intent
//     could never match anything.
//   - Phrases must be non-empty.
//   - Every template must compile as a regular expression.
//   - Every declared slot kind must be a recognised [SlotKind].
func Validate(def CommandDefinition) error {
	var errs []error

	if def.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	} else if strings.ContainsAny(def.ID, " \t\n") {
		errs = append(errs, fmt.Errorf("id %q must not contain whitespace", def.ID))
	}

	if !def.Category.IsValid() {
		errs = append(errs, fmt.Errorf("category %q is not a recognised category", def.Category))
	}

	if len(def.Phrases) == 0 && len(def.Templates) == 0 {
		errs = append(errs, errors.New("at least one phrase or template is required"))
	}

	for i, phrase := range def.Phrases {
		if strings.TrimSpace(phrase) == "" {
			errs = append(errs, fmt.Errorf("phrase[%d]: must not be empty", i))
		}
	}

	for i, tmpl := range def.Templates {
		if _, err := regexp.Compile(tmpl); err != nil {
			errs = append(errs, fmt.Errorf("template[%d]: %w", i, err))
		}
	}

	for name, kind := range def.Slots {
		if !kind.IsValid() {
			errs = append(errs, fmt.Errorf("slot %q: kind %q is not a recognised slot kind", name, kind))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
