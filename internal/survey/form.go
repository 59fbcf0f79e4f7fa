package survey

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey/entity"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey/repo"
)

// ValidationError names the form field that was missing or not an integer.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("missing field %q", e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ParseForm maps a submitted survey to the model vector. Gender is 1 only for
// exactly "male" in any case, surrounding whitespace included; every other
// field must be an integer and is trimmed before parsing.
func ParseForm(form url.Values) (entity.Features, error) {
	var f entity.Features
	for i, name := range repo.Columns {
		vals, ok := form[name]
		if !ok || len(vals) == 0 {
			return f, &ValidationError{Field: name}
		}
		if name == "gender" {
			if strings.ToLower(vals[0]) == "male" {
				f[i] = 1
			}
			continue
		}
		raw := strings.TrimSpace(vals[0])
		if raw == "" {
			return f, &ValidationError{Field: name}
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, &ValidationError{Field: name, Err: err}
		}
		f[i] = n
	}
	return f, nil
}
