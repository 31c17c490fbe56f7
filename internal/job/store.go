package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidID is returned for ids that do not match YYMMDDHHMM-NNNN.
var ErrInvalidID = errors.New("job: invalid job id")

// ValidationError names every field that failed validation.
type ValidationError struct {
	JobID  string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("job %s: invalid confirmed data: %s", e.JobID, strings.Join(e.Fields, ", "))
}

// Store reads job descriptions from <dir>/<id>.json.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file backing id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load reads the job file. A missing file yields DefaultJob(id); malformed
// JSON is an error.
func (s *Store) Load(id string) (*Job, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	path := s.Path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultJob(id), nil
		}
		return nil, fmt.Errorf("job: read %s: %w", path, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("job: parse %s: %w", path, err)
	}
	if strings.TrimSpace(j.ID) == "" {
		j.ID = id
	}
	return &j, nil
}

// Save writes a job file. Used by tests and fixtures; the pipeline itself
// never rewrites jobs.
func (s *Store) Save(j *Job) error {
	if j == nil {
		return fmt.Errorf("job: nil job")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("job: ensure %s: %w", s.dir, err)
	}
	encoded, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("job: encode %s: %w", j.ID, err)
	}
	return os.WriteFile(s.Path(j.ID), append(encoded, '\n'), 0o644)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks that confirmed_data and its website_name, domain and
// user_email are present and non-blank. Every failing field is reported.
func Validate(j *Job) error {
	if j == nil {
		return &ValidationError{Fields: []string{"confirmed_data"}}
	}
	err := validate.Struct(j)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("job %s: validate: %w", j.ID, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fieldName(fe.Namespace())+" is required")
	}
	return &ValidationError{JobID: j.ID, Fields: fields}
}

// fieldName drops the root struct name from a validator namespace.
func fieldName(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
