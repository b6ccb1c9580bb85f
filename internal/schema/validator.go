package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/metorial/custom-server/internal/svcerr"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	Draft2020URL = "https://json-schema.org/draft/2020-12/schema"
	Draft7URL    = "http://json-schema.org/draft-07/schema#"
)

// ErrAlreadyRegistered is returned by the low-level registration when a
// meta-schema is registered twice. Register swallows it.
var ErrAlreadyRegistered = errors.New("meta-schema already registered")

// Validator checks that a document is itself a well-formed JSON Schema.
type Validator struct {
	mu         sync.RWMutex
	metas      map[string]*jsonschema.Schema
	defaultURL string
}

// NewValidator registers the 2020-12 and draft-07 meta-schemas.
// Documents without a recognised $schema are checked against 2020-12.
func NewValidator() (*Validator, error) {
	v := &Validator{
		metas:      make(map[string]*jsonschema.Schema),
		defaultURL: Draft2020URL,
	}
	for _, url := range []string{Draft2020URL, Draft7URL} {
		if err := v.Register(url); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Register loads the meta-schema at url. Registering an already known
// meta-schema is a no-op.
func (v *Validator) Register(url string) error {
	if err := v.register(url); err != nil && !errors.Is(err, ErrAlreadyRegistered) {
		return err
	}
	return nil
}

func (v *Validator) register(url string) error {
	key := metaKey(url)

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.metas[key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, url)
	}

	meta, err := jsonschema.NewCompiler().Compile(url)
	if err != nil {
		return fmt.Errorf("failed to compile meta-schema %s: %w", url, err)
	}
	v.metas[key] = meta
	return nil
}

// Validate checks doc against its meta-schema. Failures are returned as an
// invalid_json_schema service error carrying one issue per violation.
func (v *Validator) Validate(doc json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = svcerr.InvalidJSONSchema("", nil)
		}
	}()

	value, decodeErr := decodeDocument(doc)
	if decodeErr != nil {
		return svcerr.InvalidJSONSchema("", []svcerr.Issue{{Path: []string{}, Message: "schema is not valid JSON"}})
	}

	meta := v.metaFor(value)
	if meta == nil {
		return svcerr.InvalidJSONSchema("", nil)
	}

	if verr := meta.Validate(value); verr != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(verr, &ve) {
			return svcerr.InvalidJSONSchema("", nil)
		}
		return svcerr.InvalidJSONSchema("Invalid JSON schema", collectIssues(ve))
	}
	return nil
}

// decodeDocument decodes doc the way jsonschema/v5 expects instances:
// numbers as json.Number, exactly one value.
func decodeDocument(doc []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON value")
	}
	return value, nil
}

func (v *Validator) metaFor(value interface{}) *jsonschema.Schema {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if obj, ok := value.(map[string]interface{}); ok {
		if url, ok := obj["$schema"].(string); ok {
			if meta, ok := v.metas[metaKey(url)]; ok {
				return meta
			}
		}
	}
	return v.metas[metaKey(v.defaultURL)]
}

// collectIssues flattens the leaf violations of a validation error tree.
func collectIssues(ve *jsonschema.ValidationError) []svcerr.Issue {
	if len(ve.Causes) == 0 {
		return []svcerr.Issue{{Path: pointerPath(ve.InstanceLocation), Message: ve.Message}}
	}
	var issues []svcerr.Issue
	for _, cause := range ve.Causes {
		issues = append(issues, collectIssues(cause)...)
	}
	return issues
}

// pointerPath splits a JSON pointer into its segments, dropping empty ones.
func pointerPath(pointer string) []string {
	path := []string{}
	for _, seg := range strings.Split(pointer, "/") {
		if seg == "" {
			continue
		}
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		path = append(path, seg)
	}
	return path
}

func metaKey(url string) string {
	url = strings.TrimSpace(url)
	if strings.HasPrefix(url, "http://") {
		url = "https://" + strings.TrimPrefix(url, "http://")
	}
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url = url[:i]
	}
	return url
}
