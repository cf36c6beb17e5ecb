package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/forgeworks/cutover/modules/migration/domain/plan"
)

// FieldRule maps one legacy field onto one canonical target field.
type FieldRule struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	// Type is the target data type: string, int, decimal, bool or date.
	// Empty means pass-through.
	Type  string `yaml:"type,omitempty"`
	Trim  bool   `yaml:"trim,omitempty"`
	Lower bool   `yaml:"lower,omitempty"`
}

type EntityMapping struct {
	// IDField names the raw field holding the stable legacy identifier.
	IDField string      `yaml:"id_field"`
	Fields  []FieldRule `yaml:"fields"`
}

type TransformConfig struct {
	Entities map[string]EntityMapping `yaml:"entities"`
}

// TransformFieldError is a permanent, per-record failure: the same input will
// fail the same way on any naive retry.
type TransformFieldError struct {
	Field string
	Type  string
	Cause error
}

func (e *TransformFieldError) Error() string {
	return fmt.Sprintf("transform field %s as %s: %v", e.Field, e.Type, e.Cause)
}

func (e *TransformFieldError) Unwrap() error { return e.Cause }

// ChainTransformer is the reference Transformer: a YAML-configured, pure
// per-field mapping chain. Its version is the content hash of the exact
// configuration bytes, so any edit invalidates stored checkpoints.
type ChainTransformer struct {
	cfg     TransformConfig
	version string
}

func NewChainTransformer(raw []byte) (*ChainTransformer, error) {
	var cfg TransformConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, gerrors.Wrap(err, "parse transform config")
	}
	for entity, mapping := range cfg.Entities {
		if mapping.IDField == "" {
			return nil, gerrors.Errorf("transform config: entity %q is missing id_field", entity)
		}
	}
	sum := sha256.Sum256(raw)
	return &ChainTransformer{cfg: cfg, version: hex.EncodeToString(sum[:])}, nil
}

func LoadChainTransformer(path string) (*ChainTransformer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, gerrors.Wrap(err, "read transform config")
	}
	return NewChainTransformer(raw)
}

func (t *ChainTransformer) Version() string { return t.version }

func (t *ChainTransformer) Transform(_ context.Context, entityType string, raw RawRecord) (plan.TransformedRecord, error) {
	mapping, ok := t.cfg.Entities[entityType]
	if !ok {
		return plan.TransformedRecord{}, gerrors.Errorf("no transform mapping for entity type %q", entityType)
	}

	legacyID := stringify(raw[mapping.IDField])
	if legacyID == "" {
		return plan.TransformedRecord{}, &TransformFieldError{
			Field: mapping.IDField,
			Type:  "string",
			Cause: gerrors.New("missing legacy id"),
		}
	}

	data := make(map[string]any, len(mapping.Fields))
	for _, rule := range mapping.Fields {
		value, exists := raw[rule.Source]
		if !exists || value == nil {
			continue
		}
		coerced, err := applyRule(rule, value)
		if err != nil {
			return plan.TransformedRecord{}, err
		}
		data[rule.Target] = coerced
	}

	return plan.TransformedRecord{LegacyID: legacyID, Data: data}, nil
}

func applyRule(rule FieldRule, value any) (any, error) {
	if s, ok := value.(string); ok {
		if rule.Trim {
			s = strings.TrimSpace(s)
		}
		if rule.Lower {
			s = strings.ToLower(s)
		}
		value = s
	}

	switch rule.Type {
	case "", "string":
		if rule.Type == "string" {
			return stringify(value), nil
		}
		return value, nil

	case "int":
		n, err := toInt64(value)
		if err != nil {
			return nil, &TransformFieldError{Field: rule.Source, Type: rule.Type, Cause: err}
		}
		return n, nil

	case "decimal":
		d, err := toDecimal(value)
		if err != nil {
			return nil, &TransformFieldError{Field: rule.Source, Type: rule.Type, Cause: err}
		}
		return d.String(), nil

	case "bool":
		b, err := toBool(value)
		if err != nil {
			return nil, &TransformFieldError{Field: rule.Source, Type: rule.Type, Cause: err}
		}
		return b, nil

	case "date":
		d, err := toDate(value)
		if err != nil {
			return nil, &TransformFieldError{Field: rule.Source, Type: rule.Type, Cause: err}
		}
		return d.Format("2006-01-02"), nil

	default:
		return nil, &TransformFieldError{
			Field: rule.Source,
			Type:  rule.Type,
			Cause: gerrors.New("unsupported target type"),
		}
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, gerrors.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, gerrors.Errorf("cannot coerce %T to int", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case float64:
		return decimal.NewFromFloat(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	default:
		return decimal.Decimal{}, gerrors.Errorf("cannot coerce %T to decimal", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(strings.ToLower(b)))
	default:
		return false, gerrors.Errorf("cannot coerce %T to bool", v)
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05", "01/02/2006"}

func toDate(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, gerrors.Errorf("cannot coerce %T to date", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, gerrors.Errorf("unrecognized date %q", s)
}
