// Package modelrepo loads the configuration of the decoupled model from a
// YAML or JSON document on local disk or in Google Cloud Storage.
package modelrepo

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/tensor"
)

// ErrInvalidConfig is returned when a model configuration does not match the
// schema.
var ErrInvalidConfig = errors.New("invalid model configuration")

//go:embed schema.json
var schemaJSON []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return compiledSchema, compileErr
}

// document mirrors the configuration file.
type document struct {
	Name      string `yaml:"name"`
	Decoupled bool   `yaml:"decoupled"`
	Input     struct {
		Name string `yaml:"name"`
	} `yaml:"input"`
	Output struct {
		Name     string `yaml:"name"`
		DataType string `yaml:"data_type"`
	} `yaml:"output"`
	Downstream struct {
		Model  string `yaml:"model"`
		Input  string `yaml:"input"`
		Output string `yaml:"output"`
	} `yaml:"downstream"`
	CloserDelay   string `yaml:"closer_delay"`
	DrainInterval string `yaml:"drain_interval"`
	CallTimeout   string `yaml:"call_timeout"`
	ClosePolicy   string `yaml:"close_policy"`
}

// Load reads the configuration at location, a local path or a
// gs://bucket/object URL.
func Load(ctx context.Context, location string) (engine.Config, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(location, "gs://") {
		data, err = readGCS(ctx, location)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return engine.Config{}, fmt.Errorf("reading model config %s: %w", location, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return engine.Config{}, fmt.Errorf("%s: %w", location, err)
	}
	return cfg, nil
}

// Parse validates a YAML or JSON document and returns the engine
// configuration it describes. Unset fields keep their defaults.
func Parse(data []byte) (engine.Config, error) {
	if err := validate(data); err != nil {
		return engine.Config{}, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return engine.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := engine.DefaultConfig()
	cfg.Name = doc.Name
	cfg.Decoupled = doc.Decoupled
	setString(&cfg.InputName, doc.Input.Name)
	setString(&cfg.OutputName, doc.Output.Name)
	if doc.Output.DataType != "" {
		cfg.OutputType = tensor.DType(doc.Output.DataType)
	}
	setString(&cfg.Downstream.Model, doc.Downstream.Model)
	setString(&cfg.Downstream.Input, doc.Downstream.Input)
	setString(&cfg.Downstream.Output, doc.Downstream.Output)
	if doc.ClosePolicy != "" {
		cfg.ClosePolicy = engine.ClosePolicy(doc.ClosePolicy)
	}

	for _, d := range []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"closer_delay", doc.CloserDelay, &cfg.CloserDelay},
		{"drain_interval", doc.DrainInterval, &cfg.DrainInterval},
		{"call_timeout", doc.CallTimeout, &cfg.CallTimeout},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return engine.Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.field, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// validate checks data against the embedded schema. YAML is converted to its
// JSON form first.
func validate(data []byte) error {
	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("compiling model config schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if raw == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidConfig)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("validating model config: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
}

// parseGCSURL splits gs://bucket/object.
func parseGCSURL(u string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(u, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URL: %q", u)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// URL %q must name a bucket and an object", u)
	}
	return bucket, object, nil
}

func readGCS(ctx context.Context, u string) ([]byte, error) {
	bucket, object, err := parseGCSURL(u)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", u, err)
	}
	defer r.Close()

	return io.ReadAll(r)
}
