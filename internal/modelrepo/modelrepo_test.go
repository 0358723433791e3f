package modelrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/relay/internal/engine"
	"github.com/seantiz/relay/internal/tensor"
)

func TestParseFullYAML(t *testing.T) {
	data := []byte(`
name: relay_fp64
decoupled: true
input:
  name: IN
output:
  name: OUT
  data_type: TYPE_FP64
downstream:
  model: identity_fp64
  input: INPUT0
  output: OUTPUT0
closer_delay: 250ms
drain_interval: 10ms
call_timeout: 2s
close_policy: last
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Name != "relay_fp64" || !cfg.Decoupled {
		t.Errorf("name/decoupled = %q/%v", cfg.Name, cfg.Decoupled)
	}
	if cfg.OutputType != tensor.TypeFP64 {
		t.Errorf("OutputType = %q, want %q", cfg.OutputType, tensor.TypeFP64)
	}
	if cfg.Downstream.Model != "identity_fp64" {
		t.Errorf("Downstream.Model = %q", cfg.Downstream.Model)
	}
	if cfg.CloserDelay != 250*time.Millisecond {
		t.Errorf("CloserDelay = %v, want 250ms", cfg.CloserDelay)
	}
	if cfg.DrainInterval != 10*time.Millisecond {
		t.Errorf("DrainInterval = %v, want 10ms", cfg.DrainInterval)
	}
	if cfg.CallTimeout != 2*time.Second {
		t.Errorf("CallTimeout = %v, want 2s", cfg.CallTimeout)
	}
	if cfg.ClosePolicy != engine.CloseLast {
		t.Errorf("ClosePolicy = %q, want %q", cfg.ClosePolicy, engine.CloseLast)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"name": "minimal", "decoupled": true}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	def := engine.DefaultConfig()
	if cfg.OutputName != def.OutputName || cfg.InputName != def.InputName {
		t.Errorf("names = %q/%q, want defaults", cfg.InputName, cfg.OutputName)
	}
	if cfg.Downstream != def.Downstream {
		t.Errorf("Downstream = %+v, want %+v", cfg.Downstream, def.Downstream)
	}
	if cfg.CloserDelay != def.CloserDelay {
		t.Errorf("CloserDelay = %v, want %v", cfg.CloserDelay, def.CloserDelay)
	}
	if cfg.ClosePolicy != engine.CloseDesignated {
		t.Errorf("ClosePolicy = %q, want designated", cfg.ClosePolicy)
	}
}

func TestParseMissingDecoupledFailsInitialize(t *testing.T) {
	cfg, err := Parse([]byte("name: plain\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, engine.ErrNotDecoupled) {
		t.Errorf("Validate = %v, want ErrNotDecoupled", err)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing name", "decoupled: true\n", "name"},
		{"unknown field", "name: x\nbatching: true\n", "batching"},
		{"bad dtype", "name: x\noutput:\n  data_type: TYPE_STRING\n", "data_type"},
		{"bad duration", "name: x\ncloser_delay: soon\n", "closer_delay"},
		{"bad policy", "name: x\nclose_policy: first\n", "close_policy"},
		{"wrong type", "name: x\ndecoupled: \"yes\"\n", "decoupled"},
		{"empty", "", "empty"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Parse error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("name: from_file\ndecoupled: true\ncloser_delay: 1s\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "from_file" || cfg.CloserDelay != time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load error = %v, want ErrNotExist", err)
	}
}

func TestParseGCSURL(t *testing.T) {
	tests := []struct {
		url            string
		bucket, object string
		wantErr        bool
	}{
		{"gs://models/relay/config.yaml", "models", "relay/config.yaml", false},
		{"gs://models/config.json", "models", "config.json", false},
		{"gs://models", "", "", true},
		{"gs:///config.yaml", "", "", true},
		{"s3://models/config.yaml", "", "", true},
	}

	for _, tt := range tests {
		bucket, object, err := parseGCSURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseGCSURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || object != tt.object {
			t.Errorf("parseGCSURL(%q) = %q, %q; want %q, %q", tt.url, bucket, object, tt.bucket, tt.object)
		}
	}
}
