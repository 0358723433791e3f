package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/relay/internal/tensor"
)

// Defaults applied by DefaultConfig.
const (
	DefaultInputName        = "IN"
	DefaultOutputName       = "OUT"
	DefaultDownstreamModel  = "identity_fp32"
	DefaultDownstreamInput  = "INPUT0"
	DefaultDownstreamOutput = "OUTPUT0"
	DefaultCloserDelay      = 5 * time.Second
	DefaultDrainInterval    = 100 * time.Millisecond
)

// ClosePolicy decides which branch closes a request's response channel.
type ClosePolicy string

const (
	// CloseDesignated gives the close to the delayed branch.
	CloseDesignated ClosePolicy = "designated"
	// CloseLast lets whichever branch finishes last close the channel.
	CloseLast ClosePolicy = "last"
)

// ErrNotDecoupled is returned when the model is not configured for the
// decoupled transaction policy.
var ErrNotDecoupled = errors.New("decoupled transaction policy is not enabled")

// Downstream names the nested model and its tensor names.
type Downstream struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Config is the model configuration the engine is initialized with.
type Config struct {
	Name       string
	Decoupled  bool
	InputName  string
	OutputName string
	OutputType tensor.DType
	Downstream Downstream

	// CloserDelay is the pause before the delayed branch runs. It only makes
	// the closing branch finish last in practice; correctness does not
	// depend on it.
	CloserDelay   time.Duration
	DrainInterval time.Duration
	CallTimeout   time.Duration
	ClosePolicy   ClosePolicy
}

// DefaultConfig returns the configuration of the stock decoupled model.
func DefaultConfig() Config {
	return Config{
		Name:       "decoupled_relay",
		Decoupled:  true,
		InputName:  DefaultInputName,
		OutputName: DefaultOutputName,
		OutputType: tensor.TypeFP32,
		Downstream: Downstream{
			Model:  DefaultDownstreamModel,
			Input:  DefaultDownstreamInput,
			Output: DefaultDownstreamOutput,
		},
		CloserDelay:   DefaultCloserDelay,
		DrainInterval: DefaultDrainInterval,
		ClosePolicy:   CloseDesignated,
	}
}

// Validate checks the configuration. A model that is not decoupled is
// rejected with ErrNotDecoupled.
func (c Config) Validate() error {
	if !c.Decoupled {
		return fmt.Errorf("model %q can generate any number of responses per request, "+
			"enable the decoupled transaction policy to serve it: %w", c.Name, ErrNotDecoupled)
	}
	if c.OutputName == "" {
		return errors.New("output name is required")
	}
	if !c.OutputType.Valid() {
		return fmt.Errorf("output data type %q is not supported", c.OutputType)
	}
	if c.Downstream.Model == "" || c.Downstream.Input == "" || c.Downstream.Output == "" {
		return errors.New("downstream model, input and output names are required")
	}
	if c.CloserDelay < 0 || c.CallTimeout < 0 {
		return errors.New("delays and timeouts must not be negative")
	}
	if c.DrainInterval <= 0 {
		return errors.New("drain interval must be positive")
	}
	switch c.ClosePolicy {
	case CloseDesignated, CloseLast:
	default:
		return fmt.Errorf("unknown close policy %q", c.ClosePolicy)
	}
	return nil
}
