// Package workload describes simulated workloads for the scheduler and runs
// them. A scenario names a scheduling policy, machine limits and a set of
// threads, each driven either by a list of steps or by a JavaScript body.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/me/threadsched/pkg/model"
)

// Scenario is a workload definition.
type Scenario struct {
	Name       string         `yaml:"name" json:"name"`
	Policy     string         `yaml:"policy,omitempty" json:"policy,omitempty"`
	TimerFreq  int            `yaml:"timer_freq,omitempty" json:"timer_freq,omitempty"`
	TimeSlice  int            `yaml:"time_slice,omitempty" json:"time_slice,omitempty"`
	Pages      int            `yaml:"pages,omitempty" json:"pages,omitempty"`
	MaxTicks   int64          `yaml:"max_ticks,omitempty" json:"max_ticks,omitempty"`
	Main       MainSpec       `yaml:"main,omitempty" json:"main,omitempty"`
	Semaphores map[string]int `yaml:"semaphores,omitempty" json:"semaphores,omitempty"`
	Threads    []ThreadSpec   `yaml:"threads" json:"threads"`
}

// MainSpec configures the initial thread, which creates the workload
// threads and waits for them.
type MainSpec struct {
	Priority *int `yaml:"priority,omitempty" json:"priority,omitempty"`
	Nice     int  `yaml:"nice,omitempty" json:"nice,omitempty"`
}

// ThreadSpec describes one workload thread.
type ThreadSpec struct {
	Name     string `yaml:"name" json:"name"`
	Priority *int   `yaml:"priority,omitempty" json:"priority,omitempty"`
	Nice     int    `yaml:"nice,omitempty" json:"nice,omitempty"`
	Steps    []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
	Script   string `yaml:"script,omitempty" json:"script,omitempty"`
}

// InitialPriority returns the priority the thread is created with.
func (t ThreadSpec) InitialPriority() int {
	if t.Priority == nil {
		return model.PriDefault
	}
	return *t.Priority
}

// Step is a single action of a step-driven thread. Exactly one field is set.
type Step struct {
	Run         *int64 `yaml:"run,omitempty" json:"run,omitempty"`
	Sleep       *int64 `yaml:"sleep,omitempty" json:"sleep,omitempty"`
	Yield       bool   `yaml:"yield,omitempty" json:"yield,omitempty"`
	Acquire     string `yaml:"acquire,omitempty" json:"acquire,omitempty"`
	Release     string `yaml:"release,omitempty" json:"release,omitempty"`
	Down        string `yaml:"down,omitempty" json:"down,omitempty"`
	Up          string `yaml:"up,omitempty" json:"up,omitempty"`
	SetPriority *int   `yaml:"set_priority,omitempty" json:"set_priority,omitempty"`
	SetNice     *int   `yaml:"set_nice,omitempty" json:"set_nice,omitempty"`
	Log         string `yaml:"log,omitempty" json:"log,omitempty"`
}

// stepFields holds the keys a step mapping may use. node.Decode does not
// inherit the decoder's KnownFields setting, so they are checked by hand.
var stepFields = map[string]bool{
	"run": true, "sleep": true, "yield": true,
	"acquire": true, "release": true, "down": true, "up": true,
	"set_priority": true, "set_nice": true, "log": true,
}

// UnmarshalYAML accepts the bare scalar "yield" as well as the mapping form.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value != "yield" {
			return fmt.Errorf("line %d: unknown step %q", node.Line, node.Value)
		}
		*s = Step{Yield: true}
		return nil
	}
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if !stepFields[key.Value] {
				return fmt.Errorf("line %d: field %s not found in type workload.Step", key.Line, key.Value)
			}
		}
	}
	type plain Step
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Step(p)
	return nil
}

// actions lists the names of the actions set on the step.
func (s Step) actions() []string {
	var out []string
	if s.Run != nil {
		out = append(out, "run")
	}
	if s.Sleep != nil {
		out = append(out, "sleep")
	}
	if s.Yield {
		out = append(out, "yield")
	}
	if s.Acquire != "" {
		out = append(out, "acquire")
	}
	if s.Release != "" {
		out = append(out, "release")
	}
	if s.Down != "" {
		out = append(out, "down")
	}
	if s.Up != "" {
		out = append(out, "up")
	}
	if s.SetPriority != nil {
		out = append(out, "set_priority")
	}
	if s.SetNice != nil {
		out = append(out, "set_nice")
	}
	if s.Log != "" {
		out = append(out, "log")
	}
	return out
}

// Parse decodes a scenario from YAML. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty scenario")
		}
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	return &sc, nil
}

// ParseFile reads and decodes a scenario file. A scenario without a name is
// named after the file.
func ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}

// Marshal encodes a scenario back to YAML.
func Marshal(sc *Scenario) ([]byte, error) {
	return yaml.Marshal(sc)
}
