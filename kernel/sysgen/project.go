// Package sysgen loads a YAML project file describing a kernel image:
// kernel settings plus every statically defined object, referenced by name.
// Build turns a project into a defined, not yet running, kernel and a symbol
// table mapping names to object ids.
package sysgen

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nashif/zephyr-sub001/kernel/foundation"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// Project is the root of a project file.
type Project struct {
	Name       string       `yaml:"name"`
	Kernel     KernelSpec   `yaml:"kernel"`
	Tasks      []TaskSpec   `yaml:"tasks"`
	Fibers     []FiberSpec  `yaml:"fibers"`
	Semaphores []SemSpec    `yaml:"semaphores"`
	Mutexes    []ObjectSpec `yaml:"mutexes"`
	Maps       []MapSpec    `yaml:"maps"`
	Pipes      []PipeSpec   `yaml:"pipes"`
	Mailboxes  []ObjectSpec `yaml:"mailboxes"`
	Events     []EventSpec  `yaml:"events"`
	Groups     []GroupSpec  `yaml:"groups"`
	IRQObjects []ObjectSpec `yaml:"irq_objects"`
}

// KernelSpec holds kernel-wide settings. Zero values take the kernel
// defaults.
type KernelSpec struct {
	CommandQueue   uint32        `yaml:"command_queue"`
	ISRPackets     int           `yaml:"isr_packets"`
	FiberPackets   int           `yaml:"fiber_packets"`
	ServerPriority uint8         `yaml:"server_priority"`
	Timers         int           `yaml:"timers"`
	TimeSlice      TimeSliceSpec `yaml:"time_slice"`
}

// TimeSliceSpec configures round-robin slicing. A nil PriorityLimit slices
// every priority.
type TimeSliceSpec struct {
	Ticks         int32  `yaml:"ticks"`
	PriorityLimit *uint8 `yaml:"priority_limit"`
}

// ObjectSpec names an object that has no other static attributes.
type ObjectSpec struct {
	Name string `yaml:"name"`
}

// TaskSpec defines a task. Entry names the body in Entries.Tasks and
// defaults to the task name; a task with no body is driven by host code.
type TaskSpec struct {
	Name      string `yaml:"name"`
	Priority  uint8  `yaml:"priority"`
	Essential bool   `yaml:"essential"`
	AutoStart bool   `yaml:"autostart"`
	Entry     string `yaml:"entry"`
}

// FiberSpec defines a fiber. Its body must be present in Entries.Fibers.
type FiberSpec struct {
	Name     string `yaml:"name"`
	Priority uint8  `yaml:"priority"`
	Entry    string `yaml:"entry"`
}

// SemSpec defines a counting semaphore.
type SemSpec struct {
	Name    string `yaml:"name"`
	Initial uint32 `yaml:"initial"`
}

// MapSpec defines a memory map of fixed-size blocks.
type MapSpec struct {
	Name      string `yaml:"name"`
	Blocks    uint32 `yaml:"blocks"`
	BlockSize uint32 `yaml:"block_size"`
}

// PipeSpec defines a pipe. Unit is the transfer granularity in bytes and
// defaults to one.
type PipeSpec struct {
	Name string `yaml:"name"`
	Unit int    `yaml:"unit"`
}

// EventSpec defines an event. Handler optionally names a handler in
// Entries.Handlers installed at build time.
type EventSpec struct {
	Name    string `yaml:"name"`
	Handler string `yaml:"handler"`
}

// GroupSpec defines an event group with its initial flag word.
type GroupSpec struct {
	Name    string `yaml:"name"`
	Initial uint32 `yaml:"initial"`
}

// Load reads and validates a project file.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.WrapErrorf(err, "read project %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, utils.WrapErrorf(err, "project %s", path)
	}
	return p, nil
}

// Parse decodes and validates a project. Unknown keys are rejected.
func Parse(data []byte) (*Project, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Project
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.WrapError(err, "decode project")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks names and ranges. All problems are reported together.
func (p *Project) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	lowest := uint8(foundation.PriorityLowest)
	if p.Kernel.ServerPriority >= foundation.PriorityLevels {
		fail("kernel: server priority %d out of range", p.Kernel.ServerPriority)
	}
	if p.Kernel.ISRPackets < 0 || p.Kernel.FiberPackets < 0 {
		fail("kernel: packet pool sizes must not be negative")
	}
	if p.Kernel.Timers < 0 {
		fail("kernel: timer count must not be negative")
	}
	if p.Kernel.TimeSlice.Ticks < 0 {
		fail("kernel: time slice must not be negative")
	}
	if l := p.Kernel.TimeSlice.PriorityLimit; l != nil && *l > lowest {
		fail("kernel: time slice priority limit %d out of range", *l)
	}

	names := func(kind string, list []string) {
		seen := make(map[string]bool, len(list))
		for i, name := range list {
			switch {
			case name == "":
				fail("%s[%d]: name is required", kind, i)
			case seen[name]:
				fail("%s %q: defined twice", kind, name)
			}
			seen[name] = true
		}
	}

	taskNames := make([]string, len(p.Tasks))
	for i, t := range p.Tasks {
		taskNames[i] = t.Name
		if t.Priority >= lowest {
			fail("task %q: priority %d out of range (0-%d)", t.Name, t.Priority, lowest-1)
		}
	}
	names("task", taskNames)

	fiberNames := make([]string, len(p.Fibers))
	for i, f := range p.Fibers {
		fiberNames[i] = f.Name
		if f.Priority >= foundation.PriorityLevels {
			fail("fiber %q: priority %d out of range", f.Name, f.Priority)
		}
	}
	names("fiber", fiberNames)

	semNames := make([]string, len(p.Semaphores))
	for i, s := range p.Semaphores {
		semNames[i] = s.Name
	}
	names("semaphore", semNames)

	mapNames := make([]string, len(p.Maps))
	for i, m := range p.Maps {
		mapNames[i] = m.Name
		if m.Blocks == 0 || m.BlockSize == 0 {
			fail("map %q: blocks and block_size must be positive", m.Name)
		}
	}
	names("map", mapNames)

	pipeNames := make([]string, len(p.Pipes))
	for i, pp := range p.Pipes {
		pipeNames[i] = pp.Name
		if pp.Unit < 0 {
			fail("pipe %q: unit must not be negative", pp.Name)
		}
	}
	names("pipe", pipeNames)

	eventNames := make([]string, len(p.Events))
	for i, e := range p.Events {
		eventNames[i] = e.Name
	}
	names("event", eventNames)

	groupNames := make([]string, len(p.Groups))
	for i, g := range p.Groups {
		groupNames[i] = g.Name
	}
	names("group", groupNames)

	names("mutex", objectNames(p.Mutexes))
	names("mailbox", objectNames(p.Mailboxes))
	names("irq object", objectNames(p.IRQObjects))

	if len(errs) > 0 {
		return utils.WrapError(errors.Join(errs...), "invalid project")
	}
	return nil
}

func objectNames(list []ObjectSpec) []string {
	out := make([]string, len(list))
	for i, o := range list {
		out[i] = o.Name
	}
	return out
}
