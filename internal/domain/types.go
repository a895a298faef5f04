// Package domain holds the data model shared across components (spec §3):
// Module, Workflow, DataRequirement, and PendingExecution.
package domain

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// DataRequirement describes one table-shaped input/output a module declares.
// Informational to the core.
type DataRequirement struct {
	TableKind string   `yaml:"table_kind" json:"table_kind"`
	TableName string   `yaml:"table_name" json:"table_name"`
	Columns   []string `yaml:"columns" json:"columns"`
	Begin     int      `yaml:"begin" json:"begin"`
	End       int      `yaml:"end" json:"end"`
	Unit      string   `yaml:"unit" json:"unit"`
}

// Module is the registered identity of a worker (spec §3).
//
// Invariant M1: Alive ⇔ SessionID != "".
// Invariant M2: ID and Hash are both unique across all modules.
// Invariant M3: at most one session is bound to a module at a time.
type Module struct {
	ID          int64 `yaml:"id" json:"id"`
	Hash        string `yaml:"hash" json:"hash" validate:"required"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Priority    int    `yaml:"priority" json:"priority"`
	Description string `yaml:"description" json:"description"`

	Alive     bool   `yaml:"-" json:"alive"`
	SessionID string `yaml:"-" json:"session_id"`

	LastLoginTime     time.Time `yaml:"-" json:"last_login_time"`
	LastAliveTime     time.Time `yaml:"-" json:"last_alive_time"`
	LastExecutionTime time.Time `yaml:"-" json:"last_execution_time"`

	InputData  []DataRequirement `yaml:"input_data" json:"input_data"`
	OutputData []DataRequirement `yaml:"output_data" json:"output_data"`
}

// ShiftUnit is the unit tag for a workflow's execute_shift_time.
type ShiftUnit string

const (
	ShiftSeconds ShiftUnit = "s"
	ShiftMinutes ShiftUnit = "min"
	ShiftHours   ShiftUnit = "h"
	ShiftDays    ShiftUnit = "D"
)

// Invocation is one entry of a workflow's execute_modules list: either
// {name, args} or {module_hash, args}.
type Invocation struct {
	ModuleHash string         `yaml:"module_hash,omitempty" json:"module_hash,omitempty"`
	Name       string         `yaml:"name,omitempty" json:"name,omitempty"`
	Args       map[string]any `yaml:"args" json:"args"`
}

// invocationAlias has Invocation's fields without its Unmarshal methods, used
// to decode the mapping form without recursing.
type invocationAlias Invocation

// UnmarshalYAML implements spec §4.6 step 2a: a scalar entry ("abc123hash")
// is a bare module_hash with empty args; a mapping entry decodes normally.
func (inv *Invocation) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		inv.ModuleHash = value.Value
		inv.Name = ""
		inv.Args = nil
		return nil
	}
	var a invocationAlias
	if err := value.Decode(&a); err != nil {
		return err
	}
	*inv = Invocation(a)
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML for the §6 wire/admin format.
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		inv.ModuleHash = s
		inv.Name = ""
		inv.Args = nil
		return nil
	}
	var a invocationAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*inv = Invocation(a)
	return nil
}

// Workflow is a named schedule tied to a sequence of module invocations
// (spec §3).
type Workflow struct {
	ID              int64        `yaml:"id" json:"id"`
	Name            string       `yaml:"name" json:"name" validate:"required"`
	Description     string       `yaml:"description" json:"description"`
	Enable          bool         `yaml:"enable" json:"enable"`
	ExecuteCronList []string     `yaml:"execute_cron_list" json:"execute_cron_list" validate:"required,min=1"`
	ExecuteShiftTime int         `yaml:"execute_shift_time" json:"execute_shift_time"`
	ExecuteShiftUnit ShiftUnit   `yaml:"execute_shift_unit" json:"execute_shift_unit" validate:"required,oneof=s min h D"`
	ExecuteModules   []Invocation `yaml:"execute_modules" json:"execute_modules"`
}

// PendingExecution is the in-memory per-dispatch record (spec §3).
type PendingExecution struct {
	ExecutionID  string
	ModuleID     int64
	WorkflowID   int64
	WorkflowName string
	ModuleName   string
	SentTime     time.Time
}
