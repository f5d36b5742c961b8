// Copyright 2024 DataLineage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transform applies typed data-cleaning steps to a table.Frame.
//
// Steps are a tagged union: a Type plus a Params value whose concrete type
// belongs to exactly that Type. Handlers are looked up in a Registry passed to
// the Engine at construction; there is no package-level registry.
//
// A Config moves through Empty -> Building -> Validated -> Applied. Applied
// is terminal: further changes need a new Config.
package transform

import (
	"fmt"
	"sort"

	"datalineage/internal/common"
)

// Type identifies a transformation. The set is closed.
type Type string

const (
	TypeImpute         Type = "impute"
	TypeDropMissing    Type = "drop_missing"
	TypeEncode         Type = "encode"
	TypeScale          Type = "scale"
	TypeNormalize      Type = "normalize"
	TypeStandardize    Type = "standardize"
	TypeOneHotEncode   Type = "one_hot_encode"
	TypeLabelEncode    Type = "label_encode"
	TypeFillMissing    Type = "fill_missing"
	TypeDropDuplicates Type = "drop_duplicates"
	TypeOutlierRemoval Type = "outlier_removal"
	TypeFilter         Type = "filter"
	TypeAggregate      Type = "aggregate"
	TypeDerive         Type = "derive"
)

var allTypes = []Type{
	TypeImpute, TypeDropMissing, TypeEncode, TypeScale, TypeNormalize,
	TypeStandardize, TypeOneHotEncode, TypeLabelEncode, TypeFillMissing,
	TypeDropDuplicates, TypeOutlierRemoval, TypeFilter, TypeAggregate, TypeDerive,
}

// AllTypes returns every transformation type in a stable order.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether t is in the closed set.
func (t Type) Known() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Params is implemented only by the parameter variants in this package.
type Params interface {
	// Type is the transformation this variant configures.
	Type() Type
	// Inputs lists the input columns the step reads.
	Inputs() []string
	// check validates parameter values independent of any data.
	check(sc StepContext) error
}

// Step is one entry of a pipeline.
type Step struct {
	Type   Type   `json:"type" yaml:"type"`
	Params Params `json:"params" yaml:"params"`
}

// NewStep builds a step, rejecting parameters that belong to another type
// or are malformed.
func NewStep(t Type, p Params) (Step, error) {
	s := Step{Type: t, Params: p}
	if err := s.check(StepContext{Index: 0, Type: t}); err != nil {
		return Step{}, err
	}
	return s, nil
}

// MustStep is NewStep for statically known steps; it panics on error.
func MustStep(p Params) Step {
	s, err := NewStep(p.Type(), p)
	if err != nil {
		panic(err)
	}
	return s
}

// Column returns the first column the step reads, for error and log context.
func (s Step) Column() string {
	if s.Params == nil {
		return ""
	}
	if cols := s.Params.Inputs(); len(cols) > 0 {
		return cols[0]
	}
	return ""
}

func (s Step) check(sc StepContext) error {
	if !s.Type.Known() {
		return &common.UnsupportedTransformationTypeError{Step: sc.Index, Type: string(s.Type)}
	}
	if s.Params == nil {
		return sc.invalidParam("params", "missing")
	}
	if s.Params.Type() != s.Type {
		return &common.TypeIncompatibilityError{
			Step:   sc.Index,
			Type:   string(s.Type),
			Column: s.Column(),
			Reason: fmt.Sprintf("parameters for %s cannot configure a %s step", s.Params.Type(), s.Type),
		}
	}
	return s.Params.check(sc)
}

// StepContext identifies the step being validated so errors carry its position.
type StepContext struct {
	Index int
	Type  Type
}

func (sc StepContext) columnNotFound(column string) error {
	return &common.ColumnNotFoundError{Step: sc.Index, Type: string(sc.Type), Column: column}
}

func (sc StepContext) incompatible(column, reason string) error {
	return &common.TypeIncompatibilityError{Step: sc.Index, Type: string(sc.Type), Column: column, Reason: reason}
}

func (sc StepContext) invalidParam(name, reason string) error {
	return &common.InvalidParameterError{Step: sc.Index, Type: string(sc.Type), Parameter: name, Reason: reason}
}
