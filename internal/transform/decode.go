package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"datalineage/internal/common"
)

var decoders = map[Type]func(*yaml.Node) (Params, error){
	TypeImpute:         decodeParams[ImputeParams],
	TypeFillMissing:    decodeParams[FillMissingParams],
	TypeDropMissing:    decodeParams[DropMissingParams],
	TypeEncode:         decodeParams[EncodeParams],
	TypeLabelEncode:    decodeParams[LabelEncodeParams],
	TypeOneHotEncode:   decodeParams[OneHotEncodeParams],
	TypeScale:          decodeParams[ScaleParams],
	TypeNormalize:      decodeParams[NormalizeParams],
	TypeStandardize:    decodeParams[StandardizeParams],
	TypeDropDuplicates: decodeParams[DropDuplicatesParams],
	TypeOutlierRemoval: decodeParams[OutlierRemovalParams],
	TypeFilter:         decodeParams[FilterParams],
	TypeAggregate:      decodeParams[AggregateParams],
	TypeDerive:         decodeParams[DeriveParams],
}

// decodeParams decodes node into P, rejecting unknown fields.
func decodeParams[P Params](node *yaml.Node) (Params, error) {
	var p P
	if node == nil || node.Kind == 0 {
		return p, nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return p, nil
}

type stepDoc struct {
	Type   Type      `yaml:"type"`
	Params yaml.Node `yaml:"params"`
}

func decodeStep(sc StepContext, node *yaml.Node) (Step, error) {
	var doc stepDoc
	if err := node.Decode(&doc); err != nil {
		return Step{}, &common.InvalidInputError{Field: fmt.Sprintf("steps[%d]", sc.Index), Reason: err.Error()}
	}
	sc.Type = doc.Type
	decode, ok := decoders[doc.Type]
	if !ok {
		return Step{}, &common.UnsupportedTransformationTypeError{Step: sc.Index, Type: string(doc.Type)}
	}
	p, err := decode(&doc.Params)
	if err != nil {
		return Step{}, sc.invalidParam("params", err.Error())
	}
	return Step{Type: doc.Type, Params: p}, nil
}

// UnmarshalYAML decodes {type, params} into the variant for type.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	step, err := decodeStep(StepContext{}, node)
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// UnmarshalJSON accepts the same shape as UnmarshalYAML.
func (s *Step) UnmarshalJSON(data []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return s.UnmarshalYAML(node.Content[0])
	}
	return s.UnmarshalYAML(&node)
}

// DecodeSteps parses a pipeline file. Both a top-level list of steps and a
// mapping with a steps key are accepted, in YAML or JSON. Every step is
// checked for well-formed parameters; column checks happen at validation.
func DecodeSteps(data []byte) ([]Step, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &common.InvalidInputError{Field: "pipeline", Reason: err.Error()}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &common.InvalidInputError{Field: "pipeline", Reason: "empty document"}
	}
	list := root.Content[0]
	if list.Kind == yaml.MappingNode {
		list = nil
		for i := 0; i+1 < len(root.Content[0].Content); i += 2 {
			if root.Content[0].Content[i].Value == "steps" {
				list = root.Content[0].Content[i+1]
			}
		}
		if list == nil {
			return nil, &common.InvalidInputError{Field: "pipeline", Reason: "missing steps"}
		}
	}
	if list.Kind != yaml.SequenceNode {
		return nil, &common.InvalidInputError{Field: "steps", Reason: "must be a list"}
	}
	if len(list.Content) == 0 {
		return nil, &common.InvalidInputError{Field: "steps", Reason: "pipeline has no steps"}
	}

	steps := make([]Step, 0, len(list.Content))
	for i, node := range list.Content {
		sc := StepContext{Index: i}
		step, err := decodeStep(sc, node)
		if err != nil {
			return nil, err
		}
		sc.Type = step.Type
		if err := step.check(sc); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// StepRecord is the persisted form of a step.
type StepRecord struct {
	Type   Type           `json:"type"`
	Params map[string]any `json:"params"`
}

// ParamsMap renders p as the key/value mapping stored with lineage.
func ParamsMap(p Params) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Records converts steps to their persisted form.
func Records(steps []Step) ([]StepRecord, error) {
	out := make([]StepRecord, len(steps))
	for i, s := range steps {
		m, err := ParamsMap(s.Params)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Type, err)
		}
		out[i] = StepRecord{Type: s.Type, Params: m}
	}
	return out, nil
}

// StepsFromRecords rebuilds steps from their persisted form.
func StepsFromRecords(records []StepRecord) ([]Step, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return DecodeSteps(raw)
}
