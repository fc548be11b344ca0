package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
)

type ProcessingGraphJSON struct {
	Config map[string]string `json:"config"`
	Steps  []ProcessingStep  `json:"processing_steps"`
}

func decodeGraph(r io.Reader) (ProcessingGraphJSON, error) {
	var graphJSON ProcessingGraphJSON
	if err := json.NewDecoder(r).Decode(&graphJSON); err != nil {
		return ProcessingGraphJSON{}, fmt.Errorf("decodeGraph: %w", err)
	}
	return graphJSON, nil
}

func (t *Condition) UnmarshalJSON(data []byte) error {
	var res string
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	if res == "" {
		res = pass.Name
	}

	var ok bool
	*t, ok = conditionJSON[res]
	if !ok {
		return fmt.Errorf("UnmarshalJSON: unknown condition: %s (must be one of %v)", res, reflect.ValueOf(conditionJSON).MapKeys())
	}
	return nil
}

func (t Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Name)
}

type ArgJSON struct {
	Arg
}

type argJSON struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (a *ArgJSON) UnmarshalJSON(data []byte) error {
	res := argJSON{}
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}

	switch res.Type {
	case "fixed":
		a.Arg = ArgFixed(res.Value)
	case "config":
		a.Arg = ArgConfig(res.Value)
	case "stack":
		a.Arg = ArgStack(res.Value)
	default:
		return fmt.Errorf("UnmarshalJSON: unknown type: %s (must be one of fixed, config, stack)", res.Type)
	}
	return nil
}

func (a ArgJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Arg)
}

func (a ArgFixed) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "fixed", Value: string(a)})
}

func (a ArgConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "config", Value: string(a)})
}

func (a ArgStack) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "stack", Value: string(a)})
}

type processingStepJSON struct {
	Engine    string             `json:"engine"` // python, cmd or cmd_noerr
	Command   string             `json:"command"`
	Args      map[string]ArgJSON `json:"args,omitempty"`
	Params    []ArgJSON          `json:"params,omitempty"`
	Condition Condition          `json:"condition"`
}

func (a *ProcessingStep) UnmarshalJSON(data []byte) error {
	res := processingStepJSON{Condition: pass}
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}

	*a = ProcessingStep{
		Engine:    res.Engine,
		Command:   res.Command,
		Condition: res.Condition,
	}
	if len(res.Args) > 0 {
		a.Args = map[string]Arg{}
	}
	for k, v := range res.Args {
		a.Args[k] = v.Arg
	}
	for _, v := range res.Params {
		a.Params = append(a.Params, v.Arg)
	}
	return nil
}

func (a ProcessingStep) MarshalJSON() ([]byte, error) {
	res := processingStepJSON{
		Engine:    a.Engine,
		Command:   a.Command,
		Args:      map[string]ArgJSON{},
		Condition: a.Condition,
	}
	for k, v := range a.Args {
		res.Args[k] = ArgJSON{v}
	}
	for _, v := range a.Params {
		res.Params = append(res.Params, ArgJSON{v})
	}
	return json.Marshal(res)
}
