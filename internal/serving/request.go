package serving

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/dyluth/effectd/pkg/knowledge"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("malformed request")

// PredictRequest asks for one prediction.
// Flat bodies such as {"name": "svc", "target": "p99", "cpu": 2} are
// accepted: unknown top-level keys are merged into Features, and an
// explicit "features" object wins on conflicts.
type PredictRequest struct {
	Subject  string
	Target   string
	Features map[string]any
}

// ForecastRequest asks for a one-hot sweep per objective.
type ForecastRequest struct {
	Subject    string
	Objectives []string
	Amount     float64
}

// Key returns the key the request is served from within group.
func (r *PredictRequest) Key(group string) knowledge.Key {
	return knowledge.Key{Subject: r.Subject, Group: group, Target: r.Target}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeObject(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return nil, badRequest("failed to read body: %v", err)
	}
	if len(data) > maxBodyBytes {
		return nil, badRequest("body exceeds %d bytes", maxBodyBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, badRequest("invalid JSON: %v", err)
	}
	if obj == nil {
		return nil, badRequest("body must be a JSON object")
	}
	if dec.More() {
		return nil, badRequest("trailing data after JSON object")
	}
	return obj, nil
}

// stringField takes the first present name from obj and deletes all of them.
func stringField(obj map[string]any, names ...string) (string, error) {
	var (
		value string
		found bool
	)
	for _, name := range names {
		raw, ok := obj[name]
		if !ok {
			continue
		}
		delete(obj, name)
		if found {
			continue
		}
		s, ok := raw.(string)
		if !ok || s == "" {
			return "", badRequest("%q must be a non-empty string", name)
		}
		value, found = s, true
	}
	if !found {
		return "", badRequest("%q is required", names[0])
	}
	return value, nil
}

// ParsePredictRequest reads a predict body.
func ParsePredictRequest(body io.Reader) (*PredictRequest, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	subject, err := stringField(obj, "subject", "name")
	if err != nil {
		return nil, err
	}
	target, err := stringField(obj, "target")
	if err != nil {
		return nil, err
	}

	features := make(map[string]any, len(obj))
	explicit, hasExplicit := obj["features"]
	delete(obj, "features")
	for k, v := range obj {
		features[k] = v
	}
	if hasExplicit {
		m, ok := explicit.(map[string]any)
		if !ok {
			return nil, badRequest(`"features" must be an object`)
		}
		for k, v := range m {
			features[k] = v
		}
	}

	return &PredictRequest{Subject: subject, Target: target, Features: features}, nil
}

// ParseForecastRequest reads a forecast body.
func ParseForecastRequest(body io.Reader) (*ForecastRequest, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	subject, err := stringField(obj, "subject", "intent")
	if err != nil {
		return nil, err
	}

	rawObjectives, ok := obj["objectives"].([]any)
	if !ok || len(rawObjectives) == 0 {
		return nil, badRequest(`"objectives" must be a non-empty list of strings`)
	}
	objectives := make([]string, 0, len(rawObjectives))
	seen := make(map[string]struct{}, len(rawObjectives))
	for _, o := range rawObjectives {
		s, ok := o.(string)
		if !ok || s == "" {
			return nil, badRequest(`"objectives" must be a non-empty list of strings`)
		}
		if _, dup := seen[s]; dup {
			return nil, badRequest("duplicate objective %q", s)
		}
		seen[s] = struct{}{}
		objectives = append(objectives, s)
	}

	var rawAmount any
	for _, name := range []string{"amount", "cores"} {
		if v, ok := obj[name]; ok {
			rawAmount = v
			break
		}
	}
	if rawAmount == nil {
		return nil, badRequest(`"amount" is required`)
	}
	num, ok := rawAmount.(json.Number)
	if !ok {
		return nil, badRequest(`"amount" must be a number`)
	}
	amount, err := num.Float64()
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, badRequest(`"amount" must be a finite number`)
	}

	return &ForecastRequest{Subject: subject, Objectives: objectives, Amount: amount}, nil
}
