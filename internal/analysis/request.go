package analysis

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/aibot/internal/emr"
)

var (
	ErrInvalidJSON = errors.New("invalid JSON")
	ErrInvalidID   = errors.New("case_id and patient_id must be strings or numbers")
)

//go:embed sample_emr.json
var sampleEMR []byte

// SampleInput returns a fresh copy of the built-in development EMR.
func SampleInput() emr.Input {
	in, err := decodeInput(sampleEMR)
	if err != nil {
		panic(fmt.Sprintf("analysis: embedded sample EMR: %v", err))
	}
	return in
}

func decodeInput(data []byte) (emr.Input, error) {
	var doc map[string]interface{}
	if err := decodeJSON(data, &doc); err != nil {
		return emr.Input{}, err
	}
	return inputFrom(doc), nil
}

// ParseRequest decodes an analysis request body. The EMR is read from an
// "emr" object when present, else from top-level history, examination and
// investigation keys. When the EMR is empty and sampleFallback is set the
// sample EMR is substituted.
func ParseRequest(body []byte, sampleFallback bool) (Request, error) {
	var doc map[string]interface{}
	if err := decodeJSON(body, &doc); err != nil || doc == nil {
		return Request{}, ErrInvalidJSON
	}

	caseID, err := idField(doc, "case_id")
	if err != nil {
		return Request{}, err
	}
	patientID, err := idField(doc, "patient_id")
	if err != nil {
		return Request{}, err
	}

	req := Request{CaseID: caseID, PatientID: patientID}
	if nested, ok := doc["emr"].(map[string]interface{}); ok {
		req.EMR = inputFrom(nested)
	} else {
		req.EMR = inputFrom(doc)
	}

	if req.EMR.IsEmpty() && sampleFallback {
		req.EMR = SampleInput()
		req.Sample = true
	}
	return req, nil
}

func inputFrom(doc map[string]interface{}) emr.Input {
	return emr.Input{
		History:       doc["history"],
		Examination:   doc["examination"],
		Investigation: doc["investigation"],
	}
}

// decodeJSON decodes a single JSON value keeping numbers as json.Number.
func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// idField reads an optional identifier given as a string or a number.
func idField(doc map[string]interface{}, key string) (*string, error) {
	switch v := doc[key].(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(v)
		return &s, nil
	case json.Number:
		s := v.String()
		return &s, nil
	default:
		return nil, ErrInvalidID
	}
}
