package schema

import "testing"

func TestNewRegistryCompilesAllSchemas(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for kind := range rawSchemas {
		if _, ok := r.schemas[kind]; !ok {
			t.Errorf("schema for %s not compiled", kind)
		}
	}
}

func TestValidateErrorFlag(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	valid := []byte(`{"agent":"builder","error_type":"timeout","message":"no response","timestamp":"2026-01-01T00:00:00Z","recoverable":true}`)
	if err := r.Validate(KindErrorFlag, valid); err != nil {
		t.Errorf("expected valid error.flag to pass, got %v", err)
	}

	missingField := []byte(`{"agent":"builder"}`)
	if err := r.Validate(KindErrorFlag, missingField); err == nil {
		t.Error("expected validation error for missing required fields")
	}

	badEnum := []byte(`{"agent":"builder","error_type":"not-a-kind","message":"x","timestamp":"2026-01-01T00:00:00Z","recoverable":true}`)
	if err := r.Validate(KindErrorFlag, badEnum); err == nil {
		t.Error("expected validation error for invalid error_type enum")
	}
}

func TestValidateVerdict(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.Validate(KindVerdict, []byte(`{"verdict":"PASS"}`)); err != nil {
		t.Errorf("expected PASS verdict to validate, got %v", err)
	}
	if err := r.Validate(KindVerdict, []byte(`{"verdict":"MAYBE"}`)); err == nil {
		t.Error("expected invalid verdict enum to fail")
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.Validate(KindVerdict, []byte(`{not json`)); err == nil {
		t.Error("expected malformed JSON to fail validation")
	}
}
