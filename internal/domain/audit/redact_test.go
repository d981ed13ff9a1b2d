package audit

import (
	"reflect"
	"testing"
)

func TestSanitizeTopLevelField(t *testing.T) {
	payload := map[string]interface{}{
		"username": "ada",
		"password": "hunter2",
	}

	got := Sanitize(payload, []string{"password"})
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", got)
	}
	if m["password"] != RedactedValue {
		t.Errorf("password not redacted: %v", m["password"])
	}
	if m["username"] != "ada" {
		t.Errorf("username altered: %v", m["username"])
	}
}

func TestSanitizeCaseInsensitive(t *testing.T) {
	payload := map[string]interface{}{
		"Authorization": "Bearer abc",
		"APIKEY":        "k",
	}

	m := Sanitize(payload, []string{"authorization", "apikey"}).(map[string]interface{})
	if m["Authorization"] != RedactedValue || m["APIKEY"] != RedactedValue {
		t.Errorf("case-insensitive match failed: %v", m)
	}
}

func TestSanitizeNestedAndArrays(t *testing.T) {
	payload := map[string]interface{}{
		"users": []interface{}{
			map[string]interface{}{"name": "a", "ssn": "111"},
			map[string]interface{}{"name": "b", "ssn": "222"},
		},
		"auth": map[string]interface{}{
			"token": "t",
			"inner": map[string]interface{}{"secret": "s"},
		},
	}

	m := Sanitize(payload, []string{"ssn", "token", "secret"}).(map[string]interface{})

	users := m["users"].([]interface{})
	for i, u := range users {
		if u.(map[string]interface{})["ssn"] != RedactedValue {
			t.Errorf("user %d ssn not redacted", i)
		}
	}
	auth := m["auth"].(map[string]interface{})
	if auth["token"] != RedactedValue {
		t.Errorf("token not redacted: %v", auth["token"])
	}
	if auth["inner"].(map[string]interface{})["secret"] != RedactedValue {
		t.Errorf("deeply nested secret not redacted")
	}
}

func TestSanitizeRedactedBranchNotRecursed(t *testing.T) {
	// A matched key's value is replaced wholesale, even when it is a map.
	payload := map[string]interface{}{
		"credentials": map[string]interface{}{"password": "p"},
	}

	m := Sanitize(payload, []string{"credentials"}).(map[string]interface{})
	if m["credentials"] != RedactedValue {
		t.Errorf("matched subtree should be replaced by the marker, got %v", m["credentials"])
	}
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	payload := map[string]interface{}{"password": "p", "nested": map[string]interface{}{"token": "t"}}

	Sanitize(payload, []string{"password", "token"})

	if payload["password"] != "p" {
		t.Errorf("input mutated: %v", payload["password"])
	}
	if payload["nested"].(map[string]interface{})["token"] != "t" {
		t.Errorf("nested input mutated")
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	payload := map[string]interface{}{"password": "p", "name": "n"}
	fields := []string{"password"}

	once := Sanitize(payload, fields)
	twice := Sanitize(once, fields)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitize not idempotent: %v vs %v", once, twice)
	}
}

func TestSanitizeEmptyFieldListPassesThrough(t *testing.T) {
	payload := map[string]interface{}{"password": "p"}
	got := Sanitize(payload, nil)
	if !reflect.DeepEqual(got, payload) {
		t.Errorf("expected pass-through, got %v", got)
	}
}

func TestSanitizeScalarPayload(t *testing.T) {
	if got := Sanitize("plain", []string{"password"}); got != "plain" {
		t.Errorf("scalar altered: %v", got)
	}
}
