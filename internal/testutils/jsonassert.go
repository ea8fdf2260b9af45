package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// TestingT is the subset of testing.T the asserters report through.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

type JSONAssertOptions struct {
	IgnoreExtraKeys bool `default:"true"`
	IgnoredFields   []string
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

// WithIgnoredFields drops the named keys, at any depth, from both sides before comparing.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// WithStrictKeys makes keys present only in the actual document a mismatch.
func WithStrictKeys() JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = false }
}

type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertLines compares newline-delimited JSON documents one by one.
func (ja *JSONAsserter) AssertLines(actual string, expected ...string) {
	ja.t.Helper()
	lines := nonEmptyLines(actual)
	if len(lines) != len(expected) {
		ja.t.Errorf("JSON lines assertion failed: got %d lines, want %d\n%s", len(lines), len(expected), actual)
		return
	}
	for i := range lines {
		if diff := ja.Diff(lines[i], expected[i]); diff != "" {
			ja.t.Errorf("JSON line %d assertion failed:\n%s", i, diff)
		}
	}
}

// Diff returns an ASCII diff of the two documents, or "" when they match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual map[string]interface{}
	if err := json.Unmarshal([]byte(wrapArray(expectedJSON)), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(wrapArray(actualJSON)), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	for _, f := range ja.options.IgnoredFields {
		removeField(expected, f)
		removeField(actual, f)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	diff := gojsondiff.New().CompareObjects(expected, actual)
	if !diff.Modified() {
		return ""
	}
	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	return out
}

// wrapArray wraps a root-level array in an object (gojsondiff compares objects).
func wrapArray(doc string) string {
	if strings.HasPrefix(strings.TrimSpace(doc), "[") {
		return `{"array":` + doc + `}`
	}
	return doc
}

func removeField(v interface{}, field string) {
	switch node := v.(type) {
	case map[string]interface{}:
		delete(node, field)
		for _, child := range node {
			removeField(child, field)
		}
	case []interface{}:
		for _, child := range node {
			removeField(child, field)
		}
	}
}

// pruneExtraKeys removes keys from actual that expected does not mention.
func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
				continue
			}
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
