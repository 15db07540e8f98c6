package builtin

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestJQTransformExecute(t *testing.T) {
	tests := []struct {
		name string
		expression string
		data any
		want any
		wantErr bool
	}{
		{
			name: "empty expression returns data as-is",
			expression: "",
			data: map[string]any{"foo": "bar"},
			want: map[string]any{"foo": "bar"},
		},
		{
			name: "simple field extraction",
			expression: ".foo",
			data: map[string]any{"foo": "bar"},
			want: "bar",
		},
		{
			name: "array map",
			expression: "map(.x)",
			data: []any{map[string]any{"x": 1}, map[string]any{"x": 2}},
			want: []any{1, 2},
		},
		{
			name: "invalid expression",
			expression: ".[",
			data: map[string]any{"foo": "bar"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jq := NewJQTransform()
			got, err := jq.Execute(context.Background(), map[string]any{
				"expression": tt.expression,
				"input": tt.data,
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Execute = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJQTransformRespectsTimeout(t *testing.T) {
	jq := &JQTransform{Timeout: time.Nanosecond, MaxInputSize: DefaultMaxInputSize}
	_, err := jq.Execute(context.Background(), map[string]any{
		"expression": ".",
		"input": map[string]any{"x": 1},
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestJQTransformRejectsOversizedInput(t *testing.T) {
	jq := &JQTransform{Timeout: DefaultTimeout, MaxInputSize: 4}
	_, err := jq.Execute(context.Background(), map[string]any{
		"expression": ".",
		"input": map[string]any{"foo": "a string well over four bytes"},
	})
	if err == nil {
		t.Fatal("expected an input-size error")
	}
}

func TestValidateRejectsBadExpression(t *testing.T) {
	if err := Validate(".["); err == nil {
		t.Fatal("expected a parse error")
	}
	if err := Validate(".foo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(""); err != nil {
		t.Fatalf("unexpected error for empty expression: %v", err)
	}
}

func TestRegistryExposesJQTool(t *testing.T) {
	reg := Registry()
	tool, ok := reg.Get("jq")
	if !ok {
		t.Fatal("expected a registered \"jq\" tool")
	}
	got, err := tool(context.Background(), map[string]any{"expression": ".foo", "input": map[string]any{"foo": "bar"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "bar" {
		t.Errorf("got %v, want bar", got)
	}
}
