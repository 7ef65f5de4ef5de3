package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	eval := NewStarlarkEvaluator(0)

	script := `
_private = 1
def double(x):
    return x * 2

port = double(base)
names = ["a", "b"]
point = struct(x=1, y=2.5)
pair = (1, "two")
print("ignored")
`
	res, err := eval.Evaluate(context.Background(), "test.star", script, map[string]interface{}{"base": 4040})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if res.Output["port"] != 8080 {
		t.Errorf("port = %#v, want 8080", res.Output["port"])
	}
	if _, ok := res.Output["_private"]; ok {
		t.Error("private globals should not be exported")
	}
	if _, ok := res.Output["double"]; ok {
		t.Error("functions should not be exported")
	}
	point := res.Output["point"].(map[string]interface{})
	if point["x"] != 1 || point["y"] != 2.5 {
		t.Errorf("point = %v", point)
	}
	if pair := res.Output["pair"].([]interface{}); len(pair) != 2 || pair[1] != "two" {
		t.Errorf("pair = %v", pair)
	}
	if res.Steps == 0 {
		t.Error("Steps should be counted")
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	eval := NewStarlarkEvaluator(50 * time.Millisecond)

	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

result = spin()
`
	_, err := eval.Evaluate(context.Background(), "spin.star", script, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestStarlarkEvaluator_MaxSteps(t *testing.T) {
	eval := NewStarlarkEvaluator(time.Minute).WithMaxSteps(1000)

	script := `
def spin():
    for i in range(100000):
        pass

spin()
`
	if _, err := eval.Evaluate(context.Background(), "steps.star", script, nil); err == nil {
		t.Error("expected step limit error")
	}
}

func TestStarlarkEvaluator_UnsupportedInput(t *testing.T) {
	eval := NewStarlarkEvaluator(0)
	_, err := eval.Evaluate(context.Background(), "x.star", "", map[string]interface{}{"ch": make(chan int)})
	if err == nil {
		t.Error("expected conversion error")
	}
}
