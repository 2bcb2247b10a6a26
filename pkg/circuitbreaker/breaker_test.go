package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 2
	cfg.MinRequests = 100
	cfg.Timeout = time.Hour
	return cfg
}

func TestExecutePassesThroughResults(t *testing.T) {
	cb, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if cb.IsOpen() {
		t.Error("breaker opened on success")
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("new breaker: %v", err)
	}

	ctx := context.Background()
	boom := errors.New("broker down")

	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(ctx, func() (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: got %v, want %v", i, err, boom)
		}
	}

	if !cb.IsOpen() {
		t.Fatal("breaker still closed after hitting the failure threshold")
	}

	called := false
	_, err = cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if err == nil {
		t.Fatal("open breaker allowed a request")
	}
	if called {
		t.Error("open breaker invoked the wrapped function")
	}
}
