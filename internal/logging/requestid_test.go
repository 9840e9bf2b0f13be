package logging

import (
	"context"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("id length = %d, want 8", len(id))
	}
	if id == GenerateRequestID() {
		t.Errorf("two calls produced the same id %q", id)
	}
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("bare context id = %q, want empty", got)
	}

	ctx := WithRequestID(context.Background(), "abcd1234")
	if got := GetRequestID(ctx); got != "abcd1234" {
		t.Errorf("id = %q, want abcd1234", got)
	}
}
