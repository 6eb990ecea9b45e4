package errs

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusFollowsWrappedSentinel(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("ark: %w", ErrMissingCredential), http.StatusPreconditionRequired},
		{fmt.Errorf("decode: %w", ErrSchemaViolation), http.StatusBadGateway},
		{fmt.Errorf("timeout: %w", ErrUpstream), http.StatusBadGateway},
		{ErrConcurrentCall, http.StatusConflict},
		{fmt.Errorf("intent: %w", ErrPrecondition), http.StatusPreconditionFailed},
		{fmt.Errorf("session abc: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestGuardOnlyCoversGuardConditions(t *testing.T) {
	if !Guard(fmt.Errorf("send: %w", ErrConcurrentCall)) {
		t.Fatal("expected concurrent call to be a guard condition")
	}
	if !Guard(ErrPrecondition) {
		t.Fatal("expected precondition to be a guard condition")
	}
	if Guard(ErrUpstream) {
		t.Fatal("upstream failure must not be treated as a guard")
	}
	if Kind(nil) != "" {
		t.Fatal("nil error should have empty kind")
	}
}
