package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{E(CodeInvalidArgument, "op", "text is required", nil), http.StatusBadRequest},
		{E(CodeNotFound, "op", "missing", nil), http.StatusNotFound},
		{E(CodeConfiguration, "op", "no key", nil), http.StatusInternalServerError},
		{E(CodeProvider, "op", "boom", errors.New("upstream")), http.StatusInternalServerError},
		{E(CodeTTSInsufficientPermits, "op", "plan", nil), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWrappedCodeAndTried(t *testing.T) {
	base := &Error{Code: CodeTTSFailed, Op: "tts.Synthesize", Message: "synthesis failed", Tried: []string{"a", "b"}}
	wrapped := fmt.Errorf("turn: %w", base)

	if !IsCode(wrapped, CodeTTSFailed) {
		t.Fatalf("IsCode(wrapped) = false")
	}
	if got := TriedOf(wrapped); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("TriedOf = %v", got)
	}
	if CodeOf(errors.New("x")) != CodeInternal {
		t.Fatalf("CodeOf(plain) should be internal")
	}
}

func TestPublicMessageHidesProviderDetail(t *testing.T) {
	err := E(CodeProvider, "llm.Generate", "gemini said: quota project 123", errors.New("rpc"))
	if got := PublicMessage(err); got != "internal error" {
		t.Fatalf("PublicMessage = %q, want generic", got)
	}
	cfgErr := E(CodeConfiguration, "llm.Generate", "GEMINI_API_KEY is not set", nil)
	if got := PublicMessage(cfgErr); got != "GEMINI_API_KEY is not set" {
		t.Fatalf("PublicMessage = %q", got)
	}
}
