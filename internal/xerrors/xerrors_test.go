package xerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFromHTTPStatusCategories(t *testing.T) {
	cases := map[int]Category{
		400: Irrecoverable,
		403: Irrecoverable,
		404: Irrecoverable,
		408: Recoverable,
		429: Recoverable,
		500: Recoverable,
		503: Recoverable,
	}
	for status, want := range cases {
		ce := FromHTTPStatus(status, "op")
		if ce.Category != want {
			t.Fatalf("status %d classified %s, want %s", status, ce.Category, want)
		}
		if ce.StatusCode != status {
			t.Fatalf("StatusCode = %d", ce.StatusCode)
		}
	}
}

func TestIsIrrecoverableUnwrapsChain(t *testing.T) {
	base := FromHTTPStatus(400, "write")
	wrapped := fmt.Errorf("outer: %w", base)
	if !IsIrrecoverable(wrapped) {
		t.Fatal("wrapped irrecoverable not detected")
	}
	if IsIrrecoverable(FromHTTPStatus(500, "write")) {
		t.Fatal("5xx marked irrecoverable")
	}
	if IsIrrecoverable(errors.New("plain")) {
		t.Fatal("unclassified error marked irrecoverable")
	}
}

func TestNetworkIsRecoverable(t *testing.T) {
	ce := Network("dial", errors.New("connection refused"))
	if ce.Category != Recoverable {
		t.Fatalf("category = %s", ce.Category)
	}
	if IsIrrecoverable(ce) {
		t.Fatal("network error marked irrecoverable")
	}
}

func TestErrorStringCarriesStatus(t *testing.T) {
	ce := FromHTTPStatus(404, "get doc")
	if got := ce.Error(); got != "[irrecoverable] HTTP 404: get doc: HTTP 404" {
		t.Fatalf("Error() = %q", got)
	}
}
