package store

import (
	"strings"
	"testing"
)

// The credential statements run only against a live database, so pin the
// health guards in the SQL itself.

func TestSelectCredentialGuardsErrorThreshold(t *testing.T) {
	if !strings.Contains(selectCredentialSQL, "consecutive_errors < $2") {
		t.Fatal("selection must exclude credentials at the error threshold")
	}
	if !strings.Contains(selectCredentialSQL, "is_active") {
		t.Fatal("selection must exclude deactivated credentials")
	}
}

func TestApplySuccessStampsLastUsed(t *testing.T) {
	if !strings.Contains(applySuccessSQL, "last_used_at = now()") {
		t.Fatal("success must refresh last_used_at")
	}
	if !strings.Contains(applySuccessSQL, "consecutive_errors = 0") {
		t.Fatal("success must reset the error run")
	}
}
