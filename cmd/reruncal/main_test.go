package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/friendsincode/rerun_calendar/internal/auth"
	"github.com/friendsincode/rerun_calendar/internal/validation"
)

const weekly = `
name: weekly
start: 2024-03-04T20:00:00Z
interval: 1d
intervals: 3
allow_reruns_after: 1d
values: [A, B, C]
`

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weekly.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlanTable(t *testing.T) {
	path := writePlan(t, weekly)
	out, err := execute(t, "plan", "-f", path, "--format", "table", "--check=false", "--start", "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, v := range []string{"A", "B", "C", "digest "} {
		if !strings.Contains(out, v) {
			t.Fatalf("output missing %q:\n%s", v, out)
		}
	}
}

func TestPlanJSON(t *testing.T) {
	path := writePlan(t, weekly)
	out, err := execute(t, "plan", "-f", path, "--format", "json", "--check=false", "--start", "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var got planOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if got.Name != "weekly" || len(got.Slots) != 3 {
		t.Fatalf("got name=%q slots=%d", got.Name, len(got.Slots))
	}
	if len(got.Digest) != 64 {
		t.Fatalf("digest = %q", got.Digest)
	}
	seen := map[string]bool{}
	for _, s := range got.Slots {
		if seen[s.Value] {
			t.Fatalf("value %s repeated inside the rerun window", s.Value)
		}
		seen[s.Value] = true
	}
}

func TestPlanICal(t *testing.T) {
	path := writePlan(t, weekly)
	out, err := execute(t, "plan", "-f", path, "--format", "ical", "--check=false", "--start", "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.HasPrefix(out, "BEGIN:VCALENDAR") {
		t.Fatalf("not an iCal feed:\n%s", out)
	}
	if n := strings.Count(out, "BEGIN:VEVENT"); n != 3 {
		t.Fatalf("events = %d, want 3", n)
	}
}

func TestPlanStartOverride(t *testing.T) {
	path := writePlan(t, weekly)
	out, err := execute(t, "plan", "-f", path, "--format", "json", "--check=false", "--start", "2025-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var got planOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.StartsAt.Year() != 2025 {
		t.Fatalf("starts_at = %v", got.StartsAt)
	}
}

func TestPlanRejectsUnknownFormat(t *testing.T) {
	path := writePlan(t, weekly)
	if _, err := execute(t, "plan", "-f", path, "--format", "xml", "--check=false", "--start", ""); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestPlanUnsatisfiable(t *testing.T) {
	// Two values cannot fill three daily slots when reruns wait five days.
	plan := strings.Replace(weekly, "[A, B, C]", "[A, B]", 1)
	plan = strings.Replace(plan, "allow_reruns_after: 1d", "allow_reruns_after: 5d", 1)
	path := writePlan(t, plan)
	if _, err := execute(t, "plan", "-f", path, "--format", "table", "--check=false", "--start", ""); err == nil {
		t.Fatal("expected error for unsatisfiable plan")
	}
}

func TestValidate(t *testing.T) {
	path := writePlan(t, weekly)
	out, err := execute(t, "validate", "-f", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	var report validation.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if !report.Valid {
		t.Fatalf("report = %+v, want valid", report)
	}
}

func TestToken(t *testing.T) {
	secret := "test-secret-with-enough-bytes-0123456789"
	t.Setenv("RERUN_JWT_SIGNING_KEY", secret)
	t.Setenv("RERUN_ENV", "test")

	out, err := execute(t, "token", "--user", "ci", "--role", "viewer", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.Parse([]byte(secret), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "ci" || !claims.HasRole(auth.RoleViewer) || claims.HasRole(auth.RoleEditor) {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	t.Setenv("RERUN_JWT_SIGNING_KEY", "test-secret-with-enough-bytes-0123456789")
	t.Setenv("RERUN_ENV", "test")
	if _, err := execute(t, "token", "--user", "ci", "--role", "admin", "--ttl", "1h"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
