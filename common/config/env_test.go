package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv_Defaults(t *testing.T) {
	if got := GetEnvString("TWIN_TEST_UNSET_STRING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := GetEnvInt("TWIN_TEST_UNSET_INT", 7); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if got := GetEnvDuration("TWIN_TEST_UNSET_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected 1m, got %s", got)
	}
}

func TestGetEnv_Parsed(t *testing.T) {
	t.Setenv("TWIN_TEST_INT", "42")
	t.Setenv("TWIN_TEST_BAD_INT", "forty-two")
	t.Setenv("TWIN_TEST_DUR", "90s")
	t.Setenv("TWIN_TEST_BOOL", "true")
	t.Setenv("TWIN_TEST_FLOAT", "0.5")
	t.Setenv("TWIN_TEST_LIST", " a, ,b ,c")

	if got := GetEnvInt("TWIN_TEST_INT", 0); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := GetEnvInt("TWIN_TEST_BAD_INT", 3); got != 3 {
		t.Errorf("expected fallback 3 on parse error, got %d", got)
	}
	if got := GetEnvDuration("TWIN_TEST_DUR", 0); got != 90*time.Second {
		t.Errorf("expected 90s, got %s", got)
	}
	if !GetEnvBool("TWIN_TEST_BOOL", false) {
		t.Error("expected true")
	}
	if got := GetEnvFloat("TWIN_TEST_FLOAT", 1); got != 0.5 {
		t.Errorf("expected 0.5, got %f", got)
	}
	list := GetEnvList("TWIN_TEST_LIST", nil)
	if len(list) != 3 || list[0] != "a" || list[2] != "c" {
		t.Errorf("unexpected list %v", list)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TWIN_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("TWIN_TEST_DOTENV") })

	LoadDotEnv(filepath.Join(dir, "missing.env"), path)

	if got := os.Getenv("TWIN_TEST_DOTENV"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
}
