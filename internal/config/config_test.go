package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/logx"
)

const minimalYAML = `
groups:
  - name: main
    main:
      uin: "10001"
      endpoint: /tmp/qzone.sock
`

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DB.Driver != "sqlite" {
		t.Errorf("DB.Driver = %q, want sqlite", cfg.DB.Driver)
	}
	if cfg.DB.Path != "./cache/OQQWall.db" {
		t.Errorf("DB.Path = %q, want ./cache/OQQWall.db", cfg.DB.Path)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("Dispatch.MaxAttempts = %d, want 3", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.SendTimeout != 30*time.Second {
		t.Errorf("Dispatch.SendTimeout = %v, want 30s", cfg.Dispatch.SendTimeout)
	}
	if cfg.Transport.Mode != "socket" {
		t.Errorf("Transport.Mode = %q, want socket", cfg.Transport.Mode)
	}
	g := cfg.Groups[0]
	if g.MaxPostStack != 1 {
		t.Errorf("MaxPostStack = %d, want 1", g.MaxPostStack)
	}
	if g.MaxImagesPerPost != 30 {
		t.Errorf("MaxImagesPerPost = %d, want 30", g.MaxImagesPerPost)
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	cfg, err := Parse([]byte("db:\n  driver: mysql\n" + minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DB.Host != "127.0.0.1" || cfg.DB.Port != 3306 || cfg.DB.Database != "oqqwall" {
		t.Errorf("mysql defaults = %+v", cfg.DB)
	}
}

func TestGroup_ResolvesOverrides(t *testing.T) {
	cfg, err := Load("testdata/valid_full.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meth, ok := cfg.Group("MethGroup")
	if !ok {
		t.Fatal("MethGroup not found")
	}
	if meth.MaxPostStack != 3 || meth.MaxImagesPerPost != 9 {
		t.Errorf("MethGroup thresholds = %d/%d, want 3/9", meth.MaxPostStack, meth.MaxImagesPerPost)
	}
	if !meth.AtUnprivSender {
		t.Error("MethGroup should inherit at_unpriv_sender=true")
	}
	if meth.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", meth.MaxAttempts)
	}

	backup, ok := cfg.Group("Backup")
	if !ok {
		t.Fatal("Backup not found")
	}
	if backup.AtUnprivSender {
		t.Error("Backup override at_unpriv_sender=false was ignored")
	}

	if _, ok := cfg.Group("nope"); ok {
		t.Error("unknown group should not resolve")
	}
}

func TestAccountGroupConfig_Identity(t *testing.T) {
	cfg, err := Load("testdata/valid_full.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, _ := cfg.Group("MethGroup")

	if id := g.Identity("10002"); id.Endpoint != "/tmp/qzone-10002.sock" {
		t.Errorf("minor identity endpoint = %q", id.Endpoint)
	}
	if id := g.Identity(""); id.UIN != "10001" {
		t.Errorf("empty uin resolved to %q, want main", id.UIN)
	}
	if id := g.Identity("99999"); id.UIN != "10001" {
		t.Errorf("unknown uin resolved to %q, want main", id.UIN)
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	yaml := `
db:
  driver: postgres
transport:
  mode: command
groups:
  - name: "bad name"
    max_post_stack: -1
  - name: dup
    main: {uin: "1", endpoint: /a}
  - name: dup
    main: {uin: "2", endpoint: /b}
    flush_schedule: "not a cron"
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{
		`db.driver "postgres"`,
		"transport.helper must contain {endpoint}",
		"may only contain letters",
		"groups[0].main.uin is required",
		"groups[0].max_post_stack must be >= 1",
		`groups[2].name "dup" is duplicated`,
		"groups[2].flush_schedule",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}

func TestParse_NoGroups(t *testing.T) {
	_, err := Parse([]byte("dispatch:\n  max_attempts: 2\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "at least one group is required") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte(":::invalid"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse:") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse:")
	}
}

func TestLoad_InvalidYAMLFixture(t *testing.T) {
	if _, err := Load("testdata/invalid_yaml.yaml"); err == nil {
		t.Fatal("expected error for invalid fixture")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/oqqwall.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oqqwall.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OQQWALL_DB_PATH", filepath.Join(dir, "override.db"))
	t.Setenv("OQQWALL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DB.Path != filepath.Join(dir, "override.db") {
		t.Errorf("DB.Path = %q, want env override", cfg.DB.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestNextFlush(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	if d := NextFlush("0 * * * *", now); d != 30*time.Minute {
		t.Errorf("NextFlush = %v, want 30m", d)
	}
	if d := NextFlush("garbage", now); d != 0 {
		t.Errorf("NextFlush(garbage) = %v, want 0", d)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oqqwall.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		got  *Config
		done = make(chan struct{}, 1)
	)
	go Watch(ctx, path, logx.Nop(), func(c *Config) {
		mu.Lock()
		got = c
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(minimalYAML, "name: main", "name: renamed", 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	mu.Lock()
	defer mu.Unlock()
	if got.Groups[0].Name != "renamed" {
		t.Errorf("reloaded group = %q, want renamed", got.Groups[0].Name)
	}
}
