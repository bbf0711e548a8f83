package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"keyredeem/internal/config"
	"keyredeem/internal/keys"
	"keyredeem/internal/ownership"
	"keyredeem/internal/runner"
	"keyredeem/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	store      *fakeStore
	registrar  *fakeRegistrar
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	for _, name := range []string{"HUMBLE_SESSION", "STEAM_LOGIN_SECURE", "STEAM_SESSION_ID", "STEAM_API_KEY", "KEYREDEEM_NTFY_TOPIC"} {
		t.Setenv(name, "")
	}
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		store:      &fakeStore{alive: true},
		registrar:  &fakeRegistrar{},
	}
}

func (e *cliTestEnv) deps(*config.Config, *slog.Logger) (runner.Deps, error) {
	return runner.Deps{
		Connect:   func(context.Context) (runner.Storefront, error) { return e.store, nil },
		Registrar: e.registrar,
	}, nil
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(withDeps(env.deps))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
ledger_dir = %q
cache_dir = %q
log_dir = %q

[humble]
session_cookie = %q

[steam]
login_secure = %q
session_id = %q
`,
		cfg.Paths.LedgerDir,
		cfg.Paths.CacheDir,
		cfg.Paths.LogDir,
		cfg.Humble.SessionCookie,
		cfg.Steam.LoginSecure,
		cfg.Steam.SessionID,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

type fakeStore struct {
	orders []keys.RawOrder
	values map[string]string
	alive  bool
}

func (s *fakeStore) FetchInventory(context.Context) ([]keys.RawOrder, error) { return s.orders, nil }
func (s *fakeStore) Reveal(_ context.Context, rec *keys.Record) (string, error) {
	return s.values[rec.HumanName], nil
}
func (s *fakeStore) KeepAlive(context.Context) error { return nil }
func (s *fakeStore) Alive(context.Context) bool      { return s.alive }
func (s *fakeStore) Close() error                    { return nil }

type fakeRegistrar struct {
	codes   map[string]keys.ResultCode
	redeems []string
}

func (r *fakeRegistrar) Redeem(_ context.Context, value string, _ bool) (keys.ResultCode, error) {
	r.redeems = append(r.redeems, value)
	if code, ok := r.codes[value]; ok {
		return code, nil
	}
	return keys.CodeSuccess, nil
}

func (r *fakeRegistrar) OwnedApps(context.Context) (ownership.Catalog, error) {
	return ownership.Catalog{}, nil
}
