package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParamPrecedenceCLIOverEnvOverDefault(t *testing.T) {
	r := NewRegistry("t1")
	r.RegisterParam(ParamSpec{Long: "interval-ms", Env: "T_INTERVAL_MS", Default: "100", TakesValue: true})

	os.Setenv("T_INTERVAL_MS", "200")
	defer os.Unsetenv("T_INTERVAL_MS")

	acc, err := r.LoadCLI([]string{"--interval-ms", "50"})
	if err != nil {
		t.Fatal(err)
	}
	v, ok := acc.Get("param.interval-ms")
	if !ok || v != "50" {
		t.Fatalf("expected CLI value 50, got %v", v)
	}
}

func TestParamEnvFallback(t *testing.T) {
	r := NewRegistry("t2")
	r.RegisterParam(ParamSpec{Long: "rate", Env: "T2_RATE", Default: "1", TakesValue: true})

	os.Setenv("T2_RATE", "9")
	defer os.Unsetenv("T2_RATE")

	acc, err := r.LoadCLI([]string{})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := acc.Get("param.rate")
	if v != "9" {
		t.Fatalf("expected env value 9, got %v", v)
	}
}

func TestRequiredParamMissingIsUsageError(t *testing.T) {
	r := NewRegistry("t3")
	r.RegisterParam(ParamSpec{Long: "must", TakesValue: true, Required: true})

	_, err := r.LoadCLI([]string{})
	if err == nil {
		t.Fatal("expected usage error for missing required parameter")
	}
}

func TestBoolFlagNegation(t *testing.T) {
	r := NewRegistry("t4")
	r.RegisterParam(ParamSpec{Long: "do-tag", Default: true, Negatable: true})

	acc, err := r.LoadCLI([]string{"--no-do-tag"})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := acc.Get("param.do-tag")
	if v != false {
		t.Fatalf("expected false after --no-do-tag, got %v", v)
	}
}

func TestPositionalVariadicAndExtraError(t *testing.T) {
	r := NewRegistry("t5")
	r.RegisterPositionals([]PositionalSlot{
		{Name: "main", Required: true},
		{Name: "sides", Variadic: true},
	})

	acc, err := r.LoadCLI([]string{"a.fifo", "b.fifo", "c.fifo"})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := acc.Get("positionals.main")
	if v != "a.fifo" {
		t.Fatalf("expected a.fifo, got %v", v)
	}
	rest, _ := acc.Get("positionals.sides")
	sides := rest.([]string)
	if len(sides) != 2 || sides[0] != "b.fifo" {
		t.Fatalf("expected [b.fifo c.fifo], got %v", sides)
	}

	r2 := NewRegistry("t5b")
	r2.RegisterPositionals([]PositionalSlot{{Name: "only"}})
	if _, err := r2.LoadCLI([]string{"a.fifo", "b.fifo"}); err == nil {
		t.Fatal("expected error for extra positional without a variadic slot")
	}
}

func TestNonTerminalVariadicPanics(t *testing.T) {
	r := NewRegistry("t6")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-terminal variadic slot")
		}
	}()
	r.RegisterPositionals([]PositionalSlot{
		{Name: "a", Variadic: true},
		{Name: "b"},
	})
}

func TestRuntimeOverrideAndImmutable(t *testing.T) {
	r := NewRegistry("t7")
	r.RegisterConfigField(ConfigFieldSpec{Path: "gate.timeout_ms", Default: float64(1000)})
	r.RegisterConfigField(ConfigFieldSpec{Path: "gate.locked", Default: "x", Immutable: true})

	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(path, []byte("gate:\n  timeout_ms: 2000\n  locked: y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	acc, err := r.LoadConfigFile(path, LoadConfigFileOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := acc.OverrideValue("gate.timeout_ms", float64(5000)); err != nil {
		t.Fatal(err)
	}
	v, _ := acc.Get("gate.timeout_ms")
	if v != float64(5000) {
		t.Fatalf("expected override 5000, got %v", v)
	}

	if err := acc.OverrideValue("gate.locked", "z"); err == nil {
		t.Fatal("expected immutable field to reject override")
	}
}

func TestConfigFileEnvIndirection(t *testing.T) {
	r := NewRegistry("t8")
	r.RegisterConfigField(ConfigFieldSpec{Path: "sink.token"})

	os.Setenv("T8_TOKEN", "secret")
	defer os.Unsetenv("T8_TOKEN")

	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(path, []byte("sink:\n  token:\n    $env: T8_TOKEN\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	acc, err := r.LoadConfigFile(path, LoadConfigFileOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := acc.Get("sink.token")
	if v != "secret" {
		t.Fatalf("expected resolved env indirection, got %v", v)
	}
}

func TestConfigTagScopeSelection(t *testing.T) {
	r := NewRegistry("t9")
	r.RegisterConfigField(ConfigFieldSpec{Path: "x"})

	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	content := "prod:\n  x: 1\ndev:\n  x: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	acc, err := r.LoadConfigFile(path, LoadConfigFileOptions{ConfigTag: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := acc.Get("x")
	if v != 2 {
		t.Fatalf("expected scoped value 2, got %v", v)
	}
}
