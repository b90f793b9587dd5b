package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadAPIConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "api_config.toml")
	writeFile(t, p, `
[general]
host = "0.0.0.0"
port = 9090
log_level = "debug"

[store]
driver = "sqlite"
dsn = "keys.db"

[[servers]]
name = "survival"
path = "/srv/survival"
autostart = true

[[servers]]
name = "creative"
path = "/srv/creative"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.General.Host != "0.0.0.0" || c.General.Port != 9090 {
		t.Fatalf("unexpected general: %+v", c.General)
	}
	if len(c.Servers) != 2 || !c.Servers[0].Autostart || c.Servers[1].Autostart {
		t.Fatalf("unexpected servers: %+v", c.Servers)
	}
	if _, ok := c.Server("creative"); !ok {
		t.Fatalf("expected to find creative")
	}
	if _, ok := c.Server("missing"); ok {
		t.Fatalf("did not expect to find missing")
	}
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "api_config.toml")
	writeFile(t, p, "[general]\n")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.General.Host != "127.0.0.1" || c.General.Port != 8000 {
		t.Fatalf("defaults not applied: %+v", c.General)
	}
	if c.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", c.Store.Driver)
	}
}

func TestLoadAPIConfigRejectsUnnamedServer(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "api_config.toml")
	writeFile(t, p, "[[servers]]\npath = \"/srv/x\"\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unnamed server")
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "api_config.toml")
	writeFile(t, p, "[general]\nport = 8000\n")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	writeFile(t, p, "[general]\nport = 8001\n")
	if err := c.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.General.Port != 8001 {
		t.Fatalf("expected reloaded port 8001, got %d", c.General.Port)
	}
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), `
[minecraft]
java_path = "/usr/bin/java"
jvm_args = ["-Xmx4G", "-Xms1G"]
server_jar = "paper-*.jar"
command_timeout = "5s"

[minecraft.restarts]
auto_restart = true
restart_interval = 6.0
alert_intervals = [600, 60, 10]
`)
	sc, err := LoadServer(dir)
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	mc := sc.Minecraft
	if mc.JavaPath != "/usr/bin/java" || len(mc.JVMArgs) != 2 || mc.ServerJar != "paper-*.jar" {
		t.Fatalf("unexpected minecraft config: %+v", mc)
	}
	if mc.CommandTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", mc.CommandTimeout)
	}
	if !mc.Restarts.AutoRestart || mc.Restarts.RestartDelay() != 6*time.Hour {
		t.Fatalf("unexpected restart policy: %+v", mc.Restarts)
	}
	offs := mc.Restarts.AlertOffsets()
	if len(offs) != 3 || offs[0] != 10*time.Minute || offs[2] != 10*time.Second {
		t.Fatalf("unexpected alert offsets: %v", offs)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	if _, err := LoadServer(t.TempDir()); err == nil {
		t.Fatalf("expected error when config.toml is absent")
	}
}

func TestLoadServerConfigDefaultPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), "[minecraft]\nserver_jar = \"server.jar\"\n")
	sc, err := LoadServer(dir)
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	cp := sc.Minecraft.Console
	if cp.PlayerConnected == "" || cp.PlayerDisconnected == "" || cp.PlayerChat == "" {
		t.Fatalf("default console patterns missing: %+v", cp)
	}
	if sc.Minecraft.CommandTimeout != DefaultCommandTimeout {
		t.Fatalf("expected default timeout, got %v", sc.Minecraft.CommandTimeout)
	}
}
