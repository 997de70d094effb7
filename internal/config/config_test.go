package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvComfyURL, EnvListen, EnvMQTTURL, EnvLogLevel, EnvTLSCert, EnvTLSKey, EnvMQTTPassword, EnvMQTTPassword + "_FILE"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const yamlConfig = `version: 1
comfy_url: http://gpu-box:8188
listen: ":9090"
request_timeout: 45s
workflows:
  - name: txt2img
    path: workflows/txt2img.json
  - name: upscale
    path: /srv/workflows/upscale.json
sliders:
  KSampler.cfg:
    min: 1
    max: 20
    step: 0.5
  denoise:
    min: 0
    max: 1
mqtt:
  url: tcp://broker:1883
  topic_prefix: studio
log:
  level: debug
  file: /var/log/simplui.log
`

const tomlConfig = `version = 1
comfy_url = "http://gpu-box:8188"

[[workflows]]
name = "txt2img"
path = "workflows/txt2img.json"

[sliders."KSampler.cfg"]
min = 1.0
max = 20.0
step = 0.5

[postgres]
enabled = true
`

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvMQTTPassword, "hunter2")
	dir := t.TempDir()
	path := writeFile(t, dir, "simplui.yaml", yamlConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ComfyURL != "http://gpu-box:8188" {
		t.Errorf("ComfyURL = %q", cfg.ComfyURL)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if cfg.MQTT.TopicPrefix != "studio" || !cfg.MQTT.Enabled() {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.MQTT.Password != "hunter2" {
		t.Errorf("MQTT password not resolved from env")
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/var/log/simplui.log" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	sliders := cfg.Sliders()
	if r := sliders["KSampler.cfg"]; r.Min != 1 || r.Max != 20 || r.Step != 0.5 {
		t.Errorf("KSampler.cfg slider = %+v", r)
	}
	if r := sliders["denoise"]; r.Min != 0 || r.Max != 1 {
		t.Errorf("denoise slider = %+v", r)
	}

	if names := cfg.WorkflowNames(); len(names) != 2 || names[0] != "txt2img" || names[1] != "upscale" {
		t.Errorf("WorkflowNames = %v", names)
	}
	w, ok := cfg.Workflow("txt2img")
	if !ok {
		t.Fatal("txt2img not found")
	}
	absDir, _ := filepath.Abs(dir)
	if want := filepath.Join(absDir, "workflows", "txt2img.json"); w.Path != want {
		t.Errorf("relative path = %q, want %q", w.Path, want)
	}
	if w, _ := cfg.Workflow("upscale"); w.Path != "/srv/workflows/upscale.json" {
		t.Errorf("absolute path = %q", w.Path)
	}
	if _, ok := cfg.Workflow("missing"); ok {
		t.Error("unexpected workflow")
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "simplui.toml", tomlConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ComfyURL != "http://gpu-box:8188" {
		t.Errorf("ComfyURL = %q", cfg.ComfyURL)
	}
	if !cfg.Postgres.Enabled {
		t.Error("postgres should be enabled")
	}
	if r := cfg.Sliders()["KSampler.cfg"]; r.Max != 20 || r.Step != 0.5 {
		t.Errorf("slider = %+v", r)
	}
	if cfg.Listen != defaultListen || cfg.RequestTimeout != defaultRequestTimeout {
		t.Errorf("defaults not applied: listen=%q timeout=%s", cfg.Listen, cfg.RequestTimeout)
	}
	if cfg.MQTT.Enabled() {
		t.Error("mqtt should be disabled")
	}
}

func TestLoad_LegacyJSON(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "config.json",
		`{"comfy_url": "http://localhost:8188", "workflows": [{"name": "default", "path": "default.json"}]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if len(cfg.Workflows) != 1 || cfg.Workflows[0].Name != "default" {
		t.Errorf("Workflows = %+v", cfg.Workflows)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvComfyURL, "http://override:8188")
	t.Setenv(EnvListen, ":7000")
	t.Setenv(EnvMQTTURL, "tcp://other:1883")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvTLSCert, "/etc/simplui/cert.pem")
	t.Setenv(EnvTLSKey, "/etc/simplui/key.pem")
	path := writeFile(t, t.TempDir(), "simplui.yaml", yamlConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ComfyURL != "http://override:8188" || cfg.Listen != ":7000" ||
		cfg.MQTT.URL != "tcp://other:1883" || cfg.Log.Level != "warn" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.TLS.CertFile != "/etc/simplui/cert.pem" || cfg.TLS.KeyFile != "/etc/simplui/key.pem" {
		t.Errorf("TLS = %+v", cfg.TLS)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name, file, content string
	}{
		{"unsupported version", "a.yaml", "version: 2\n"},
		{"missing version", "b.yaml", "comfy_url: http://x\n"},
		{"unknown extension", "c.ini", "version=1\n"},
		{"bad yaml", "d.yaml", "version: [1\n"},
		{"bad timeout", "e.yaml", "version: 1\nrequest_timeout: soon\n"},
		{"workflow without path", "f.yaml", "version: 1\nworkflows:\n  - name: x\n"},
		{"duplicate workflow", "g.yaml", "version: 1\nworkflows:\n  - {name: x, path: a.json}\n  - {name: x, path: b.json}\n"},
		{"inverted slider", "h.yaml", "version: 1\nsliders:\n  cfg: {min: 5, max: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoadWorkflow(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "wf.json", `{"1": {"class_type": "EmptyLatentImage", "inputs": {"width": 512, "height": 512}}}`)
	path := writeFile(t, dir, "simplui.yaml", "version: 1\nworkflows:\n  - name: wf\n    path: wf.json\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g, err := cfg.LoadWorkflow("wf")
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if g["1"] == nil || g["1"].ClassType != "EmptyLatentImage" {
		t.Errorf("unexpected graph: %v", g)
	}
	if _, err := cfg.LoadWorkflow("nope"); err == nil {
		t.Error("expected error for unknown workflow")
	}
}

func TestDefaultAndFromEnv(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	if cfg.ComfyURL != defaultComfyURL || cfg.Listen != defaultListen || cfg.Log.Level != "info" {
		t.Errorf("Default = %+v", cfg)
	}
	if cfg.Sliders() != nil {
		t.Error("no sliders expected")
	}

	t.Setenv(EnvComfyURL, "http://env:8188")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ComfyURL != "http://env:8188" {
		t.Errorf("ComfyURL = %q", cfg.ComfyURL)
	}
}
