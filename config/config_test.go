package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestReadHostConfig(t *testing.T) {
	path := writeTemp(t, `{"root": "/srv/share", "host_name": "attic", "max_connections": 5}`)
	c, err := ReadHostConfig(path)
	if err != nil {
		t.Fatalf("ReadHostConfig: %v", err)
	}
	if c.Root != "/srv/share" || c.HostName != "attic" || c.MaxConnections != 5 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestReadHostConfigRequiresRoot(t *testing.T) {
	path := writeTemp(t, `{"host_name": "attic"}`)
	if _, err := ReadHostConfig(path); err == nil {
		t.Fatal("expected an error for a config missing root")
	}
}

func TestReadHostConfigRejectsMalformedJSON(t *testing.T) {
	path := writeTemp(t, `not json`)
	if _, err := ReadHostConfig(path); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestReadMountConfig(t *testing.T) {
	path := writeTemp(t, `{"join_code": "ABC123", "mount_point": "/mnt/wormhole"}`)
	c, err := ReadMountConfig(path)
	if err != nil {
		t.Fatalf("ReadMountConfig: %v", err)
	}
	if c.JoinCode != "ABC123" || c.MountPoint != "/mnt/wormhole" {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestReadMountConfigRequiresJoinCode(t *testing.T) {
	path := writeTemp(t, `{"mount_point": "/mnt/wormhole"}`)
	if _, err := ReadMountConfig(path); err == nil {
		t.Fatal("expected an error for a config missing join_code")
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	if DefaultHostConfigPath() == "" {
		t.Fatal("DefaultHostConfigPath should not be empty")
	}
	if DefaultMountConfigPath() == "" {
		t.Fatal("DefaultMountConfigPath should not be empty")
	}
}
