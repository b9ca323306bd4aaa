package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func raftConfig() ServerConfig {
	return ServerConfig{
		Backend:            BackendRaft,
		ShardID:            7,
		RTTMillisecond:     100,
		SnapshotEntries:    1000,
		CompactionOverhead: 500,
		DataDir:            "/tmp/scoll",
		ReplicaID:          2,
		ClusterMembers:     map[uint64]string{1: "localhost:63001", 2: "localhost:63002"},
		TimeoutSecond:      5,
		Endpoint:           "0.0.0.0:8080",
		LogLevel:           "info",
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"local", BackendLocal, false},
		{"RAFT", BackendRaft, false},
		{"dstore", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug": logger.DEBUG,
		"INFO":  logger.INFO,
		"warn":  logger.WARNING,
		"error": logger.ERROR,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("ParseLogLevel(verbose) should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *ServerConfig)
		wantErr string
	}{
		{"valid raft", func(c *ServerConfig) {}, ""},
		{"valid local without raft settings", func(c *ServerConfig) {
			c.Backend = BackendLocal
			c.DataDir = ""
			c.ClusterMembers = nil
		}, ""},
		{"missing endpoint", func(c *ServerConfig) { c.Endpoint = "" }, "endpoint"},
		{"zero timeout", func(c *ServerConfig) { c.TimeoutSecond = 0 }, "timeout"},
		{"bad log level", func(c *ServerConfig) { c.LogLevel = "loud" }, "log level"},
		{"missing data dir", func(c *ServerConfig) { c.DataDir = "" }, "data dir"},
		{"replica not a member", func(c *ServerConfig) { c.ReplicaID = 3 }, "not a cluster member"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := raftConfig()
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExpandDataDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	c := raftConfig()
	c.DataDir = "~/scoll/../scoll/data"
	if err := c.ExpandDataDir(); err != nil {
		t.Fatalf("ExpandDataDir() error = %v", err)
	}
	if want := filepath.Join(home, "scoll", "data"); c.DataDir != want {
		t.Errorf("DataDir = %q, want %q", c.DataDir, want)
	}
}

func TestDragonboatConfig(t *testing.T) {
	c := raftConfig()

	rc := c.ToDragonboatConfig()
	if rc.ShardID != 7 || rc.ReplicaID != 2 {
		t.Errorf("unexpected ids: shard %d, replica %d", rc.ShardID, rc.ReplicaID)
	}
	if rc.ElectionRTT != electionRTTFactor || rc.HeartbeatRTT != heartbeatRTTFactor || !rc.CheckQuorum {
		t.Errorf("unexpected timing: %+v", rc)
	}
	if err := rc.Validate(); err != nil {
		t.Errorf("raft config is invalid: %v", err)
	}

	nhc := c.ToNodeHostConfig()
	if nhc.RaftAddress != "localhost:63002" || nhc.NodeHostDir != "/tmp/scoll" || nhc.RTTMillisecond != 100 {
		t.Errorf("unexpected node host config: %+v", nhc)
	}
}

func TestConfigString(t *testing.T) {
	c := raftConfig()
	s := c.String()
	for _, want := range []string{"HTTP SERVER", "RAFT PARAMETERS", "Node 1: localhost:63001", "Node 2: localhost:63002"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() is missing %q:\n%s", want, s)
		}
	}

	c.Backend = BackendLocal
	if strings.Contains(c.String(), "RAFT PARAMETERS") {
		t.Errorf("local config must not print raft parameters")
	}
}
