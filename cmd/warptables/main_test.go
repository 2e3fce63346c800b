package main

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/husbylabs/warptables/internal/config"
	"github.com/husbylabs/warptables/internal/core"
	"github.com/husbylabs/warptables/internal/store/sqlite"
	transporthttp "github.com/husbylabs/warptables/internal/transport/http"
)

func TestTableCommand(t *testing.T) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	server := transporthttp.NewServer(core.NewHub(st, nil), config.Default().Server, nil)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--log-level", "off",
		"--url", strings.Replace(ts.URL, "http", "ws", 1) + "/ws",
		"table", "metrics", "config", "metrics",
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := "0\tmetrics\n1\tconfig\n0\tmetrics\n"
	if out.String() != want {
		t.Fatalf("unexpected output %q, want %q", out.String(), want)
	}
}

func TestRootRejectsBadURL(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--log-level", "off",
		"--url", "http://localhost:1",
		"table", "metrics",
	})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected invalid url error")
	}
}
