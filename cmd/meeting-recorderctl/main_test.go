// SPDX-License-Identifier: MIT

package main

import (
	"testing"

	"github.com/eyeduck-ai/meeting-recorder/internal/config"
)

func TestOpenStoreMemoryBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = "memory"

	st, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer st.close()
	if st.jobs == nil || st.schedules == nil || st.meetings == nil || st.detectionLogs == nil {
		t.Fatal("openStore() returned a nil port for the in-memory backend")
	}
}

func TestOpenStoreSQLiteBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()

	st, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer st.close()
	if st.jobs == nil || st.schedules == nil || st.meetings == nil || st.detectionLogs == nil {
		t.Fatal("openStore() returned a nil port for the sqlite backend")
	}
}
