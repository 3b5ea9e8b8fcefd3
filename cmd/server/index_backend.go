package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gemrunners.ai/internal/persistence/indexdb"
	"gemrunners.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.EventLogger
	Close() error
}

// openRuntimeIndex picks the read-model backend from GR_INDEX_BACKEND
// (sqlite by default, d1, or none). It returns the sqlite path when that
// backend is in use so the server can serve queries from it.
func openRuntimeIndex(dataDir, runID string, tickEvery uint64, disableDB bool, logger *log.Logger) (runtimeIndex, string, error) {
	if disableDB {
		return nil, "", nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GR_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, "", nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "runs.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath, runID, tickEvery)
		if err != nil {
			return nil, "", err
		}
		return idx, dbPath, nil
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("GR_INDEX_D1_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("GR_INDEX_D1_TOKEN"))
		if endpoint == "" {
			return nil, "", fmt.Errorf("GR_INDEX_BACKEND=d1 but GR_INDEX_D1_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         token,
			RunID:         runID,
			TickEvery:     tickEvery,
			BatchSize:     envInt("GR_INDEX_D1_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("GR_INDEX_D1_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, "", err
		}
		return idx, "", nil
	default:
		return nil, "", fmt.Errorf("unsupported GR_INDEX_BACKEND: %s", backend)
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
