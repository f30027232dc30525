package container

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-spot-counter/internal/config"
	"go-spot-counter/internal/pipeline"

	"github.com/gin-gonic/gin"
)

func TestNewContainer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		RequestTimeout:     time.Second,
		AnalysisTimeout:    time.Second,
		MaxRequestBodySize: 1 << 20,
		Workers:            1,
		RunHistorySize:     5,
		Defaults:           pipeline.DefaultParameters(),
		ArchiveBackend:     config.ArchiveLocal,
		ArchiveDir:         t.TempDir(),
	}

	c, err := NewContainer(cfg)
	if err != nil {
		t.Fatalf("Failed to build container: %v", err)
	}
	defer c.Close()

	if c.Config() != cfg {
		t.Error("Expected container to keep the config")
	}
	if c.Service().PoolStats().Workers != 1 {
		t.Errorf("Expected 1 worker, got %d", c.Service().PoolStats().Workers)
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from health, got %d", w.Code)
	}
}

func TestNewContainer_Errors(t *testing.T) {
	if _, err := NewContainer(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewContainer(&config.Config{ArchiveBackend: "ftp"}); err == nil {
		t.Error("Expected error for unknown archive backend")
	}
}
