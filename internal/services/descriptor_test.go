package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() Descriptor {
	return Descriptor{
		Name:            "frontend",
		Command:         []string{"npx", "vite", "--port", "3000", "--strictPort"},
		Env:             map[string]string{"PORT": "3000", "API_URL": "http://127.0.0.1:5003"},
		Port:            3000,
		HealthURL:       "http://127.0.0.1:3000/",
		StartupTimeout:  time.Minute,
		ShutdownTimeout: 5 * time.Second,
		MaxPortAttempts: 5,
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
		valid  bool
	}{
		{"valid", func(*Descriptor) {}, true},
		{"no name", func(d *Descriptor) { d.Name = "" }, false},
		{"no command", func(d *Descriptor) { d.Command = nil }, false},
		{"port zero", func(d *Descriptor) { d.Port = 0 }, false},
		{"port too large", func(d *Descriptor) { d.Port = 70000 }, false},
		{"no startup timeout", func(d *Descriptor) { d.StartupTimeout = 0 }, false},
		{"no shutdown timeout", func(d *Descriptor) { d.ShutdownTimeout = 0 }, false},
		{"no attempts", func(d *Descriptor) { d.MaxPortAttempts = 0 }, false},
		{"relative health URL", func(d *Descriptor) { d.HealthURL = "/health" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidDescriptor), "got %v", err)
			}
		})
	}
}

func TestDescriptor_WithPort(t *testing.T) {
	d := validDescriptor()

	bound := d.WithPort(3002)
	assert.Equal(t, 3002, bound.Port)
	assert.Equal(t, []string{"npx", "vite", "--port", "3002", "--strictPort"}, bound.Command)
	assert.Equal(t, "http://127.0.0.1:3002/", bound.HealthURL)
	assert.Equal(t, "3002", bound.Env["PORT"])
	assert.Equal(t, "http://127.0.0.1:5003", bound.Env["API_URL"], "unrelated ports untouched")

	// The original is unchanged.
	assert.Equal(t, "3000", d.Command[3])
	assert.Equal(t, "3000", d.Env["PORT"])
}

func TestDescriptor_WithPortRewritesEmbeddedTokens(t *testing.T) {
	d := validDescriptor()
	d.Command = []string{"python", "-m", "uvicorn", "--port=3000", "--bind", "127.0.0.1:3000"}
	d.HealthURL = "http://localhost:3000/api/health?port=3000"

	bound := d.WithPort(3004)
	assert.Equal(t, []string{"python", "-m", "uvicorn", "--port=3004", "--bind", "127.0.0.1:3004"}, bound.Command)
	assert.Equal(t, "http://localhost:3004/api/health?port=3000", bound.HealthURL)
}

func TestDescriptor_EnvList(t *testing.T) {
	d := validDescriptor()
	assert.Equal(t, []string{"API_URL=http://127.0.0.1:5003", "PORT=3000"}, d.envList())
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
	}{
		{"200", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }, true},
		{"204", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }, true},
		{"redirect to 404", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" {
				http.Redirect(w, r, "/missing", http.StatusFound)
				return
			}
			http.NotFound(w, r)
		}, false},
		{"500", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, false},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			assert.Equal(t, tt.want, HealthCheck(context.Background(), server.URL+"/", 200*time.Millisecond))
		})
	}
}

func TestHealthCheck_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.False(t, HealthCheck(context.Background(), url, time.Second))
	assert.False(t, HealthCheck(context.Background(), "://bad", time.Second))
}

func TestStatusStates(t *testing.T) {
	require.Equal(t, ServiceState("Running"), StateRunning)
	require.Equal(t, HealthStatus("Healthy"), HealthHealthy)
}
