package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-gate/internal/config"
)

func TestDevCertGenerator_GeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"admin.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "admin.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	second, err := gen.GenerateCert([]string{"admin.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestDevCertGenerator_ReplacesExpired(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.now = func() time.Time { return time.Now().Add(2 * devCertValidity) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestTLSManager_SelfSignedOnlyInDevelopment(t *testing.T) {
	cfg := &config.Config{Environment: "production"}
	cfg.Server.AutoCertDir = t.TempDir()

	_, err := NewTLSManager(cfg).GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	assert.ErrorIs(t, err, ErrNoCertificate)

	cfg.Environment = "development"
	m := NewTLSManager(cfg)
	a, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	b, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestTLSManager_HTTPHandlerWithoutAutoCert(t *testing.T) {
	cfg := &config.Config{Environment: "development"}
	fallback := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	NewTLSManager(cfg).HTTPHandler(fallback).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
