package tool

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/assetlink/types"
)

func TestNormalizeHost(t *testing.T) {
	tests := map[string]string{
		"example.com":        "example.com:3000",
		"example.com:8080":   "example.com:8080",
		"ws://10.0.0.5/":     "10.0.0.5:3000",
		"[::1]":              "[::1]:3000",
		"  localhost:3001  ": "localhost:3001",
	}
	for in, want := range tests {
		got, err := NormalizeHost(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeHost("  ")
	assert.Error(t, err)
}

func TestBuildURLs(t *testing.T) {
	u, err := BuildUploadURL("assets.local", false, "linux", "pkg v1.bin", "p&w")
	require.NoError(t, err)
	assert.Equal(t, "ws://assets.local:3000/upload?name=pkg+v1.bin&platform=linux&pw=p%26w", u)

	u, err = BuildDownloadURL("assets.local:443", true, "linux", "pkg.bin")
	require.NoError(t, err)
	assert.Equal(t, "wss://assets.local:443/download?name=pkg.bin&platform=linux", u)
}

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.True(t, PathExists(path))

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8080\nidleTimeout: 30s\nassetsDir: /srv/assets\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "/srv/assets", cfg.AssetsDir)
	assert.Equal(t, "upload_pw.txt", cfg.PasswordFile)
	assert.Equal(t, 30*1024*1024, cfg.ChunkSize)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocol: ftp\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("port: [\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := DefaultConfig()
	ApplyFlagOverrides(&cfg, types.Config{UsePort: 9000, UseAssetsDir: "x", UseHttps: true, ChunkSize: 1024})
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "x", cfg.AssetsDir)
	assert.Equal(t, "https", cfg.Protocol)
	assert.Equal(t, 1024, cfg.ChunkSize)
}

func TestSetFlags(t *testing.T) {
	var out bytes.Buffer
	cfg, err := SetFlags([]string{"upload", "-serverAddr", "host", "-platform", "linux", "-uploadFile", "a.bin"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "upload", cfg.Action)
	assert.Equal(t, "host", cfg.ServerAddr)
	assert.Equal(t, "linux", cfg.Platform)
	assert.Equal(t, "a.bin", cfg.UploadFile)
	assert.Equal(t, 4, cfg.ProbeCount)

	_, err = SetFlags(nil, &out)
	assert.Error(t, err)
	_, err = SetFlags([]string{"dance"}, &out)
	assert.Error(t, err)
	_, err = SetFlags([]string{"serve", "-nope"}, &out)
	assert.Error(t, err)
}

func TestRequireFlags(t *testing.T) {
	assert.NoError(t, RequireFlags("a", "1", "b", "2"))
	assert.EqualError(t, RequireFlags("a", "1", "pwFile", ""), "missing arg -pwFile")
}

func TestReadSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pw")
	require.NoError(t, os.WriteFile(path, []byte("\tsecret \n"), 0o600))
	secret, err := ReadSecretFile(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", secret)

	_, err = ReadSecretFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	sum, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func TestTLSCertificateRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	_, fp, generated, err := GetOrCreateTLSCertificate(&cfg)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Len(t, fp, 64)
	require.NotEmpty(t, cfg.CertPEM)

	_, fp2, generated, err := GetOrCreateTLSCertificate(&cfg)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, fp, fp2)
}
