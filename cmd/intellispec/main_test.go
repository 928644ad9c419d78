package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK6170/Intellispec-go/models"
)

func TestMakeUIURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:8080", "http://127.0.0.1:8080/"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000/"},
		{":8080", "http://127.0.0.1:8080/"},
		{"[::]:8080", "http://127.0.0.1:8080/"},
		{"localhost", "http://localhost/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, makeUIURL(tt.addr), tt.addr)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intellispec.yaml")

	cmd := NewCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "wrote "+path)
	_, err := os.Stat(path)
	require.NoError(t, err)

	t.Setenv("INTELLISPEC_SERIAL_PORT", "COM5")
	cmd = NewCommand()
	out.Reset()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "port: COM5")
	assert.Contains(t, out.String(), "measure_window: 7s")
}

func TestConfigInitKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intellispec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  port: COM1\n"), 0o644))

	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, cmd.Execute())
}

func TestPrintPorts(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, printPorts(out, nil, ""))
	assert.Contains(t, out.String(), "No serial ports found.")

	out.Reset()
	ports := []models.PortInfo{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
		{Name: "/dev/ttyS0"},
	}
	require.NoError(t, printPorts(out, ports, "/dev/ttyS0"))
	text := out.String()
	assert.Contains(t, text, "PORT")
	assert.Contains(t, text, "2341:0043")
	assert.Contains(t, text, "Arduino Uno")
	assert.Contains(t, text, "/dev/ttyS0*")
}
