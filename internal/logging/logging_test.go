package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestASCII(t *testing.T) {
	cases := map[string]string{
		"plain text":            "plain text",
		"Educación y Salud":     "Educacion y Salud",
		"Año, México, Querétaro": "Ano, Mexico, Queretaro",
		"snow ☃ man":            "snow ? man",
		"tab\tand\nnewline":     "tab\tand\nnewline",
	}
	for in, want := range cases {
		assert.Equal(t, want, ASCII(in), "input %q", in)
	}
}

func TestNew_ConsoleOutputIsASCII(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Console: &buf})
	require.NoError(t, err)
	defer l.Close()

	l.Info("Iniciando ejecución", slog.String("script", "importación.py"), slog.Any("error", errors.New("falló")))

	out := buf.String()
	assert.Contains(t, out, "Iniciando ejecucion")
	assert.Contains(t, out, "importacion.py")
	assert.Contains(t, out, "fallo")
	for _, r := range out {
		require.LessOrEqual(t, r, rune(127), "non-ASCII rune in %q", out)
	}
	assert.NotContains(t, out, "time=")
}

func TestNew_WritesFileLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	l, err := New(Options{Console: &console, Dir: dir, Level: slog.LevelWarn})
	require.NoError(t, err)

	l.Debug("only in file")
	l.Warn("in both")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "only in file")
	assert.Contains(t, string(data), "in both")
	assert.True(t, strings.Contains(console.String(), "in both"))
	assert.False(t, strings.Contains(console.String(), "only in file"))
}

func TestLoggerWithAttrs_ConvertsToASCII(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Console: &buf})
	require.NoError(t, err)

	l.With(slog.String("fase", "descarga-ñ")).Info("ok")
	assert.Contains(t, buf.String(), "descarga-n")
}
