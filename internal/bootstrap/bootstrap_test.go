package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-builder/internal/config"
	"github.com/maauso/audiobook-builder/internal/container"
	"github.com/maauso/audiobook-builder/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TempDir:             t.TempDir(),
		OutputDir:           t.TempDir(),
		MaxChunkLength:      400,
		ChapterPauseSeconds: 1.5,
		InterUnitSilenceMs:  250,
		OutputFormat:        "mp3",
		AudioQuality:        "standard",
		MaxWorkers:          3,
		RetryAttempts:       2,
		RetryDelay:          10 * time.Millisecond,
		SampleRate:          16000,
		DefaultLanguage:     "es",
		NormalizeText:       true,
		FFmpegPath:          "ffmpeg",
		SynthEngine:         "exec",
		SynthCommand:        "piper --model {voice} --output_file -",
		SynthTimeout:        time.Minute,
		NATSSubject:         "audiobook.events",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipelineConfig(t *testing.T) {
	cfg := testConfig(t)

	pc := PipelineConfig(cfg)

	assert.Equal(t, 400, pc.MaxChunkLength)
	assert.Equal(t, 3, pc.MaxWorkers)
	assert.Equal(t, 2, pc.RetryAttempts)
	assert.Equal(t, 10*time.Millisecond, pc.RetryDelay)
	assert.Equal(t, 16000, pc.SampleRate)
	assert.Equal(t, 1500*time.Millisecond, pc.ChapterPause)
	assert.Equal(t, 250*time.Millisecond, pc.InterUnitSilence)
	assert.True(t, pc.NormalizeText)
	assert.Equal(t, "es", pc.DefaultLanguage)
	assert.Equal(t, container.FormatMP3, pc.Format)
	assert.Equal(t, container.QualityStandard, pc.Quality)
}

func TestNewDependencies_Local(t *testing.T) {
	cfg := testConfig(t)

	deps, err := NewDependencies(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NotNil(t, deps.Orchestrator)
	require.NotNil(t, deps.AudiobookService)
	assert.False(t, deps.S3Enabled)
	assert.IsType(t, &storage.LocalStorage{}, deps.Storage)
	assert.Equal(t, 3, deps.Orchestrator.Config().MaxWorkers)
}

func TestNewPipeline_HTTPEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.SynthEngine = "http"
	cfg.SynthURL = "http://tts.local:5002"
	cfg.SynthAPIKey = "key"

	p, err := NewPipeline(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestNewPipeline_Errors(t *testing.T) {
	t.Run("empty command", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SynthCommand = "   "

		_, err := NewPipeline(context.Background(), cfg, quietLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exec synthesizer")
	})

	t.Run("http engine without url", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SynthEngine = "http"

		_, err := NewPipeline(context.Background(), cfg, quietLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP synthesizer")
	})

	t.Run("missing voice profiles", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.VoiceProfilesFile = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := NewPipeline(context.Background(), cfg, quietLogger())
		require.Error(t, err)
	})

	t.Run("unreachable nats", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.NATSURL = "nats://127.0.0.1:1"

		_, err := NewPipeline(context.Background(), cfg, quietLogger())
		require.Error(t, err)
	})
}

func TestNewPipeline_VoiceProfiles(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "voices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("es:\n  voice: es_ES-davefx-medium\n"), 0o600))
	cfg.VoiceProfilesFile = path

	p, err := NewPipeline(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestNewPipeline_NATSClosedOnClose(t *testing.T) {
	opts := test.DefaultTestOptions
	opts.Port = -1
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	cfg := testConfig(t)
	cfg.NATSURL = srv.ClientURL()

	p, err := NewPipeline(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.Len(t, p.closers, 1)

	require.Eventually(t, func() bool { return srv.NumClients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close())
	assert.Eventually(t, func() bool { return srv.NumClients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
