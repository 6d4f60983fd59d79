package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
	"github.com/Aman-CERP/searchidx/internal/pipeline"
)

func TestStageLabel(t *testing.T) {
	tests := []struct {
		stage pipeline.Stage
		want  string
	}{
		{pipeline.StagePending, "WAIT"},
		{pipeline.StageFetching, "FETCH"},
		{pipeline.StageExtracting, "EXTRACT"},
		{pipeline.StageChunking, "CHUNK"},
		{pipeline.StageEmbedding, "EMBED"},
		{pipeline.StageIndexing, "INDEX"},
		{pipeline.StageDone, "DONE"},
		{pipeline.StageFailed, "FAIL"},
		{pipeline.Stage("bogus"), "???"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, StageLabel(tt.stage))
		})
	}
}

func TestNewConfig_WithOptions(t *testing.T) {
	// Given: options for plain output, no color and an interrupt hook
	called := false
	buf := &bytes.Buffer{}

	// When: building the config
	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true), WithInterrupt(func() { called = true }))

	// Then: every option is applied
	assert.Same(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	require.NotNil(t, cfg.Interrupt)
	cfg.Interrupt()
	assert.True(t, called)
}

func TestNewRenderer_NonTTY_ReturnsPlainRenderer(t *testing.T) {
	// Given: a buffer, which is never a terminal
	cfg := NewConfig(&bytes.Buffer{})

	// When: creating a renderer
	r := NewRenderer(cfg)

	// Then: the plain renderer is chosen
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestForMode(t *testing.T) {
	buf := &bytes.Buffer{}

	tests := []struct {
		mode      string
		wantNil   bool
		wantPlain bool
		wantErr   bool
	}{
		{mode: "", wantNil: true},
		{mode: ModeAuto, wantNil: true},
		{mode: ModeNone, wantNil: true},
		{mode: ModePlain, wantPlain: true},
		{mode: ModeTUI, wantErr: true},
		{mode: "fancy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			r, err := ForMode(tt.mode, NewConfig(buf))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, serrors.ErrCodeInvalidInput, serrors.GetCode(err))
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, r)
				return
			}
			_, ok := r.(*PlainRenderer)
			assert.Equal(t, tt.wantPlain, ok)
		})
	}
}

func TestRenderer_InterfaceCompliance(t *testing.T) {
	var _ Renderer = (*PlainRenderer)(nil)
	var _ Renderer = (*TUIRenderer)(nil)
	var _ pipeline.Observer = Renderer(nil)
}

func TestDetectCI_WithEnv(t *testing.T) {
	// Given: CI environment variable is set
	t.Setenv("CI", "true")

	// Then: CI is detected
	assert.True(t, DetectCI())
}

func TestDetectCI_WithoutEnv(t *testing.T) {
	// Given: no CI variables
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		t.Setenv(v, "")
		unsetEnv(t, v)
	}

	// Then: CI is not detected
	assert.False(t, DetectCI())
}

// unsetEnv removes v for the rest of the test. t.Setenv restores it after.
func unsetEnv(t *testing.T, v string) {
	t.Helper()
	require.NoError(t, os.Unsetenv(v))
}
