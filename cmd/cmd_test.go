package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/stream"
	"github.com/andresmejia3/rollcall/internal/types"
)

func changedSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestApplyRunFlags(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		changed []string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name:    "Valid overrides",
			opts:    Options{Source: "dir:frames", Threshold: 0.3, Debounce: 2 * time.Second, EveryNth: 3, Mode: "every-match"},
			changed: []string{"source", "threshold", "debounce", "every-nth", "mode"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "dir:frames", cfg.Stream.Source)
				assert.Equal(t, 0.3, cfg.Thresholds.Distance)
				assert.Equal(t, 2*time.Second, cfg.Stream.Debounce)
				assert.Equal(t, 3, cfg.Stream.EveryNth)
				assert.Equal(t, "every-match", cfg.Attendance.Mode)
			},
		},
		{
			name: "Unset flags keep config values",
			opts: Options{Threshold: 0.9, EveryNth: 0},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 0.5, cfg.Thresholds.Distance)
				assert.Equal(t, 1, cfg.Stream.EveryNth)
			},
		},
		{
			name:    "Zero threshold",
			opts:    Options{Threshold: 0},
			changed: []string{"threshold"},
			wantErr: true,
		},
		{
			name:    "Invalid every-nth",
			opts:    Options{EveryNth: 0},
			changed: []string{"every-nth"},
			wantErr: true,
		},
		{
			name:    "Unknown mode",
			opts:    Options{Mode: "sometimes"},
			changed: []string{"mode"},
			wantErr: true,
		},
		{
			name:    "Negative debounce",
			opts:    Options{Debounce: -time.Second},
			changed: []string{"debounce"},
			wantErr: true,
		},
		{
			name:    "Negative duration",
			opts:    Options{Duration: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			err := applyRunFlags(cfg, tt.opts, changedSet(tt.changed...))
			if (err != nil) != tt.wantErr {
				t.Errorf("applyRunFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestResolveDBURL(t *testing.T) {
	cfg := config.Default()

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv("POSTGRES_HOST", "")
		assert.Equal(t, "", resolveDBURL("", cfg))
	})

	t.Run("flag wins", func(t *testing.T) {
		c := config.Default()
		c.Attendance.DatabaseURL = "postgres://config"
		assert.Equal(t, "postgres://flag", resolveDBURL("postgres://flag", c))
		assert.Equal(t, "postgres://config", resolveDBURL("", c))
	})

	t.Run("built from environment", func(t *testing.T) {
		t.Setenv("POSTGRES_HOST", "db")
		t.Setenv("POSTGRES_USER", "user")
		t.Setenv("POSTGRES_PASSWORD", "pw")
		t.Setenv("POSTGRES_DB", "rollcall")
		t.Setenv("POSTGRES_PORT", "")
		assert.Equal(t, "postgres://user:pw@db:5432/rollcall", resolveDBURL("", cfg))
	})
}

func TestVisitFilter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	f, err := visitFilter("alice", 24*time.Hour, 10, now)
	require.NoError(t, err)
	assert.Equal(t, store.VisitFilter{Identity: "alice", Since: now.Add(-24 * time.Hour), Limit: 10}, f)

	f, err = visitFilter("", 0, 0, now)
	require.NoError(t, err)
	assert.True(t, f.Since.IsZero())

	_, err = visitFilter("", -time.Hour, 0, now)
	assert.Error(t, err)
	_, err = visitFilter("", 0, -1, now)
	assert.Error(t, err)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Drop?")
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Drop? [y/N]: ", out.String())
	}
}

func testGallery(t *testing.T) *gallery.Gallery {
	t.Helper()
	g, err := gallery.Build([]gallery.Record{
		{Identity: "alice", Embedding: types.Embedding{0.2, 0.4}},
		{Identity: "bob", Embedding: types.Embedding{0.9, 0.3}},
	}, gallery.Options{Dim: 2})
	require.NoError(t, err)
	return g
}

func TestPrintIdentities(t *testing.T) {
	m := match.New(testGallery(t), 0.5)
	faces := []types.Face{
		{Region: types.Region{Left: 1, Top: 2, Right: 3, Bottom: 4}, Embedding: types.Embedding{0.2, 0.4}},
		{Region: types.Region{Left: 5, Top: 6, Right: 7, Bottom: 8}, Embedding: types.Embedding{5, 5}},
	}

	var out bytes.Buffer
	require.NoError(t, printIdentities(&out, faces, m, 2))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// header, rule, face 1 + 2 candidates, face 2 + 2 candidates
	require.Len(t, lines, 8)
	assert.Contains(t, lines[2], "✅ alice")
	assert.Contains(t, lines[2], "0.0000")
	assert.Contains(t, lines[3], "#1")
	assert.Contains(t, lines[4], "bob")
	assert.Contains(t, lines[5], "❌ unknown")
}

func TestPrintIdentities_NoFaces(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printIdentities(&out, nil, match.New(testGallery(t), 0.5), 1))
	assert.Contains(t, out.String(), "No faces detected")
}

func TestPrintIdentities_DimensionMismatch(t *testing.T) {
	var out bytes.Buffer
	faces := []types.Face{{Embedding: types.Embedding{1, 2, 3}}}
	err := printIdentities(&out, faces, match.New(testGallery(t), 0.5), 1)
	assert.ErrorIs(t, err, gallery.ErrDimensionMismatch)
}

func TestRunGalleryValidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, gallery.WriteEmbeddingFile(filepath.Join(dir, "alice.npy"), []float32{0.2, 0.4}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bob.json"), []byte("[0.9, 0.3]"), 0o644))

	cfg := config.Default()
	cfg.Enrollment.Dir = dir
	cfg.Enrollment.Dim = 2

	var out bytes.Buffer
	require.NoError(t, runGalleryValidate(context.Background(), cfg, &out))
	assert.Equal(t, "✅ Gallery OK: 2 identities, 2-d embeddings\n", out.String())

	out.Reset()
	require.NoError(t, runGalleryList(context.Background(), cfg, &out))
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "2 identities")

	// A second record for alice makes the gallery invalid.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), []byte("[0.1, 0.1]"), 0o644))
	out.Reset()
	err := runGalleryValidate(context.Background(), cfg, &out)
	assert.ErrorIs(t, err, gallery.ErrDuplicateIdentity)
	assert.True(t, strings.HasPrefix(out.String(), "❌ "))
}

type fakeEnroller struct {
	got    []string
	failOn string
}

func (f *fakeEnroller) Enroll(_ context.Context, identity string, _ types.Embedding) error {
	if identity == f.failOn {
		return errors.New("insert failed")
	}
	f.got = append(f.got, identity)
	return nil
}

func TestPushRecords(t *testing.T) {
	records := []gallery.Record{
		{Identity: "alice", Embedding: types.Embedding{1}},
		{Identity: "bob", Embedding: types.Embedding{2}},
		{Identity: "carol", Embedding: types.Embedding{3}},
	}

	e := &fakeEnroller{}
	ticks := 0
	n, err := pushRecords(context.Background(), e, records, func() { ticks++ })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, ticks)
	assert.Equal(t, []string{"alice", "bob", "carol"}, e.got)

	e = &fakeEnroller{failOn: "bob"}
	n, err = pushRecords(context.Background(), e, records, func() {})
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = pushRecords(ctx, &fakeEnroller{}, records, func() {})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, stream.Stats{Frames: 10, Processed: 5, WithFace: 4, Matched: 3, Recorded: 1})
	assert.Equal(t, "📊 10 frames read, 5 processed, 4 with a face, 3 matched, 1 recorded\n", out.String())

	out.Reset()
	printSummary(&out, stream.Stats{RecordErrs: 2})
	assert.Contains(t, out.String(), ", 2 failed")
}

func TestPrintVisits(t *testing.T) {
	var out bytes.Buffer
	printVisits(&out, nil)
	assert.Equal(t, "No attendance recorded.\n", out.String())

	out.Reset()
	session := uuid.MustParse("8d0c9a0c-8f8e-4a55-9a53-111111111111")
	printVisits(&out, []store.Visit{{Session: session, Identity: "alice", SeenAt: time.Now(), Distance: 0.25}})
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "0.75")
	assert.Contains(t, out.String(), "8d0c9a0c")
}
