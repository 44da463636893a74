package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildInfo(settings ...string) *debug.BuildInfo {
	bi := &debug.BuildInfo{}
	for i := 0; i+1 < len(settings); i += 2 {
		bi.Settings = append(bi.Settings, debug.BuildSetting{Key: settings[i], Value: settings[i+1]})
	}
	return bi
}

func TestResolveReleaseBuildIgnoresVCS(t *testing.T) {
	t.Parallel()

	info := resolve("1.4.0", "abcdef0123456789", "2026-01-02", buildInfo("vcs.revision", "ffffffffffff", "vcs.modified", "true"))
	require.True(t, info.Release)
	require.Equal(t, "abcdef0123456789", info.Commit)
	require.Equal(t, "2026-01-02", info.Date)
	require.Equal(t, "1.4.0", info.String())
}

func TestResolveDevelopmentBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings []string
		want     string
	}{
		{
			name:     "clean tree",
			settings: []string{"vcs.revision", "0123456789abcdef", "vcs.time", "2026-03-04T05:06:07Z", "vcs.modified", "false"},
			want:     "1.0.0-dev+0123456",
		},
		{
			name:     "dirty tree",
			settings: []string{"vcs.revision", "0123456789abcdef", "vcs.modified", "true"},
			want:     "1.0.0-dev+0123456.dirty",
		},
		{
			name:     "short revision",
			settings: []string{"vcs.revision", "abc"},
			want:     "1.0.0-dev+abc",
		},
		{
			name: "no vcs stamp",
			want: "1.0.0",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := resolve("1.0.0", "", "", buildInfo(tt.settings...))
			require.False(t, info.Release)
			require.Equal(t, tt.want, info.String())
		})
	}
}

func TestResolveRecordsVCSTime(t *testing.T) {
	t.Parallel()

	info := resolve("1.0.0", "", "", buildInfo("vcs.revision", "0123456789", "vcs.time", "2026-03-04T05:06:07Z"))
	require.Equal(t, "2026-03-04T05:06:07Z", info.Date)
	require.Equal(t, "0123456789", info.Commit)
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.0.0", resolve("1.0.0", "", "", nil).String())
	require.Equal(t, "0.0.0", resolve("", "", "", nil).String())
}

func TestResolveIsStable(t *testing.T) {
	t.Parallel()

	require.Equal(t, Resolve(), Resolve())
	require.NotEmpty(t, Get().Version)
}
