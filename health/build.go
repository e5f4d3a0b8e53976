package health

import (
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/joho/godotenv"
)

type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
}

var buildInfoPaths = []string{"build.info", "/app/build.info"}

// CurrentBuild merges module VCS metadata, a KEY=VALUE build.info file and
// BUILD_* environment variables, later sources winning.
func CurrentBuild() BuildInfo {
	info := BuildInfo{
		Version:   "dev",
		GitCommit: "unknown",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.GitCommit = setting.Value
			case "vcs.time":
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					info.BuildTime = t
				}
			}
		}
	}

	for _, path := range buildInfoPaths {
		values, err := godotenv.Read(path)
		if err != nil {
			continue
		}
		info.apply(values["VERSION"], values["GIT_COMMIT"], values["BUILD_TIME"])
		break
	}

	info.apply(os.Getenv("BUILD_VERSION"), os.Getenv("BUILD_COMMIT"), os.Getenv("BUILD_TIME"))

	return info
}

func (b *BuildInfo) apply(version, commit, buildTime string) {
	if version != "" {
		b.Version = version
	}
	if commit != "" {
		b.GitCommit = commit
	}
	if buildTime != "" {
		if t, err := time.Parse(time.RFC3339, buildTime); err == nil {
			b.BuildTime = t
		}
	}
}

// Short renders version-commit, commit trimmed to seven characters.
func (b BuildInfo) Short() string {
	commit := b.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return b.Version + "-" + commit
}
