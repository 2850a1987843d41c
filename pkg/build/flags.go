// SPDX-License-Identifier: MIT
//
// Package build exposes the version metadata linked into the binary with
// -ldflags, for example:
//
//	go build -ldflags "-X spectro/pkg/build.buildVersion=v0.3.0 -X spectro/pkg/build.buildCommit=$(git rev-parse --short HEAD)"
//
// Development builds carry none of it and report "unknown".
package build

import (
	"errors"
	"fmt"
)

// DefaultName is used when the binary was built without a name flag.
const DefaultName = "spectro"

// Description is the one-line summary shown in help output.
const Description = "Real-time audio spectrogram with retuneable framing, export and live streaming"

// Unknown marks a field the build did not set.
const Unknown = "unknown"

// ErrIncomplete is returned by Initialize when some ldflags are missing.
var ErrIncomplete = errors.New("build info incomplete")

// Info describes one build.
type Info struct {
	Name    string
	Version string
	Commit  string
	Time    string
}

// Set by -ldflags -X.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var current = Info{Name: DefaultName, Version: Unknown, Commit: Unknown, Time: Unknown}

// Initialize copies every linked value into the build info. Fields that
// were not linked keep their defaults and are listed in the returned error,
// which wraps ErrIncomplete.
func Initialize() error {
	var missing []string
	apply := func(flag string, value string, dst *string) {
		if value == "" {
			missing = append(missing, flag)
			return
		}
		*dst = value
	}
	apply("name", buildName, &current.Name)
	apply("version", buildVersion, &current.Version)
	apply("commit", buildCommit, &current.Commit)
	apply("time", buildTime, &current.Time)

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrIncomplete, missing)
	}
	return nil
}

// Get returns a copy of the current build info.
func Get() Info {
	return current
}

// AppName returns the linked name, or DefaultName.
func (i Info) AppName() string {
	if i.Name == "" || i.Name == Unknown {
		return DefaultName
	}
	return i.Name
}

// Dev reports whether this is an unversioned development build.
func (i Info) Dev() bool {
	return i.Version == "" || i.Version == Unknown
}

// String formats the info for the version command.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.AppName(), i.Version, i.Commit, i.Time)
}
