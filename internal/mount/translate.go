// Package mount translates host:guest[:mode] mount specs into directory
// shares and guest-side home-path symlink scripts, per spec.md §4.8. Ported
// from the rewrite_mount_spec/render_home_links_script algorithm of the
// reference implementation, re-expressed in Go.
package mount

import (
	"fmt"
	"strings"
)

// Mode is the access mode of a directory share.
type Mode int

const (
	ReadWrite Mode = iota
	ReadOnly
)

func (m Mode) String() string {
	if m == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

// Share is one host directory to be exported to the guest.
type Share struct {
	HostPath  string
	GuestPath string
	Mode      Mode
}

// HomeLink records a guest path that must be symlinked to a staged share
// directory at login time, because virtio-fs cannot write under a home
// directory whose ownership is established by guest provisioning.
type HomeLink struct {
	Source string // e.g. /usr/local/vibebox-mounts/<rel>
	Target string // e.g. /home/<user>/<rel>
}

const mountsRoot = "/usr/local/vibebox-mounts"

// Translate parses raw mount specs and rewrites any guest path that
// resolves under the ssh user's home directory. homeDir is the host's HOME,
// used to expand leading "~" in host paths.
func Translate(specs []string, sshUser, homeDir string) ([]Share, []HomeLink, error) {
	shares := make([]Share, 0, len(specs))
	var links []HomeLink

	for _, spec := range specs {
		host, guest, mode, err := parseSpec(spec, homeDir)
		if err != nil {
			return nil, nil, err
		}

		rel, isHome := homeRelative(guest, sshUser)
		if !isHome {
			shares = append(shares, Share{HostPath: host, GuestPath: guest, Mode: mode})
			continue
		}

		rootPath := mountsRoot
		target := "/home/" + sshUser
		if rel != "" {
			rootPath = mountsRoot + "/" + rel
			target = "/home/" + sshUser + "/" + rel
		}

		shares = append(shares, Share{HostPath: host, GuestPath: rootPath, Mode: mode})
		links = append(links, HomeLink{Source: rootPath, Target: target})
	}

	return shares, links, nil
}

// EnsureProjectMount appends an auto-mount of the project directory at
// ~/<projectName> unless the caller already supplied an equivalent mapping,
// per spec.md §4.8 ("auto-mounted ... unless the user supplied an
// equivalent mapping, guest is any of ~/<project>, /home/<ssh_user>/<project>,
// or /usr/local/vibebox-mounts/<project>").
func EnsureProjectMount(specs []string, hostProjectRoot, projectName, sshUser string) []string {
	equivalents := []string{
		"~/" + projectName,
		"/home/" + sshUser + "/" + projectName,
		mountsRoot + "/" + projectName,
	}
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 {
			continue
		}
		for _, eq := range equivalents {
			if parts[1] == eq {
				return specs
			}
		}
	}
	return append(specs, fmt.Sprintf("%s:~/%s", hostProjectRoot, projectName))
}

func parseSpec(spec, homeDir string) (host, guest string, mode Mode, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", 0, fmt.Errorf("invalid mount spec %q: expected host:guest[:mode]", spec)
	}

	host = expandHome(parts[0], homeDir)
	guest = parts[1]
	if host == "" {
		return "", "", 0, fmt.Errorf("invalid mount spec %q: empty host path", spec)
	}
	if guest == "" {
		return "", "", 0, fmt.Errorf("invalid mount spec %q: empty guest path", spec)
	}

	mode = ReadWrite
	if len(parts) == 3 {
		switch parts[2] {
		case "read-write":
			mode = ReadWrite
		case "read-only":
			mode = ReadOnly
		default:
			return "", "", 0, fmt.Errorf("invalid mount spec %q: unknown mode %q", spec, parts[2])
		}
	}

	return host, guest, mode, nil
}

func expandHome(path, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return homeDir + "/" + rest
	}
	return path
}

// homeRelative reports whether guest resolves under /home/<sshUser> (or the
// shorthand "~"/"~/..."), returning the path relative to that home.
func homeRelative(guest, sshUser string) (rel string, isHome bool) {
	homePrefix := "/home/" + sshUser

	switch {
	case guest == "~":
		return "", true
	case strings.HasPrefix(guest, "~/"):
		return strings.TrimPrefix(guest, "~/"), true
	case guest == homePrefix:
		return "", true
	case strings.HasPrefix(guest, homePrefix+"/"):
		return strings.TrimPrefix(guest, homePrefix+"/"), true
	default:
		return "", false
	}
}
