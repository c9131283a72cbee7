// Package pathmap translates between local drive-letter paths and the
// matching directories on the PBS servers.
//
// A local path Z:\proj\run1 on a drive mapped to host1 corresponds to
// {base}/{user}/proj/run1 on host1.
package pathmap

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ErrNotMapped is returned when a path's drive (or a host) has no mapping
var ErrNotMapped = errors.New("not mapped")

// Translator converts paths in both directions. It is immutable after New.
type Translator struct {
	drives   map[string]string
	byHost   map[string]string
	baseRoot string
	user     string
}

// New builds a Translator. Drive keys are single letters, matched
// case-insensitively; an optional trailing colon is ignored.
func New(mapping map[string]string, baseRoot, user string) (*Translator, error) {
	t := &Translator{
		drives:   make(map[string]string, len(mapping)),
		byHost:   make(map[string]string, len(mapping)),
		baseRoot: strings.TrimSuffix(baseRoot, "/"),
		user:     user,
	}

	// Sorted so the reverse lookup is deterministic when several drives
	// map to one host: the alphabetically first drive wins.
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		drive := strings.ToUpper(strings.TrimSuffix(k, ":"))
		if len(drive) != 1 {
			return nil, fmt.Errorf("invalid drive %q: must be a single letter", k)
		}
		host := mapping[k]
		if host == "" {
			return nil, fmt.Errorf("drive %s: empty hostname", drive)
		}
		t.drives[drive] = host
		if _, ok := t.byHost[host]; !ok {
			t.byHost[host] = drive
		}
	}
	return t, nil
}

// RootToken returns the upper-cased drive letter of a path like "z:\x",
// or "" when the path has no drive prefix
func RootToken(p string) string {
	if len(p) < 2 || p[1] != ':' {
		return ""
	}
	c := p[0]
	if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
		return ""
	}
	return strings.ToUpper(p[:1])
}

// UserRoot is {baseRoot}/{user}, the remote directory that drive roots map to
func (t *Translator) UserRoot() string {
	return t.baseRoot + "/" + t.user
}

// BaseRoot returns the configured remote base directory
func (t *Translator) BaseRoot() string {
	return t.baseRoot
}

// ToRemote maps an absolute local path to its server and remote path
func (t *Translator) ToRemote(localAbs string) (hostname, remotePath string, err error) {
	drive := RootToken(localAbs)
	if drive == "" {
		return "", "", fmt.Errorf("%w: %q has no drive letter", ErrNotMapped, localAbs)
	}
	host, ok := t.drives[drive]
	if !ok {
		return "", "", fmt.Errorf("%w: drive %s:", ErrNotMapped, drive)
	}

	rest := strings.ReplaceAll(localAbs[2:], `\`, "/")
	rest = path.Clean("/" + rest)
	if rest == "/" {
		return host, t.UserRoot(), nil
	}
	return host, t.UserRoot() + rest, nil
}

// ToLocal maps a remote path on hostname back to a local drive path
func (t *Translator) ToLocal(hostname, remotePath string) (string, error) {
	drive, ok := t.byHost[hostname]
	if !ok {
		return "", fmt.Errorf("%w: host %s has no drive", ErrNotMapped, hostname)
	}

	root := t.UserRoot()
	clean := path.Clean(remotePath)
	var rest string
	switch {
	case clean == root:
		rest = ""
	case strings.HasPrefix(clean, root+"/"):
		rest = clean[len(root):]
	default:
		return "", fmt.Errorf("%w: %s is outside %s", ErrNotMapped, remotePath, root)
	}
	return drive + `:\` + strings.TrimPrefix(strings.ReplaceAll(rest, "/", `\`), `\`), nil
}

// HostFor returns the hostname a drive maps to
func (t *Translator) HostFor(drive string) (string, bool) {
	host, ok := t.drives[strings.ToUpper(strings.TrimSuffix(drive, ":"))]
	return host, ok
}

// DriveFor returns the drive mapped to hostname. When several drives map to
// the same host the alphabetically first is returned.
func (t *Translator) DriveFor(hostname string) (string, bool) {
	drive, ok := t.byHost[hostname]
	return drive, ok
}

// Drives returns the mapped drive letters, sorted
func (t *Translator) Drives() []string {
	drives := make([]string, 0, len(t.drives))
	for d := range t.drives {
		drives = append(drives, d)
	}
	sort.Strings(drives)
	return drives
}
