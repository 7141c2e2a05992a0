package stores

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/remote"
)

// RemapFunc turns a remote into the item addressed in a backend.
//
// Remapping never mutates r.
type RemapFunc func(r remote.Remote) (string, error)

// Identity addresses the path of the remote as is.
func Identity(r remote.Remote) (string, error) {
	item := path.Clean("/" + r.Path)
	if item == "/" {
		return "", xe.InvalidRemotef("%s: empty path", r.URI())
	}
	return strings.TrimPrefix(item, "/"), nil
}

// minimum number of segments of vortex paths: vapp/vconf/xpid/...
const vortexMinSegments = 4

var (
	reVortexDate = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})(T\d{2,4}\w*)$`)
	reOpDate     = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})T(\d{2})(\d{2})?\w*$`)
	reLegacyXpid = regexp.MustCompile(`^[A-Za-z0-9]{4}$`)
)

// splitXpid remaps the experiment segment of an archived path.
//
// Fixed-width experiment ids are split into one directory per character
// (ABCD -> A/B/C/D). Free-form ids `name@user` are moved into the tree of
// the user: it returns the user, and name as the experiment segment.
func splitXpid(xpid string) (segments []string, user string, err error) {
	if name, owner, ok := strings.Cut(xpid, "@"); ok {
		if name == "" || owner == "" || strings.Contains(owner, "@") {
			return nil, "", xe.InvalidRemotef("malformed experiment id %q", xpid)
		}
		return []string{name}, owner, nil
	}
	if reLegacyXpid.MatchString(xpid) {
		chars := make([]string, 0, len(xpid))
		for _, c := range strings.ToUpper(xpid) {
			chars = append(chars, string(c))
		}
		return chars, "", nil
	}
	return []string{xpid}, "", nil
}

// VortexArchiveRemap remaps `vapp/vconf/xpid/date/...` for vortex archives.
//
// The experiment id is split by splitXpid and a date segment
// `YYYYMMDDTHHMM..` becomes `YYYY/MM/DD/THHMM..`. Free-form experiments
// are rooted under `~user/vortex`, which is returned as root.
func VortexArchiveRemap(r remote.Remote) (item string, root string, err error) {
	segs := r.Segments()
	if len(segs) < vortexMinSegments {
		return "", "", xe.InvalidRemotef("%s: vortex paths have at least %d segments", r.URI(), vortexMinSegments)
	}
	xpid, user, err := splitXpid(segs[2])
	if err != nil {
		return "", "", err
	}

	out := append([]string{}, segs[:2]...)
	out = append(out, xpid...)
	for i, s := range segs[3:] {
		if m := reVortexDate.FindStringSubmatch(s); i == 0 && m != nil {
			out = append(out, m[1], m[2], m[3], m[4])
			continue
		}
		out = append(out, s)
	}
	if user != "" {
		root = path.Join("/home", user, "vortex")
	}
	return strings.Join(out, "/"), root, nil
}

// VortexCacheRemap keeps vortex paths as they are but checks their depth.
//
// Free-form ids are kept in the path: caches are shared per user anyway.
func VortexCacheRemap(r remote.Remote) (string, error) {
	segs := r.Segments()
	if len(segs) < vortexMinSegments {
		return "", xe.InvalidRemotef("%s: vortex paths have at least %d segments", r.URI(), vortexMinSegments)
	}
	if _, _, err := splitXpid(segs[2]); err != nil {
		return "", err
	}
	return strings.Join(segs, "/"), nil
}

// OliveArchiveRemap remaps `xpid/...` for olive archives: the experiment id
// is split as vortex ones are.
func OliveArchiveRemap(r remote.Remote) (string, error) {
	segs := r.Segments()
	if len(segs) < 2 {
		return "", xe.InvalidRemotef("%s: olive paths are xpid/...", r.URI())
	}
	xpid, user, err := splitXpid(segs[0])
	if err != nil {
		return "", err
	}
	if user != "" {
		xpid = append([]string{user}, xpid...)
	}
	return strings.Join(append(xpid, segs[1:]...), "/"), nil
}

// OpArchiveRemap remaps `vapp/suite/cutoff/YYYYMMDDTHHMM../...` into
// `vapp/suite/cutoff/YYYY/MM/DD/rH/...`.
func OpArchiveRemap(r remote.Remote) (string, error) {
	segs := r.Segments()
	if len(segs) < 5 {
		return "", xe.InvalidRemotef("%s: op paths are vapp/suite/cutoff/date/...", r.URI())
	}
	m := reOpDate.FindStringSubmatch(segs[3])
	if m == nil {
		return "", xe.InvalidRemotef("%s: %q is not a date", r.URI(), segs[3])
	}
	hour, err := strconv.Atoi(m[4])
	if err != nil || 23 < hour {
		return "", xe.InvalidRemotef("%s: bad hour in %q", r.URI(), segs[3])
	}

	out := append([]string{}, segs[:3]...)
	out = append(out, m[1], m[2], m[3], fmt.Sprintf("r%d", hour))
	out = append(out, segs[4:]...)
	return strings.Join(out, "/"), nil
}
