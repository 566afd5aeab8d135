package extract

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Sriram-PR/thread-watcher/pkg/models"
	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

// ThumbnailDir is the subdirectory of a watch directory holding thumbnails.
const ThumbnailDir = "thumbs"

// SuggestName derives a safe file name from the last path element of u.
// Names without a usable base fall back to a hash of the URL.
func SuggestName(u *url.URL) string {
	ext := path.Ext(u.Path)
	base := strings.TrimSuffix(path.Base(u.Path), ext)
	if base == "" || base == "." || base == "/" {
		return "file_" + utils.CalculateStringSHA256(u.String())[:12] + ext
	}
	return utils.SanitizeFilename(base + ext)
}

// Namer hands out unique file names for the resources of one watch. A key
// keeps the name it was first given.
type Namer struct {
	dir        string
	maxPathLen int

	mu    sync.Mutex
	names map[string]string          // key -> relative path
	taken map[string]map[string]bool // subdirectory -> lower-cased names
}

// NewNamer creates a Namer for files under dir. maxPathLen 0 disables the length limit.
func NewNamer(dir string, maxPathLen int) *Namer {
	return &Namer{
		dir:        dir,
		maxPathLen: maxPathLen,
		names:      make(map[string]string),
		taken:      make(map[string]map[string]bool),
	}
}

// Reserve records a name assigned in an earlier run.
func (n *Namer) Reserve(key, relPath string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names[key] = relPath
	sub, name := filepath.Split(relPath)
	n.takenIn(filepath.Clean(sub))[strings.ToLower(name)] = true
}

// Assign returns the relative path for res, picking a free name on first use.
func (n *Namer) Assign(res Resource) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.names[res.Key]; ok {
		return p, nil
	}

	sub := "."
	if res.Kind == models.ResourceKindThumbnail {
		sub = ThumbnailDir
	}
	suggested := res.Name
	if suggested == "" {
		suggested = SuggestName(res.URL)
	}
	name, err := utils.UniqueFileName(filepath.Join(n.dir, sub), suggested, n.takenIn(sub), n.maxPathLen)
	if err != nil {
		return "", err
	}
	rel := name
	if sub != "." {
		rel = filepath.Join(sub, name)
	}
	n.names[res.Key] = rel
	return rel, nil
}

// Lookup returns the path assigned to key, if any.
func (n *Namer) Lookup(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.names[key]
	return p, ok
}

func (n *Namer) takenIn(sub string) map[string]bool {
	t, ok := n.taken[sub]
	if !ok {
		t = make(map[string]bool)
		n.taken[sub] = t
	}
	return t
}
