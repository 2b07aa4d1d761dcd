// Package properties reads and edits server.properties files without
// disturbing the parts it does not touch: comments, blank lines, and key
// order survive a load/save round trip.
package properties

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/craftd/msm/pkg/apierr"
)

// FileName is the vanilla server's config file name, fixed by the game.
const FileName = "server.properties"

type line struct {
	raw string
	key string // empty for comments and blanks
}

// File is an in-memory server.properties document.
type File struct {
	path  string
	lines []line
	index map[string]int
}

// Load parses the server.properties inside serverDir. A missing file is not
// an error: the server simply has not generated one yet, and Save will
// create it.
func Load(serverDir string) (*File, error) {
	f := &File{
		path:  filepath.Join(serverDir, FileName),
		index: make(map[string]int),
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, apierr.Resourcef(err, "failed to read %s", FileName)
	}

	for _, raw := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		raw = strings.TrimSuffix(raw, "\r")
		trimmed := strings.TrimSpace(raw)

		key := ""
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "!") {
			if eq := strings.IndexByte(trimmed, '='); eq >= 0 {
				key = strings.TrimSpace(trimmed[:eq])
			}
		}
		if key != "" {
			if prev, dup := f.index[key]; dup {
				// The game keeps the last occurrence; drop the earlier one.
				f.lines[prev] = line{raw: f.lines[prev].raw, key: ""}
			}
			f.index[key] = len(f.lines)
		}
		f.lines = append(f.lines, line{raw: raw, key: key})
	}
	return f, nil
}

// Get returns the value for key and whether it is present.
func (f *File) Get(key string) (string, bool) {
	i, ok := f.index[key]
	if !ok {
		return "", false
	}
	raw := strings.TrimSpace(f.lines[i].raw)
	eq := strings.IndexByte(raw, '=')
	return strings.TrimSpace(raw[eq+1:]), true
}

// GetInt returns the value for key parsed as an integer.
func (f *File) GetInt(key string) (int, bool) {
	v, ok := f.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Set writes key=value, replacing the existing line in place or appending
// a new one at the end.
func (f *File) Set(key, value string) {
	raw := key + "=" + value
	if i, ok := f.index[key]; ok {
		f.lines[i] = line{raw: raw, key: key}
		return
	}
	f.index[key] = len(f.lines)
	f.lines = append(f.lines, line{raw: raw, key: key})
}

// SetInt writes key=value for an integer value.
func (f *File) SetInt(key string, value int) {
	f.Set(key, strconv.Itoa(value))
}

// Delete removes key and its line. It reports whether the key was present.
func (f *File) Delete(key string) bool {
	i, ok := f.index[key]
	if !ok {
		return false
	}
	f.lines = append(f.lines[:i], f.lines[i+1:]...)
	delete(f.index, key)
	for k, j := range f.index {
		if j > i {
			f.index[k] = j - 1
		}
	}
	return true
}

// All returns every key/value pair as a map. Mutating the map does not
// affect the file.
func (f *File) All() map[string]string {
	out := make(map[string]string, len(f.index))
	for key := range f.index {
		v, _ := f.Get(key)
		out[key] = v
	}
	return out
}

// Len returns the number of keys.
func (f *File) Len() int { return len(f.index) }

// Save writes the document back to disk, creating the file if needed.
func (f *File) Save() error {
	var b strings.Builder
	for _, l := range f.lines {
		b.WriteString(l.raw)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(f.path, []byte(b.String()), 0o644); err != nil {
		return apierr.Resourcef(err, "failed to write %s", FileName)
	}
	return nil
}

// rule constrains a known property. Keys outside the table pass untouched:
// mods and newer game versions add properties faster than this list tracks.
type rule struct {
	kind string // bool, int, enum
	min  int
	max  int
	enum []string
}

var rules = map[string]rule{
	"allow-flight":         {kind: "bool"},
	"allow-nether":         {kind: "bool"},
	"difficulty":           {kind: "enum", enum: []string{"peaceful", "easy", "normal", "hard"}},
	"enable-command-block": {kind: "bool"},
	"enable-query":         {kind: "bool"},
	"enable-rcon":          {kind: "bool"},
	"enforce-whitelist":    {kind: "bool"},
	"force-gamemode":       {kind: "bool"},
	"gamemode":             {kind: "enum", enum: []string{"survival", "creative", "adventure", "spectator"}},
	"hardcore":             {kind: "bool"},
	"max-players":          {kind: "int", min: 0, max: 2147483647},
	"online-mode":          {kind: "bool"},
	"pvp":                  {kind: "bool"},
	"query.port":           {kind: "int", min: 1, max: 65535},
	"rcon.port":            {kind: "int", min: 1, max: 65535},
	"server-port":          {kind: "int", min: 1, max: 65535},
	"simulation-distance":  {kind: "int", min: 3, max: 32},
	"spawn-protection":     {kind: "int", min: 0, max: 2147483647},
	"view-distance":        {kind: "int", min: 3, max: 32},
	"white-list":           {kind: "bool"},
}

// Validate checks a value against the constraints of a known key. Unknown
// keys are always accepted.
func Validate(key, value string) error {
	r, ok := rules[key]
	if !ok {
		return nil
	}
	switch r.kind {
	case "bool":
		if value != "true" && value != "false" {
			return apierr.Validation(key, "must be true or false")
		}
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return apierr.Validation(key, "must be an integer")
		}
		if n < r.min || n > r.max {
			return apierr.Validation(key, fmt.Sprintf("must be between %d and %d", r.min, r.max))
		}
	case "enum":
		for _, v := range r.enum {
			if strings.EqualFold(value, v) {
				return nil
			}
		}
		return apierr.Validation(key, "must be one of "+strings.Join(r.enum, ", "))
	}
	return nil
}
