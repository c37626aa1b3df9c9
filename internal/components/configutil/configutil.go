package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// ReadConfig reads a json5 configuration file on top of `defaults`. `name`
// should come with a file extension, it is used to derive the override file.
// Files are merged in the following order, where higher number wins:
// 1. defaults
// 2. <name>.<ext>
// 3. <name>.local.<ext>
//
// os.ErrNotExist is returned (along with the defaults) when neither file
// exists.
func ReadConfig[T any](name string, defaults T) (T, error) {
	out := defaults
	allNotFound := true

	dirname := filepath.Dir(name)
	prefixname, ext := splitExt(filepath.Base(name))

	for _, path := range []string{
		name,
		filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefixname, ext)),
	} {
		contents, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return defaults, err
		}
		allNotFound = false
		if len(contents) == 0 {
			continue
		}

		var override T
		err = json5.Unmarshal(contents, &override)
		if err != nil {
			return defaults, fmt.Errorf("parse %s: %w", path, err)
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return defaults, err
		}
		slog.Debug("merged config file", "path", path)
	}

	if allNotFound {
		return defaults, os.ErrNotExist
	}
	return out, nil
}
