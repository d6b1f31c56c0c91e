package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// EnvFileVar names one .env file that replaces the default search.
const EnvFileVar = "SVMGR_ENV_FILE"

// ParseDotEnv reads KEY=VALUE lines. Blank lines and lines starting with '#'
// are skipped, an "export " prefix is accepted, and values may be wrapped in
// single or double quotes. An unquoted value ends at " #". Malformed lines are
// reported with their line number.
func ParseDotEnv(r io.Reader) (map[string]string, error) {
	vars := make(map[string]string)
	s := bufio.NewScanner(r)
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok {
			return nil, fmt.Errorf("line %d: missing '='", n)
		}
		if !validEnvKey(key) {
			return nil, fmt.Errorf("line %d: invalid variable name %q", n, key)
		}
		val, err := unquote(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", n, key, err)
		}
		vars[key] = val
	}
	return vars, s.Err()
}

func validEnvKey(k string) bool {
	if k == "" {
		return false
	}
	for i, c := range k {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func unquote(v string) (string, error) {
	if v == "" {
		return v, nil
	}
	if q := v[0]; q == '"' || q == '\'' {
		if len(v) < 2 || v[len(v)-1] != q {
			return "", errors.New("unterminated quote")
		}
		return v[1 : len(v)-1], nil
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v, nil
}

// LoadDotEnv parses path and exports its variables. Variables already present
// in the environment keep their value unless override is set.
func LoadDotEnv(path string, override bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	vars, err := ParseDotEnv(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); set && !override {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("%s: %s: %w", path, k, err)
		}
	}
	return nil
}

// DotEnvPaths lists the .env files considered for the config at configPath:
// the file named by SVMGR_ENV_FILE alone, or .env beside the config followed
// by .env in the working directory.
func DotEnvPaths(configPath string) []string {
	if p := os.Getenv(EnvFileVar); p != "" {
		return []string{p}
	}
	dir, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		dir = filepath.Dir(configPath)
	}
	paths := []string{filepath.Join(dir, ".env")}
	if cwd, err := os.Getwd(); err == nil && cwd != dir {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	return paths
}

// LoadDotEnvFor loads DotEnvPaths(configPath) without overriding the
// environment and returns the files it read. Missing default files are
// skipped; a missing SVMGR_ENV_FILE and malformed files are logged.
func LoadDotEnvFor(configPath string) []string {
	explicit := os.Getenv(EnvFileVar) != ""
	var loaded []string
	for _, p := range DotEnvPaths(configPath) {
		err := LoadDotEnv(p, false)
		switch {
		case err == nil:
			log.Debug().Str("path", p).Msg("env file loaded")
			loaded = append(loaded, p)
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			log.Warn().Err(err).Str("path", p).Msg("env file not loaded")
		}
	}
	return loaded
}
