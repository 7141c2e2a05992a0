package configs

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidListen = errors.New("archivehost: listen address is invalid")
var ErrInvalidStorage = errors.New("archivehost: storage is invalid")
var ErrInvalidSecret = errors.New("archivehost: secret is invalid")

// Storage is the cache holding items of an archive host.
type Storage struct {
	Kind    string
	RootDir string
	HeadDir string
}

func (s *Storage) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Kind    string `yaml:"kind"`
		RootDir string `yaml:"rootdir"`
		HeadDir string `yaml:"headdir"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Kind == "" {
		raw.Kind = "std"
	}
	if raw.RootDir != "" && raw.RootDir != "auto" && !filepath.IsAbs(raw.RootDir) {
		return fmt.Errorf("%w: rootdir is not absolute: %s", ErrInvalidStorage, raw.RootDir)
	}
	s.Kind = raw.Kind
	s.RootDir = raw.RootDir
	s.HeadDir = raw.HeadDir
	return nil
}

// ArchiveHost configures the archive host daemon.
type ArchiveHost struct {
	// Listen is the address to listen on, like ":8080".
	Listen string

	Storage Storage

	ReadOnly bool

	// Secret signs bearer tokens. Empty disables authentication.
	Secret []byte

	// TempDir stages transferred bodies.
	TempDir string
}

func (a *ArchiveHost) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Listen     string   `yaml:"listen"`
		Storage    *Storage `yaml:"storage"`
		ReadOnly   bool     `yaml:"readonly"`
		Secret     string   `yaml:"secret"`
		SecretFile string   `yaml:"secret_file"`
		TempDir    string   `yaml:"tmpdir"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.Listen == "" {
		raw.Listen = ":8080"
	}
	if _, _, err := net.SplitHostPort(raw.Listen); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidListen, raw.Listen, err)
	}
	if raw.Storage == nil {
		return fmt.Errorf("%w: storage is not set", ErrInvalidStorage)
	}
	if raw.Secret != "" && raw.SecretFile != "" {
		return fmt.Errorf("%w: secret and secret_file are exclusive", ErrInvalidSecret)
	}
	secret := []byte(raw.Secret)
	if raw.SecretFile != "" {
		content, err := os.ReadFile(raw.SecretFile)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidSecret, err)
		}
		secret = []byte(strings.TrimSpace(string(content)))
		if len(secret) == 0 {
			return fmt.Errorf("%w: %s is empty", ErrInvalidSecret, raw.SecretFile)
		}
	}

	a.Listen = raw.Listen
	a.Storage = *raw.Storage
	a.ReadOnly = raw.ReadOnly
	a.Secret = secret
	a.TempDir = raw.TempDir
	return nil
}

// LoadArchiveHost reads the configuration of the archive host daemon.
func LoadArchiveHost(file string) (ArchiveHost, error) {
	f, err := os.Open(file)
	if err != nil {
		return ArchiveHost{}, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	conf := ArchiveHost{}
	if err := dec.Decode(&conf); err != nil {
		return ArchiveHost{}, err
	}
	return conf, nil
}
