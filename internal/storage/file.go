package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/dreamware/catalogd/internal/cluster"
)

const fileExt = ".toml"

// fileDefinition is the on-disk form of one catalog:
//
//	connector = "hive"
//
//	[properties]
//	"hive.metastore.uri" = "thrift://metastore:9083"
type fileDefinition struct {
	Properties map[string]string `toml:"properties"`
	Connector  string            `toml:"connector"`
}

// FileStore keeps one TOML file per catalog in a directory. The catalog
// name is the file name without extension.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create catalog dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name+fileExt)
}

// Get reads and decodes the definition file of name.
func (f *FileStore) Get(name string) (cluster.CatalogInfo, error) {
	if err := cluster.ValidateCatalogName(name); err != nil {
		return cluster.CatalogInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(name)
}

func (f *FileStore) read(name string) (cluster.CatalogInfo, error) {
	var def fileDefinition
	if _, err := toml.DecodeFile(f.path(name), &def); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cluster.CatalogInfo{}, errors.Wrapf(ErrNotFound, "catalog %q", name)
		}
		return cluster.CatalogInfo{}, errors.Wrapf(err, "decode %s", f.path(name))
	}
	if def.Properties == nil {
		def.Properties = map[string]string{}
	}
	return cluster.CatalogInfo{
		CatalogName:   name,
		ConnectorName: def.Connector,
		Properties:    def.Properties,
	}, nil
}

// Put writes the definition to a temporary file and renames it into
// place, so readers never see a partial file.
func (f *FileStore) Put(info cluster.CatalogInfo) error {
	if err := cluster.ValidateCatalogName(info.CatalogName); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+info.CatalogName+"-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	def := fileDefinition{Connector: info.ConnectorName, Properties: info.Properties}
	if err := toml.NewEncoder(tmp).Encode(def); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encode catalog %q", info.CatalogName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), f.path(info.CatalogName)), "write catalog %q", info.CatalogName)
}

// Delete removes the definition file of name. No error if it doesn't exist.
func (f *FileStore) Delete(name string) error {
	if err := cluster.ValidateCatalogName(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "remove catalog %q", name)
	}
	return nil
}

// List decodes every *.toml file in the directory. Files whose names are
// not valid catalog names are skipped.
func (f *FileStore) List() ([]cluster.CatalogInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog dir %s", f.dir)
	}

	var out []cluster.CatalogInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileExt)
		if cluster.ValidateCatalogName(name) != nil {
			continue
		}
		info, err := f.read(name)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	sortInfos(out)
	return out, nil
}
