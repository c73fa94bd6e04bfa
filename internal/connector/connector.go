package connector

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrInvalidProperties is returned by a Factory when the catalog
// properties cannot configure its connector.
var ErrInvalidProperties = errors.New("invalid connector properties")

// Connector is a live instance of a data source implementation bound to
// one catalog.
type Connector interface {
	// Type returns the name of the factory that created the connector.
	Type() string

	// Close releases the resources held by the connector.
	Close() error
}

// Factory creates connectors of one type.
type Factory interface {
	Name() string
	Create(catalogName string, properties map[string]string) (Connector, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc struct {
	Fn       func(catalogName string, properties map[string]string) (Connector, error)
	TypeName string
}

func (f FactoryFunc) Name() string { return f.TypeName }

func (f FactoryFunc) Create(catalogName string, properties map[string]string) (Connector, error) {
	return f.Fn(catalogName, properties)
}

// Builtin returns the factories compiled into catalogd.
func Builtin() []Factory {
	return []Factory{
		FactoryFunc{TypeName: "memory", Fn: newMemory},
		FactoryFunc{TypeName: "blackhole", Fn: newBlackhole},
		FactoryFunc{TypeName: "hive", Fn: newHive},
		FactoryFunc{TypeName: "postgresql", Fn: jdbcFactory("postgresql", "jdbc:postgresql:")},
		FactoryFunc{TypeName: "mysql", Fn: jdbcFactory("mysql", "jdbc:mysql:")},
	}
}

// memoryConnector keeps its data in process memory and has no required
// properties.
type memoryConnector struct {
	mu     sync.Mutex
	closed bool
}

func newMemory(string, map[string]string) (Connector, error) {
	return &memoryConnector{}, nil
}

func (m *memoryConnector) Type() string { return "memory" }

func (m *memoryConnector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory connector already closed")
	}
	m.closed = true
	return nil
}

type blackholeConnector struct{}

func newBlackhole(string, map[string]string) (Connector, error) {
	return blackholeConnector{}, nil
}

func (blackholeConnector) Type() string { return "blackhole" }
func (blackholeConnector) Close() error { return nil }

// hiveConnector points at a Hive metastore. The metastore is not dialled
// on creation; an unreachable metastore surfaces on first query.
type hiveConnector struct {
	metastore *url.URL
}

func newHive(catalogName string, props map[string]string) (Connector, error) {
	raw, ok := props["hive.metastore.uri"]
	if !ok || raw == "" {
		return nil, errors.Mark(errors.Newf("catalog %q: hive.metastore.uri is required", catalogName), ErrInvalidProperties)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "catalog %q: hive.metastore.uri", catalogName), ErrInvalidProperties)
	}
	if u.Scheme != "thrift" {
		return nil, errors.Mark(errors.Newf("catalog %q: hive.metastore.uri %q must use thrift://", catalogName, raw), ErrInvalidProperties)
	}
	if _, port, err := net.SplitHostPort(u.Host); err != nil || port == "" {
		return nil, errors.Mark(errors.Newf("catalog %q: hive.metastore.uri %q must have host:port", catalogName, raw), ErrInvalidProperties)
	}
	return &hiveConnector{metastore: u}, nil
}

func (h *hiveConnector) Type() string { return "hive" }
func (h *hiveConnector) Close() error { return nil }

type jdbcConnector struct {
	typeName string
	url      string
}

func jdbcFactory(typeName, prefix string) func(string, map[string]string) (Connector, error) {
	return func(catalogName string, props map[string]string) (Connector, error) {
		u := props["connection-url"]
		if u == "" {
			return nil, errors.Mark(errors.Newf("catalog %q: connection-url is required", catalogName), ErrInvalidProperties)
		}
		if !strings.HasPrefix(u, prefix) || len(u) == len(prefix) {
			return nil, errors.Mark(errors.Newf("catalog %q: connection-url must start with %s", catalogName, prefix), ErrInvalidProperties)
		}
		return &jdbcConnector{typeName: typeName, url: u}, nil
	}
}

func (j *jdbcConnector) Type() string { return j.typeName }
func (j *jdbcConnector) Close() error { return nil }
