// Package config provides dbugctl's configuration: package-level defaults
// (a single-constant idiom) plus an optional loadable document for the
// controller's settings. The embedded runtime does not use it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultControllerAddr is the default Document.ControllerAddr. dbugctl
// does not listen on it: the websocket transport binds an ephemeral
// loopback port, and no DAP or JSON-RPC server is started.
const DefaultControllerAddr = ":4747"

// DefaultRingSize is the default shared-memory ring size, in bytes, for
// the ipc/shm transport.
const DefaultRingSize = 4 << 20

// DefaultSessionStoreBackend names the session persistence backend used
// when none is configured.
const DefaultSessionStoreBackend = "file"

// Transport names an IPC transport selectable via DBUG_TRANSPORT or the
// --transport CLI flag.
type Transport string

const (
	TransportShm Transport = "shm"
	TransportWS  Transport = "ws"
)

// Document is the controller's loadable configuration, read from a YAML
// file (e.g. ~/.config/dbug/config.yaml) with defaults filled in for any
// field the file omits.
type Document struct {
	ControllerAddr string    `yaml:"controllerAddr"`
	Transport      Transport `yaml:"transport"`
	RingSize       int       `yaml:"ringSize"`
	EventBusAddr   string    `yaml:"eventBusAddr"`
	StoreBackend   string    `yaml:"storeBackend"` // "file" or "sqlite"
	StorePath      string    `yaml:"storePath"`
	LogFilePath    string    `yaml:"logFilePath"`
	LogFormat      string    `yaml:"logFormat"` // "text" or "json"
	MetricsAddr    string    `yaml:"metricsAddr"`
	OTLPEndpoint   string    `yaml:"otlpEndpoint"`
}

// Defaults returns a Document populated with the package defaults.
func Defaults() Document {
	return Document{
		ControllerAddr: DefaultControllerAddr,
		Transport:      TransportShm,
		RingSize:       DefaultRingSize,
		StoreBackend:   DefaultSessionStoreBackend,
		LogFormat:      "text",
		MetricsAddr:    "",
	}
}

// Load reads a YAML document from path and overlays it onto Defaults().
// A missing file is not an error — it simply yields the defaults.
func Load(path string) (Document, error) {
	doc := Defaults()
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return doc, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return doc, nil
}

// ApplyEnv overlays DBUG_* environment variables onto doc, matching the
// precedence order flags > env > file > defaults that dbugctl's CLI
// layer uses when assembling the final configuration.
func (d Document) ApplyEnv() Document {
	if v := os.Getenv("DBUG_TRANSPORT"); v != "" {
		d.Transport = Transport(v)
	}
	if v := os.Getenv("DBUG_EVENT_BUS"); v != "" {
		d.EventBusAddr = v
	}
	if v := os.Getenv("DBUG_ENDPOINT"); v != "" {
		d.ControllerAddr = v
	}
	return d
}
