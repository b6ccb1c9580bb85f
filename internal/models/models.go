package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// ServerStatus is the lifecycle status of a custom server
type ServerStatus string

const (
	ServerStatusActive   ServerStatus = "active"
	ServerStatusInactive ServerStatus = "inactive"
	ServerStatusDeleted  ServerStatus = "deleted"
	ServerStatusArchived ServerStatus = "archived"
)

// ServerType discriminates the implementation backing a custom server
type ServerType string

const (
	ServerTypeRemote ServerType = "remote"
	// ServerTypeManaged is recognised but has no implementation branch.
	ServerTypeManaged ServerType = "managed"
)

// RemoteProtocol is the transport spoken by a remote server
type RemoteProtocol string

const (
	RemoteProtocolSSE            RemoteProtocol = "sse"
	RemoteProtocolStreamableHTTP RemoteProtocol = "streamable_http"
)

// InstanceType is the deployment class of an instance
type InstanceType string

const (
	InstanceTypeProduction  InstanceType = "production"
	InstanceTypeDevelopment InstanceType = "development"
)

// Organization owns instances and servers
type Organization struct {
	OID       int64     `json:"-"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Instance is a deployment target (e.g. production or development)
type Instance struct {
	OID             int64        `json:"-"`
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Type            InstanceType `json:"type"`
	OrganizationOID int64        `json:"-"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Profile is the billing/ownership profile of an organization
type Profile struct {
	OID             int64  `json:"-"`
	ID              string `json:"id"`
	OrganizationOID int64  `json:"-"`
}

// VariantProvider owns the variants created for a profile
type VariantProvider struct {
	OID        int64  `json:"-"`
	ID         string `json:"id"`
	ProfileOID int64  `json:"-"`
}

// Server is the runtime server record that variants and versions hang off
type Server struct {
	OID                  int64        `json:"-"`
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Description          string       `json:"description,omitempty"`
	Status               ServerStatus `json:"status"`
	IsPublic             bool         `json:"is_public"`
	OwnerOrganizationOID int64        `json:"-"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// CustomServer is the user-defined server configuration
type CustomServer struct {
	OID             int64        `json:"-"`
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	Type            ServerType   `json:"type"`
	Status          ServerStatus `json:"status"`
	IsEphemeral     bool         `json:"is_ephemeral"`
	IsPublic        bool         `json:"is_public"`
	ServerOID       int64        `json:"-"`
	ServerID        string       `json:"server_id"`
	OrganizationOID int64        `json:"-"`
	InstanceOID     int64        `json:"-"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty"`
}

// Environment binds a custom server to one instance
type Environment struct {
	OID               int64     `json:"-"`
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	InstanceOID       int64     `json:"-"`
	OrganizationOID   int64     `json:"-"`
	CustomServerOID   int64     `json:"-"`
	ServerVariantOID  int64     `json:"-"`
	MaxVersionIndex   int64     `json:"max_version_index"`
	CurrentVersionOID *int64    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Discovery holds the capabilities discovered from a running server
type Discovery struct {
	Tools              json.RawMessage `json:"tools,omitempty"`
	Prompts            json.RawMessage `json:"prompts,omitempty"`
	ResourceTemplates  json.RawMessage `json:"resource_templates,omitempty"`
	ServerCapabilities json.RawMessage `json:"server_capabilities,omitempty"`
	ServerInfo         json.RawMessage `json:"server_info,omitempty"`
}

// Variant is the serving-facing configuration surface of an environment.
// Promotion copies the current version's fields onto it.
type Variant struct {
	OID                   int64          `json:"-"`
	ID                    string         `json:"id"`
	Identifier            string         `json:"identifier"`
	IsDefault             bool           `json:"is_default"`
	Status                ServerStatus   `json:"status"`
	ProviderOID           int64          `json:"-"`
	ServerOID             int64          `json:"-"`
	DefaultForInstanceOID int64          `json:"-"`
	SourceType            ServerType     `json:"source_type"`
	CurrentVersionOID     *int64         `json:"-"`
	RemoteURL             *string        `json:"remote_url,omitempty"`
	RemoteProtocol        RemoteProtocol `json:"remote_protocol,omitempty"`
	DockerImage           *string        `json:"docker_image,omitempty"`
	Discovery
	LastDiscoveredAt *time.Time `json:"last_discovered_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ConfigSchema is a content-addressed configuration schema
type ConfigSchema struct {
	OID              int64           `json:"-"`
	ID               string          `json:"id"`
	Fingerprint      string          `json:"fingerprint"`
	Schema           json.RawMessage `json:"schema"`
	ServerOID        int64           `json:"-"`
	ServerVariantOID int64           `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ServerVersion is the immutable runtime-facing half of a version
type ServerVersion struct {
	OID              int64          `json:"-"`
	ID               string         `json:"id"`
	Identifier       string         `json:"identifier"`
	ServerVariantOID int64          `json:"-"`
	ServerOID        int64          `json:"-"`
	SourceType       ServerType     `json:"source_type"`
	SchemaOID        int64          `json:"-"`
	GetLaunchParams  string         `json:"get_launch_params"`
	RemoteURL        *string        `json:"remote_url,omitempty"`
	RemoteProtocol   RemoteProtocol `json:"remote_protocol,omitempty"`
	DockerImage      *string        `json:"docker_image,omitempty"`
	Discovery
	LastDiscoveredAt *time.Time `json:"last_discovered_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// RemoteServerInstance records the remote endpoint a version was created from
type RemoteServerInstance struct {
	OID            int64          `json:"-"`
	ID             string         `json:"id"`
	InstanceOID    int64          `json:"-"`
	RemoteURL      string         `json:"remote_url"`
	RemoteProtocol RemoteProtocol `json:"remote_protocol"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CustomServerVersion is the version wrapper users address
type CustomServerVersion struct {
	OID                     int64     `json:"-"`
	ID                      string    `json:"id"`
	VersionHash             string    `json:"version_hash"`
	VersionIndex            int64     `json:"version_index"`
	CustomServerOID         int64     `json:"-"`
	EnvironmentOID          int64     `json:"-"`
	ServerVersionOID        int64     `json:"-"`
	InstanceOID             int64     `json:"-"`
	RemoteServerInstanceOID *int64    `json:"-"`
	CreatedAt               time.Time `json:"created_at"`

	ServerVersion        *ServerVersion        `json:"server_version,omitempty"`
	Schema               *ConfigSchema         `json:"schema,omitempty"`
	RemoteServerInstance *RemoteServerInstance `json:"remote_server_instance,omitempty"`
	IsCurrent            bool                  `json:"is_current"`
}

// RemoteImplementation is the remote-type payload of an implementation
type RemoteImplementation struct {
	RemoteURL string         `json:"remote_url" validate:"required,url,max=2048"`
	Protocol  RemoteProtocol `json:"protocol,omitempty" validate:"omitempty,oneof=sse streamable_http"`
}

// ImplementationConfig carries the optional config schema and launch params
type ImplementationConfig struct {
	Schema          json.RawMessage `json:"schema,omitempty"`
	GetLaunchParams *string         `json:"get_launch_params,omitempty" validate:"omitempty,max=65536"`
}

// Implementation is the discriminated payload a version is created from
type Implementation struct {
	Type      ServerType            `json:"type" validate:"required,oneof=remote"`
	Remote    *RemoteImplementation `json:"remote,omitempty" validate:"required_if=Type remote"`
	Config    *ImplementationConfig `json:"config,omitempty"`
	Discovery *Discovery            `json:"discovery,omitempty"`
}

// ConfigSchema returns the caller-supplied schema document, if any.
// A JSON null counts as absent.
func (i Implementation) ConfigSchema() (json.RawMessage, bool) {
	if i.Config == nil {
		return nil, false
	}
	doc := bytes.TrimSpace(i.Config.Schema)
	if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		return nil, false
	}
	return doc, true
}

// Page is a limit/offset window over a listing
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// VersionList is a page of versions
type VersionList struct {
	Versions []CustomServerVersion `json:"versions"`
	Metadata ResponseMetadata      `json:"metadata"`
}

// ResponseMetadata contains pagination info
type ResponseMetadata struct {
	Count  int `json:"count"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
