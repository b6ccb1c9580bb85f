package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metorial/custom-server/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullJSON scans a nullable JSON/JSONB/TEXT column
type nullJSON struct {
	Raw json.RawMessage
}

func (n *nullJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		n.Raw = nil
	case []byte:
		n.Raw = append(json.RawMessage(nil), v...)
	case string:
		n.Raw = json.RawMessage(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON", src)
	}
	return nil
}

// jsonArg converts a raw JSON document into a driver argument, NULL when empty
func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func fromNullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(n *int64) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func scanOrganization(row rowScanner) (*models.Organization, error) {
	var o models.Organization
	var createdAt int64
	if err := row.Scan(&o.OID, &o.ID, &o.Name, &createdAt); err != nil {
		return nil, err
	}
	o.CreatedAt = fromMillis(createdAt)
	return &o, nil
}

func scanInstance(row rowScanner) (*models.Instance, error) {
	var i models.Instance
	var createdAt int64
	if err := row.Scan(&i.OID, &i.ID, &i.Name, &i.Type, &i.OrganizationOID, &createdAt); err != nil {
		return nil, err
	}
	i.CreatedAt = fromMillis(createdAt)
	return &i, nil
}

func scanServer(row rowScanner) (*models.Server, error) {
	var s models.Server
	var createdAt, updatedAt int64
	if err := row.Scan(&s.OID, &s.ID, &s.Name, &s.Description, &s.Status, &s.IsPublic,
		&s.OwnerOrganizationOID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

func scanCustomServer(row rowScanner) (*models.CustomServer, error) {
	var cs models.CustomServer
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64
	if err := row.Scan(&cs.OID, &cs.ID, &cs.Name, &cs.Description, &cs.Type, &cs.Status,
		&cs.IsEphemeral, &cs.IsPublic, &cs.ServerOID, &cs.ServerID, &cs.OrganizationOID, &cs.InstanceOID,
		&createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	cs.CreatedAt = fromMillis(createdAt)
	cs.UpdatedAt = fromMillis(updatedAt)
	cs.DeletedAt = fromNullMillis(deletedAt)
	return &cs, nil
}

func scanEnvironment(row rowScanner) (*models.Environment, error) {
	var e models.Environment
	var currentVersion sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&e.OID, &e.ID, &e.Name, &e.InstanceOID, &e.OrganizationOID, &e.CustomServerOID,
		&e.ServerVariantOID, &e.MaxVersionIndex, &currentVersion, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.CurrentVersionOID = fromNullInt(currentVersion)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

func scanVariant(row rowScanner) (*models.Variant, error) {
	var v models.Variant
	var currentVersion, lastDiscoveredAt sql.NullInt64
	var remoteURL, remoteProtocol, dockerImage sql.NullString
	var tools, prompts, resourceTemplates, capabilities, info nullJSON
	var createdAt, updatedAt int64
	if err := row.Scan(&v.OID, &v.ID, &v.Identifier, &v.IsDefault, &v.Status, &v.ProviderOID, &v.ServerOID,
		&v.DefaultForInstanceOID, &v.SourceType, &currentVersion, &remoteURL, &remoteProtocol, &dockerImage,
		&tools, &prompts, &resourceTemplates, &capabilities, &info, &lastDiscoveredAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	v.CurrentVersionOID = fromNullInt(currentVersion)
	v.RemoteURL = fromNullString(remoteURL)
	v.RemoteProtocol = models.RemoteProtocol(remoteProtocol.String)
	v.DockerImage = fromNullString(dockerImage)
	v.Discovery = models.Discovery{
		Tools:              tools.Raw,
		Prompts:            prompts.Raw,
		ResourceTemplates:  resourceTemplates.Raw,
		ServerCapabilities: capabilities.Raw,
		ServerInfo:         info.Raw,
	}
	v.LastDiscoveredAt = fromNullMillis(lastDiscoveredAt)
	v.CreatedAt = fromMillis(createdAt)
	v.UpdatedAt = fromMillis(updatedAt)
	return &v, nil
}

func scanConfigSchema(row rowScanner) (*models.ConfigSchema, error) {
	var s models.ConfigSchema
	var doc nullJSON
	var createdAt int64
	if err := row.Scan(&s.OID, &s.ID, &s.Fingerprint, &doc, &s.ServerOID, &s.ServerVariantOID, &createdAt); err != nil {
		return nil, err
	}
	s.Schema = doc.Raw
	s.CreatedAt = fromMillis(createdAt)
	return &s, nil
}

// scanVersionRow scans one row of versionSelect: the wrapper joined with
// its runtime version, schema and (optional) remote server instance.
func scanVersionRow(row rowScanner) (*models.CustomServerVersion, error) {
	var (
		v  models.CustomServerVersion
		sv models.ServerVersion
		sc models.ConfigSchema

		remoteOID                               sql.NullInt64
		createdAt, svCreatedAt, scCreatedAt     int64
		svRemoteURL, svRemoteProtocol, svDocker sql.NullString
		tools, prompts, resourceTemplates, caps nullJSON
		info, schemaDoc                         nullJSON
		lastDiscoveredAt                        sql.NullInt64
		rsiOID, rsiInstanceOID, rsiCreatedAt    sql.NullInt64
		rsiID, rsiRemoteURL, rsiRemoteProtocol  sql.NullString
		isCurrent                               int64
	)

	err := row.Scan(
		&v.OID, &v.ID, &v.VersionHash, &v.VersionIndex, &v.CustomServerOID, &v.EnvironmentOID,
		&v.ServerVersionOID, &v.InstanceOID, &remoteOID, &createdAt,
		&sv.OID, &sv.ID, &sv.Identifier, &sv.ServerVariantOID, &sv.ServerOID, &sv.SourceType, &sv.SchemaOID,
		&sv.GetLaunchParams, &svRemoteURL, &svRemoteProtocol, &svDocker,
		&tools, &prompts, &resourceTemplates, &caps, &info, &lastDiscoveredAt, &svCreatedAt,
		&sc.OID, &sc.ID, &sc.Fingerprint, &schemaDoc, &sc.ServerOID, &sc.ServerVariantOID, &scCreatedAt,
		&rsiOID, &rsiID, &rsiInstanceOID, &rsiRemoteURL, &rsiRemoteProtocol, &rsiCreatedAt,
		&isCurrent,
	)
	if err != nil {
		return nil, err
	}

	v.RemoteServerInstanceOID = fromNullInt(remoteOID)
	v.CreatedAt = fromMillis(createdAt)
	v.IsCurrent = isCurrent == 1

	sv.RemoteURL = fromNullString(svRemoteURL)
	sv.RemoteProtocol = models.RemoteProtocol(svRemoteProtocol.String)
	sv.DockerImage = fromNullString(svDocker)
	sv.Discovery = models.Discovery{
		Tools:              tools.Raw,
		Prompts:            prompts.Raw,
		ResourceTemplates:  resourceTemplates.Raw,
		ServerCapabilities: caps.Raw,
		ServerInfo:         info.Raw,
	}
	sv.LastDiscoveredAt = fromNullMillis(lastDiscoveredAt)
	sv.CreatedAt = fromMillis(svCreatedAt)
	v.ServerVersion = &sv

	sc.Schema = schemaDoc.Raw
	sc.CreatedAt = fromMillis(scCreatedAt)
	v.Schema = &sc

	if rsiOID.Valid {
		v.RemoteServerInstance = &models.RemoteServerInstance{
			OID:            rsiOID.Int64,
			ID:             rsiID.String,
			InstanceOID:    rsiInstanceOID.Int64,
			RemoteURL:      rsiRemoteURL.String,
			RemoteProtocol: models.RemoteProtocol(rsiRemoteProtocol.String),
			CreatedAt:      fromMillis(rsiCreatedAt.Int64),
		}
	}

	return &v, nil
}
