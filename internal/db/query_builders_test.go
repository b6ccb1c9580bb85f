package db

import (
	"database/sql"
	"strings"
	"testing"
)

func TestBuildVersionFilter(t *testing.T) {
	env := int64(7)
	oid := int64(9)

	tests := []struct {
		name         string
		filter       VersionFilter
		wantContain  []string
		wantArgCount int
	}{
		{
			name:         "server only",
			filter:       VersionFilter{CustomServerOID: 1},
			wantContain:  []string{"v.custom_server_oid = $1"},
			wantArgCount: 1,
		},
		{
			name:         "scoped to environment",
			filter:       VersionFilter{CustomServerOID: 1, EnvironmentOID: &env},
			wantContain:  []string{"v.custom_server_oid = $1", "v.environment_oid = $2"},
			wantArgCount: 2,
		},
		{
			name:         "id or hash",
			filter:       VersionFilter{CustomServerOID: 1, IDOrHash: "abcd1234"},
			wantContain:  []string{"(v.id = $2 OR v.version_hash = $3)"},
			wantArgCount: 3,
		},
		{
			name:         "by oid",
			filter:       VersionFilter{CustomServerOID: 1, OID: &oid},
			wantContain:  []string{"v.oid = $2"},
			wantArgCount: 2,
		},
	}

	db := newDB(&sql.DB{}, DialectPostgres)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := db.versionSelect().Where(buildVersionFilter(tt.filter)).ToSql()
			if err != nil {
				t.Fatalf("ToSql() error = %v", err)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(query, want) {
					t.Errorf("query does not contain %q:\n%s", want, query)
				}
			}
			if len(args) != tt.wantArgCount {
				t.Errorf("args = %v, want %d args", args, tt.wantArgCount)
			}
		})
	}
}

func TestBuildVersionListQuery_Dialects(t *testing.T) {
	tests := []struct {
		dialect     Dialect
		wantContain string
		wantAbsent  string
	}{
		{dialect: DialectPostgres, wantContain: "v.custom_server_oid = $1", wantAbsent: "?"},
		{dialect: DialectSQLite, wantContain: "v.custom_server_oid = ?", wantAbsent: "$1"},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			db := newDB(&sql.DB{}, tt.dialect)
			query, _, err := db.buildVersionListQuery(VersionFilter{CustomServerOID: 3}, 50, 0)
			if err != nil {
				t.Fatalf("buildVersionListQuery() error = %v", err)
			}
			if !strings.Contains(query, tt.wantContain) {
				t.Errorf("query missing %q:\n%s", tt.wantContain, query)
			}
			if strings.Contains(query, tt.wantAbsent) {
				t.Errorf("query unexpectedly contains %q:\n%s", tt.wantAbsent, query)
			}
			for _, want := range []string{"COUNT(*) OVER() AS total_count", "ORDER BY v.version_index DESC", "LIMIT 50", "LEFT JOIN remote_server_instances"} {
				if !strings.Contains(query, want) {
					t.Errorf("query missing %q", want)
				}
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/tmp/a.db", want: "file:/tmp/a.db?_pragma=foreign_keys(1)"},
		{path: "file:a.db?cache=shared", want: "file:a.db?cache=shared&_pragma=foreign_keys(1)"},
	}
	for _, tt := range tests {
		if got := sqliteDSN(tt.path); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sqliteDSN(%q) = %q, want prefix %q", tt.path, got, tt.want)
		}
	}
}

func TestNewDB_PlaceholderFormat(t *testing.T) {
	tests := []struct {
		dialect Dialect
		want    string
	}{
		{dialect: DialectPostgres, want: "INSERT INTO t (a,b) VALUES ($1,$2)"},
		{dialect: DialectSQLite, want: "INSERT INTO t (a,b) VALUES (?,?)"},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			db := newDB(&sql.DB{}, tt.dialect)
			query, args, err := db.sb.Insert("t").Columns("a", "b").Values(1, 2).ToSql()
			if err != nil {
				t.Fatalf("ToSql() error = %v", err)
			}
			if query != tt.want {
				t.Errorf("query = %q, want %q", query, tt.want)
			}
			if len(args) != 2 {
				t.Errorf("len(args) = %d, want 2", len(args))
			}
		})
	}
}
