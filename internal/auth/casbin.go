package auth

import (
	"fmt"

	"go-treewiki/internal/config"
	"go-treewiki/internal/data"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/util"
	sqlxadapter "github.com/memwey/casbin-sqlx-adapter"
)

// Role names used in policies.
const (
	RoleAnonymous = "anonymous"
	RoleEditor    = "editor"
)

// modelText is an RBAC model with path wildcards on the object.
const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && r.act == p.act
`

// NewEnforcer creates and configures a new Casbin enforcer whose policies
// are stored in the casbin_rule table of the given database.
func NewEnforcer(driverName, dsn string) (*casbin.Enforcer, error) {
	m, err := Model()
	if err != nil {
		return nil, err
	}

	opts := &sqlxadapter.AdapterOptions{
		DriverName:     driverName,
		DataSourceName: dsn,
		TableName:      "casbin_rule",
	}
	adapter := sqlxadapter.NewAdapterFromOptions(opts)

	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}

	// keyMatch2 lets "/pages/*" match any page path.
	enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return enforcer, nil
}

// Model returns the authorization model.
func Model() (model.Model, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorization model: %w", err)
	}
	return m, nil
}

// NewMemoryEnforcer creates an enforcer without persistent policy storage.
func NewMemoryEnforcer() (*casbin.Enforcer, error) {
	m, err := Model()
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)
	return enforcer, nil
}

// PolicyDSN returns the data source the policy adapter should open for a
// content store configuration. The adapter opens its own pool, so a private
// in-memory SQLite database is replaced by a shared-cache one.
func PolicyDSN(cfg config.DBConfig) string {
	if cfg.Driver == data.DriverSQLite3 && data.IsMemoryDSN(cfg.DSN) {
		return "file:casbin?mode=memory&cache=shared"
	}
	return cfg.DSN
}
