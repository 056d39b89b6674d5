package auth

import (
	"fmt"
	"slices"
	"strings"

	"go-treewiki/internal/logger"

	"github.com/casbin/casbin/v2"
)

// DefaultPolicies are the baseline rules: anyone may read, editors may write.
// The editor role inherits everything granted to anonymous.
var DefaultPolicies = [][]string{
	{RoleAnonymous, "/", "GET"},
	{RoleAnonymous, "/pages/*", "GET"},
	{RoleAnonymous, "/history/pages/*", "GET"},
	{RoleAnonymous, "/raw/pages/*", "GET"},
	{RoleAnonymous, "/search", "GET"},
	{RoleAnonymous, "/auth/login", "GET"},
	{RoleAnonymous, "/auth/callback", "GET"},
	{RoleAnonymous, "/auth/logout", "GET"},

	{RoleEditor, "/create/pages/*", "GET"},
	{RoleEditor, "/create/pages/*", "POST"},
	{RoleEditor, "/edit/pages/*", "GET"},
	{RoleEditor, "/edit/pages/*", "POST"},
	{RoleEditor, "/delete/pages/*", "POST"},
	{RoleEditor, "/delete-revision/pages/*", "POST"},
}

// SeedDefaultPolicies ensures that the application has a baseline set of authorization rules.
// It checks if each default policy exists before adding it, making the operation idempotent
// and safe to run on every application start.
func SeedDefaultPolicies(e casbin.IEnforcer, log logger.Logger) {
	log.Info("Seeding default authorization policies...")

	for _, p := range DefaultPolicies {
		if has, _ := e.HasPolicy(p); !has {
			if _, err := e.AddPolicy(p); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add policy %v", p))
			}
		}
	}

	if has, _ := e.HasRoleForUser(RoleEditor, RoleAnonymous); !has {
		if _, err := e.AddRoleForUser(RoleEditor, RoleAnonymous); err != nil {
			log.Error(err, "Failed to add role 'editor' -> 'anonymous'")
		}
	}
	log.Info("Policy seeding complete.")
}

// AssignRole grants a signed-in subject the editor role when email is one of
// editorEmails and the anonymous role otherwise, revoking a stale editor
// grant. It returns the assigned role.
func AssignRole(e casbin.IEnforcer, subject, email string, editorEmails []string) (string, error) {
	role := RoleAnonymous
	if email != "" && slices.ContainsFunc(editorEmails, func(s string) bool {
		return strings.EqualFold(s, email)
	}) {
		role = RoleEditor
	}

	if role == RoleAnonymous {
		if _, err := e.DeleteRoleForUser(subject, RoleEditor); err != nil {
			return "", fmt.Errorf("failed to revoke editor role from %s: %w", subject, err)
		}
	}
	if has, _ := e.HasRoleForUser(subject, role); has {
		return role, nil
	}
	if _, err := e.AddRoleForUser(subject, role); err != nil {
		return "", fmt.Errorf("failed to assign role %s to %s: %w", role, subject, err)
	}
	return role, nil
}
