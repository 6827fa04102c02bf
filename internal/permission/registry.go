package permission

// registry is the compile-time list of known permissions (spec §4.5:
// "Registry is consulted by all assignment and check operations"). New
// permissions are added here, not invented ad hoc at call sites — the
// same fixed-allowlist shape as internal/sync.AllowedTables.
var registry = buildRegistry([]Permission{
	{Key: "chat.read", Category: "chat", Subcategory: "session", Type: TypeBoolean, IsSystem: true},
	{Key: "chat.write", Category: "chat", Subcategory: "session", Type: TypeBoolean, IsSystem: true},
	{Key: "chat.search", Category: "chat", Subcategory: "search", Type: TypeBoolean, IsSystem: true},
	{Key: "workflow.create", Category: "workflow", Subcategory: "definition", Type: TypeBoolean, IsSystem: true},
	{Key: "workflow.trigger", Category: "workflow", Subcategory: "definition", Type: TypeBoolean, IsSystem: true},
	{Key: "workitem.transition", Category: "workflow", Subcategory: "item", Type: TypeBoolean, IsSystem: true},
	{Key: "workitem.promote", Category: "workflow", Subcategory: "item", Type: TypeLevel, IsSystem: true},
	{Key: "queue.access", Category: "workflow", Subcategory: "queue", Type: TypeScope, IsSystem: true},
	{Key: "sync.peer.manage", Category: "sync", Subcategory: "peer", Type: TypeBoolean, IsSystem: true},
	{Key: "team.invite", Category: "team", Subcategory: "membership", Type: TypeBoolean, IsSystem: false},
	{Key: "team.member.remove", Category: "team", Subcategory: "membership", Type: TypeBoolean, IsSystem: false},
	{Key: "founder.rights", Category: "team", Subcategory: "founder", Type: TypeBoolean, IsSystem: true},
})

func buildRegistry(perms []Permission) map[string]Permission {
	m := make(map[string]Permission, len(perms))
	for _, p := range perms {
		m[p.Key] = p
	}
	return m
}

// KnownPermission reports whether key names a registered permission.
func KnownPermission(key string) bool {
	_, ok := registry[key]
	return ok
}

// Registry returns every declared permission, for admin listings.
func Registry() []Permission {
	out := make([]Permission, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	return out
}

// LookupPermission returns the declared permission for key, if any.
func LookupPermission(key string) (Permission, bool) {
	p, ok := registry[key]
	return p, ok
}

func validateGrants(grants []Grant) error {
	for _, g := range grants {
		if !KnownPermission(g.PermissionKey) {
			return ErrUnknownPermission
		}
	}
	return nil
}
