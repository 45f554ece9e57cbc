package rbac

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	RoleStudent: {
		"course:view",
		"attempt:submit",
		"attempt:view-own",
		"payment:initialize",
		"payment:verify",
		"payment:view-own",
	},
	RoleAdmin: {
		"*",
	},
}
