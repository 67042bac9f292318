package security

// DefaultDisallowedCommands returns the built-in blocklist applied when the
// operator does not configure one. Each call returns a fresh slice so callers
// can extend it without touching shared state.
//
// The set covers host-application commands that destroy data, block waiting
// for interactive input, start servers, touch credentials, or write source
// files on the agent host.
func DefaultDisallowedCommands() []string {
	return []string{
		// database destruction
		"flush",
		"sqlflush",
		"reset_db",

		// interactive shells, would hang waiting for input
		"shell",
		"shell_plus",
		"dbshell",

		// development servers, would block the agent
		"runserver",
		"runserver_plus",
		"testserver",

		// credential-sensitive
		"createsuperuser",
		"changepassword",

		// file system modifications
		"makemigrations",
		"squashmigrations",

		// dangerous third-party commands
		"drop_test_database",
		"delete_squashed_migrations",
		"clean_pyc",
	}
}
