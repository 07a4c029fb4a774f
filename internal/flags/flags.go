// File: internal/flags/flags.go
package flags

// Centralized definitions for CLI flags used across the application

const (
	// Config flags point the CLI at a config file other than the default one
	Config      = "config"
	ConfigShort = "c"

	// Timeout flags bound each storage operation, overriding the configured timeout
	Timeout = "timeout"

	// Output flags name the file an object is written to instead of stdout
	Output      = "output"
	OutputShort = "o"

	// Range flags select bytes start-end of an object (end exclusive)
	Range = "range"
	// Suffix flags select the last N bytes of an object
	Suffix = "suffix"

	// IfNotExists flags make writes fail instead of replacing an existing object
	IfNotExists = "if-not-exists"

	// PartSize flags set the multipart chunk size, e.g. "8MiB"
	PartSize = "part-size"

	ContentType = "content-type"

	// Recursive flags apply an operation to every object below a prefix
	Recursive      = "recursive"
	RecursiveShort = "r"

	// Force flags are used to bypass interactive confirmation prompts for destructive operations
	Force      = "force"
	ForceShort = "f"

	// Debug flags are used to enable verbose logging
	Debug      = "debug"
	DebugShort = "d"
)
