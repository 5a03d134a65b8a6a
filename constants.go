package main

// Server configuration constants
const (
	// MCP server name
	ServerName = "claude-server"
	// Server version following semantic versioning
	ServerVersion = "0.2.0"
	// Environment variable prefix for configuration overrides
	EnvPrefix = "CONTEXTMCP"
	// Directory under $HOME searched for config.{yaml,json,toml}
	ConfigDirName = ".contextmcp"
	// Default storage root under $HOME
	DefaultRootDirName = ".claude"
)

// UI/CLI messages
const (
	PromptStr     = "context> "
	WelcomeMsg    = "=== contextmcp Test Mode ==="
	HelpMsg       = "Commands: save-project <projectId> <id> <content> | save-conv <sessionId> <id> <content> | get <id> [projectId] | list [projectId=..] [tag=..] [type=..] | history <id> [projectId] | reindex | exit"
	UnknownCmdMsg = "Unknown command. Try: save-project, save-conv, get, list, history, reindex, exit"
)
