// Package config loads the server's TOML configuration (§6.1), grounded
// on the teacher's `config.LoginServer`/`DefaultLoginServer`/`LoadLoginServer`
// shape (struct-with-defaults, then overlay a file on disk) but switched
// from `gopkg.in/yaml.v3` to `github.com/pelletier/go-toml/v2`, the format
// spec.md names explicitly.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// GameServerEntry is one chosen-instance handoff target for the auth
// channel's age request reply (§4.D: "age request (→ hand off to Game
// channel host/port for the chosen instance)").
type GameServerEntry struct {
	ID   int    `toml:"id"`
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// CryptKeys holds the six base64 DH parameters the keygen helper produces,
// two per channel (§6.1 "[crypt_keys] six required base64 values").
type CryptKeys struct {
	AuthN string `toml:"auth_n"`
	AuthK string `toml:"auth_k"`
	GameN string `toml:"game_n"`
	GameK string `toml:"game_k"`
	GateN string `toml:"gate_n"`
	GateK string `toml:"gate_k"`
}

// VaultDB selects and configures the persistence backend (§6.1
// "[vault_db] db_type ∈ {none, sqlite, postgres}").
type VaultDB struct {
	DBType   string `toml:"db_type"`
	DSN      string `toml:"dsn"`       // postgres connection string
	Path     string `toml:"path"`      // sqlite file path
}

// Server holds the externally-advertised endpoints and listener binding
// (§6.1 "[server] listen_address, listen_port, file_server_ip,
// auth_server_ip, game_server_ip, api_address, api_port").
type Server struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
	FileServerIP  string `toml:"file_server_ip"`
	AuthServerIP  string `toml:"auth_server_ip"`
	GameServerIP  string `toml:"game_server_ip"`
	APIAddress    string `toml:"api_address"`
	APIPort       int    `toml:"api_port"`
}

// Config is the root document (§6.1).
type Config struct {
	DataRoot       string `toml:"data_root"`
	BuildID        uint32 `toml:"build_id"`
	RestrictLogins bool   `toml:"restrict_logins"`

	Server    Server          `toml:"server"`
	CryptKeys CryptKeys       `toml:"crypt_keys"`
	VaultDB   VaultDB         `toml:"vault_db"`

	AutoCreateAccounts bool              `toml:"auto_create_accounts"`
	GameServers        []GameServerEntry `toml:"game_servers"`

	// PythonInterpreter is the path to an external Python interpreter used
	// to compile Python/*.py into the encrypted Python.pak (§4.G). Empty
	// disables pak compilation; spec.md §6.1 doesn't enumerate this key,
	// but §4.G names the feature as conditional on the operator supplying
	// one, so it needs a home in config to be reachable at all.
	PythonInterpreter string `toml:"python_interpreter"`
}

// Default returns a Config with the same "works out of the box against
// localhost" posture as the teacher's DefaultLoginServer.
func Default() Config {
	return Config{
		DataRoot:           "./data",
		BuildID:            1,
		RestrictLogins:     false,
		AutoCreateAccounts: true,
		Server: Server{
			ListenAddress: "0.0.0.0",
			ListenPort:    14617,
			FileServerIP:  "127.0.0.1",
			AuthServerIP:  "127.0.0.1",
			GameServerIP:  "127.0.0.1",
			APIAddress:    "127.0.0.1",
			APIPort:       14615,
		},
		VaultDB: VaultDB{
			DBType: "none",
		},
	}
}

// Load reads and parses a TOML file at path, overlaying it onto Default().
// A missing file is not an error — the server runs on defaults, matching
// the teacher's "if the file doesn't exist, returns defaults" behavior.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
