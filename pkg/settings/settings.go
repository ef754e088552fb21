package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// UserSettings holds persistable client preferences. The file may contain
// comments and trailing commas.
type UserSettings struct {
	SignalURL    string `json:"signalUrl"`
	ConfigServer string `json:"configServer"`
	AuthToken    string `json:"authToken,omitempty"`

	// Capture side (host)
	RTPAddr      string `json:"rtpAddr"`
	Codec        string `json:"codec"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`

	// View side (viewer)
	ViewWidth  int `json:"viewWidth"`
	ViewHeight int `json:"viewHeight"`

	TURNServer string `json:"turnServer,omitempty"`
	TURNUser   string `json:"turnUser,omitempty"`
	TURNPass   string `json:"turnPass,omitempty"`
	ForceRelay bool   `json:"forceRelay,omitempty"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		SignalURL:    "ws://localhost:8080/ws",
		ConfigServer: "http://localhost:8080",
		RTPAddr:      "127.0.0.1:5004",
		Codec:        "vp8",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		ViewWidth:    1280,
		ViewHeight:   720,
	}
}

// Path returns the settings file path.
// Uses XDG_CONFIG_HOME if set, otherwise the platform config directory.
func Path() (string, error) {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "superdesk")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "superdesk")
	}
	return filepath.Join(configDir, "settings.json"), nil
}

// Load reads settings from the settings file.
// A missing file yields the defaults; fields absent from the file keep them.
func Load() (UserSettings, error) {
	settings := DefaultSettings()

	path, err := Path()
	if err != nil {
		return settings, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("parse %s: %w", path, err)
	}
	return settings, nil
}

// Save writes settings to the settings file
func Save(settings UserSettings) error {
	path, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	// Tokens live in this file.
	return os.WriteFile(path, data, 0600)
}
