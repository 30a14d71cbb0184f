package collab

// UserConfigEntry names one category of per-application state the original
// system knows how to back up and restore, and where it lives under the
// session user's home directory. The core only carries this catalog as
// ambient metadata — actually backing up ssh keys, gpg keyrings, browser
// bookmarks or a desktop dconf dump is per-application logic spec.md
// explicitly excludes (Non-goal). The catalog is handed to a
// UserConfigBackup collaborator, which does the real work.
type UserConfigEntry struct {
	// Name identifies the category, e.g. "ssh", "gpg", "browser-bookmarks".
	Name string
	// SourcePath is relative to the session user's home directory.
	SourcePath string
	// ExcludePatterns is applied by the collaborator when copying
	// SourcePath; e.g. VPN profiles are excluded from network-connection
	// backups so they don't leak between devices.
	ExcludePatterns []string
}

// UserConfigCatalog is the default set of categories, grounded on the
// original system's per-application backup list: ssh keys, a gpg keyring,
// browser bookmarks, a desktop settings (dconf) dump, network connection
// profiles with VPNs excluded, and password-manager configuration.
func UserConfigCatalog() []UserConfigEntry {
	return []UserConfigEntry{
		{Name: "ssh", SourcePath: ".ssh"},
		{Name: "gpg", SourcePath: ".gnupg"},
		{Name: "browser-bookmarks", SourcePath: ".config/browser-profile"},
		{Name: "desktop-settings", SourcePath: ".config/dconf-dump.ini"},
		{Name: "network-connections", SourcePath: ".config/network-connections", ExcludePatterns: []string{"*vpn*"}},
		{Name: "password-manager", SourcePath: ".config/password-manager"},
	}
}

// UserConfigBackup is the collaborator that actually performs per-
// application backup/restore for one catalog entry. The core never
// implements Backup/Restore itself.
type UserConfigBackup interface {
	Backup(entry UserConfigEntry, home, destDir string) error
	Restore(entry UserConfigEntry, srcDir, home string) error
}
