package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// WorkspaceFile is the TOML document listing the workspaces to seed at start-up.
//
//	[[workspace]]
//	id = "tokyo"
//	name = "Tokyo office"
//	timezone = "Asia/Tokyo"
//	window_start_hour = 8
//	window_end_hour = 20
//	granularity_minutes = 15
//
//	  [[workspace.member]]
//	  user_id = "user-001"
//	  role = "ADMIN"
type WorkspaceFile struct {
	Workspaces []WorkspaceSeed `toml:"workspace"`
}

// WorkspaceSeed describes one workspace and its members.
type WorkspaceSeed struct {
	ID                 string       `toml:"id"`
	Name               string       `toml:"name"`
	Timezone           string       `toml:"timezone"`
	WindowStartHour    int          `toml:"window_start_hour"`
	WindowEndHour      int          `toml:"window_end_hour"`
	GranularityMinutes int          `toml:"granularity_minutes"`
	Members            []MemberSeed `toml:"member"`
}

// MemberSeed is a workspace membership. Inactive members keep their row but
// lose access.
type MemberSeed struct {
	UserID   string `toml:"user_id"`
	Role     string `toml:"role"`
	Inactive bool   `toml:"inactive"`
}

// LoadWorkspaceFile decodes the workspace seed file at path. Unknown keys are
// rejected so that typos do not silently drop settings.
func LoadWorkspaceFile(path string) (WorkspaceFile, error) {
	var file WorkspaceFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return WorkspaceFile{}, fmt.Errorf("ワークスペース設定を読み込めません: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return WorkspaceFile{}, fmt.Errorf("ワークスペース設定に不明なキーがあります: %s", strings.Join(keys, ", "))
	}

	seen := make(map[string]struct{}, len(file.Workspaces))
	for i, ws := range file.Workspaces {
		if strings.TrimSpace(ws.ID) == "" {
			return WorkspaceFile{}, fmt.Errorf("ワークスペース設定 %d 番目の id が空です", i+1)
		}
		if _, dup := seen[ws.ID]; dup {
			return WorkspaceFile{}, fmt.Errorf("ワークスペース %q が重複しています", ws.ID)
		}
		seen[ws.ID] = struct{}{}
	}
	return file, nil
}
