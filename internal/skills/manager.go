// SPDX-License-Identifier: AGPL-3.0-only
package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/logging"
)

// debounceWindow is the per-skill-subtree settle time before a
// filesystem change triggers a reload, fixing the original watcher's
// complete lack of debouncing (see DESIGN.md).
const debounceWindow = 250 * time.Millisecond

// manifestFilename is the well-known manifest file inside each skill
// directory.
const manifestFilename = "SKILL.md"

// Manager discovers, loads, watches, and atomically republishes the
// skill catalogue and its derived tool registry.
type Manager struct {
	root string
	log  *logging.Logger

	skills atomic.Pointer[map[string]*chatmodel.Skill]
	tools  atomic.Pointer[map[string]chatmodel.ToolDefinition]

	mu      sync.Mutex // guards watcher/timers bookkeeping below, never the hot read path
	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer // skill directory -> pending-reload timer

	bridge mcpBridge // overridable in tests
}

// NewManager builds a Manager rooted at root. Call LoadAll to perform
// the initial load and Watch to start hot-reloading.
func NewManager(root string) *Manager {
	m := &Manager{
		root:   root,
		log:    logging.GetDefaultLogger().WithField("component", "skills"),
		timers: map[string]*time.Timer{},
		bridge: loadMCPTools,
	}
	empty := map[string]*chatmodel.Skill{}
	emptyTools := map[string]chatmodel.ToolDefinition{}
	m.skills.Store(&empty)
	m.tools.Store(&emptyTools)
	return m
}

// Skills returns a stable snapshot of the current skill catalogue.
func (m *Manager) Skills() map[string]*chatmodel.Skill {
	return *m.skills.Load()
}

// Tools returns a stable snapshot of the derived tool registry.
// Readers never block writers and vice versa; an in-flight agent run
// holding a reference from before a reload keeps seeing the old map.
func (m *Manager) Tools() map[string]chatmodel.ToolDefinition {
	return *m.tools.Load()
}

// SystemPrompts concatenates the system_prompt of every enabled skill,
// in a stable (name-sorted) order, for §4.4's Building state.
func (m *Manager) SystemPrompts() []string {
	snapshot := m.Skills()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sortStrings(names)

	prompts := make([]string, 0, len(names))
	for _, name := range names {
		if sp := snapshot[name].SystemPrompt; sp != "" {
			prompts = append(prompts, sp)
		}
	}
	return prompts
}

// SkillDirForTool returns the SourcePath of the skill that owns
// toolName, so a caller executing the tool can pass it as
// internal/toolexec.Executor's sandbox root.
func (m *Manager) SkillDirForTool(toolName string) (string, bool) {
	for _, s := range m.Skills() {
		for _, t := range s.Tools {
			if t.Name == toolName {
				return s.SourcePath, true
			}
		}
	}
	return "", false
}

// LoadAll enumerates immediate subdirectories of root and loads each
// as a skill, per §4.5's load algorithm. Parse failures are logged and
// skipped; they never fail the whole load.
func (m *Manager) LoadAll() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("read skills root %s: %w", m.root, err)
	}

	skillMap := map[string]*chatmodel.Skill{}
	toolMap := map[string]chatmodel.ToolDefinition{}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		skill, tools, err := m.loadSkillDir(dir)
		if err != nil {
			m.log.Warnf("skip skill %s: %v", dir, err)
			continue
		}
		if existing, ok := skillMap[skill.Name]; ok {
			m.log.Warnf("skill name %q loaded from %s shadows earlier load from %s", skill.Name, dir, existing.SourcePath)
		}
		skillMap[skill.Name] = skill
		for _, t := range tools {
			if _, dup := toolMap[t.Name]; dup {
				m.log.Warnf("tool name %q from skill %q collides with an earlier skill's tool; later load wins", t.Name, skill.Name)
			}
			toolMap[t.Name] = t
		}
	}

	m.skills.Store(&skillMap)
	m.tools.Store(&toolMap)
	return nil
}

func (m *Manager) loadSkillDir(dir string) (*chatmodel.Skill, []chatmodel.ToolDefinition, error) {
	manifestPath := filepath.Join(dir, manifestFilename)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	man, err := ParseManifest(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}

	tools := man.toolDefinitions()
	seen := map[string]bool{}
	for i := range tools {
		if seen[tools[i].Name] {
			return nil, nil, fmt.Errorf("duplicate tool name %q within skill %q", tools[i].Name, man.Name)
		}
		seen[tools[i].Name] = true

		resolved, err := resolveToolCommand(dir, tools[i].Implementation.Command)
		if err != nil {
			m.log.Warnf("skill %q tool %q: %v", man.Name, tools[i].Name, err)
			continue
		}
		tools[i].Implementation.Command = resolved
	}

	if man.MCPServer != nil {
		bridged, err := m.bridge(*man.MCPServer)
		if err != nil {
			m.log.Warnf("skill %q: mcp_server bridge: %v", man.Name, err)
		} else {
			tools = append(tools, bridged...)
		}
	}

	skill := &chatmodel.Skill{
		Name:         man.Name,
		Version:      man.Version,
		Description:  man.Description,
		SystemPrompt: man.SystemPrompt,
		SourcePath:   dir,
	}
	for _, t := range tools {
		skill.Tools = append(skill.Tools, t)
	}
	return skill, tools, nil
}

// resolveToolCommand resolves command against dir and requires the
// canonicalized result to remain inside dir, matching the
// containment guarantee internal/toolexec re-checks at execution
// time; resolving it here too means a misconfigured manifest is
// caught at load time rather than surfacing only on first invocation.
func resolveToolCommand(dir, command string) (string, error) {
	if command == "" {
		return "", nil
	}
	joined := command
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(dir, command)
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", fmt.Errorf("resolve command %q: %w", command, err)
	}
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolve skill directory %q: %w", dir, err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || (len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("command %q resolves outside skill directory %s", command, dir)
	}
	return resolved, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Watch starts the filesystem watcher and blocks, debouncing reloads
// per skill subtree, until ctx is done. Call it in its own goroutine.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	if err := watcher.Add(m.root); err != nil {
		return fmt.Errorf("watch skills root: %w", err)
	}
	for name := range m.Skills() {
		skill := m.Skills()[name]
		if skill != nil {
			watcher.Add(skill.SourcePath)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warnf("watch error: %v", err)
		}
	}
}

func (m *Manager) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() && filepath.Dir(event.Name) == m.root && event.Op&fsnotify.Create != 0 {
		// Re-arm the watcher for a newly created skill directory.
		watcher.Add(event.Name)
	}

	skillDir := m.subtreeOf(event.Name)
	if skillDir == "" {
		return
	}
	m.scheduleReload(skillDir)
}

// subtreeOf returns the immediate skill subdirectory (directly under
// root) that path falls under, or "" if path is not under any skill
// subtree.
func (m *Manager) subtreeOf(path string) string {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." {
		return ""
	}
	first := rel
	if idx := indexOfSeparator(rel); idx >= 0 {
		first = rel[:idx]
	}
	if first == ".." || first == "" {
		return ""
	}
	return filepath.Join(m.root, first)
}

func indexOfSeparator(s string) int {
	for i, r := range s {
		if r == filepath.Separator {
			return i
		}
	}
	return -1
}

// scheduleReload resets (or creates) the debounce timer for dir, so
// a burst of filesystem events settles into exactly one reload.
func (m *Manager) scheduleReload(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[dir]; ok {
		t.Stop()
	}
	m.timers[dir] = time.AfterFunc(debounceWindow, func() {
		m.reloadOne(dir)
	})
}

// reloadOne reloads a single skill subtree and publishes a new
// combined snapshot via atomic pointer swap, per §4.5's watch
// algorithm: other skills' entries are carried over unchanged so a
// reload of one skill never tears another's in-flight tool lookups.
func (m *Manager) reloadOne(dir string) {
	name := filepath.Base(dir)

	newSkillMap := copySkills(m.Skills())
	newToolMap := map[string]chatmodel.ToolDefinition{}
	for toolName, def := range m.Tools() {
		if !belongsTo(newSkillMap, dir, toolName) {
			newToolMap[toolName] = def
		}
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		m.removeSkillByDir(newSkillMap, dir)
		m.skills.Store(&newSkillMap)
		m.tools.Store(&newToolMap)
		m.log.Infof("skill removed: %s", dir)
		return
	}

	skill, tools, err := m.loadSkillDir(dir)
	if err != nil {
		m.log.Warnf("reload skill %s: %v", dir, err)
		return
	}
	m.removeSkillByDir(newSkillMap, dir)
	newSkillMap[skill.Name] = skill
	for _, t := range tools {
		newToolMap[t.Name] = t
	}

	m.skills.Store(&newSkillMap)
	m.tools.Store(&newToolMap)
	m.log.Infof("skill reloaded: %s (%s)", name, skill.Name)
}

func copySkills(in map[string]*chatmodel.Skill) map[string]*chatmodel.Skill {
	out := make(map[string]*chatmodel.Skill, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *Manager) removeSkillByDir(skillMap map[string]*chatmodel.Skill, dir string) {
	for name, s := range skillMap {
		if s.SourcePath == dir {
			delete(skillMap, name)
		}
	}
}

func belongsTo(skillMap map[string]*chatmodel.Skill, dir, toolName string) bool {
	for _, s := range skillMap {
		if s.SourcePath != dir {
			continue
		}
		for _, t := range s.Tools {
			if t.Name == toolName {
				return true
			}
		}
	}
	return false
}
