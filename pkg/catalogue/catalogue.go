// Package catalogue loads the external agent prompt catalogue: the
// (system prompt, authorized tools, output schema) bundle for every
// agent-id the orchestrator knows about (SPEC_FULL.md §3, §6.4). The
// catalogue is a YAML file, optionally watched with fsnotify so an
// operator can edit agent prompts without a process restart.
package catalogue

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/internal/validation"
	"github.com/disruption-ops/orchestrator/pkg/schema"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// document is the on-disk shape of the catalogue file.
type document struct {
	Agents []schema.AgentDescriptor `yaml:"agents"`
}

// Catalogue is a concurrency-safe, reloadable registry of
// AgentDescriptors keyed by agent-id. A zero Catalogue is not usable;
// construct one with Load.
type Catalogue struct {
	mu     sync.RWMutex
	agents map[string]schema.AgentDescriptor

	path    string
	watcher *fsnotify.Watcher
	logger  *logrus.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	debounce time.Duration
}

// Load reads path and parses it into a Catalogue. It does not start
// watching the file; call Watch for that.
func Load(path string, logger *logrus.Logger) (*Catalogue, error) {
	if logger == nil {
		logger = logrus.New()
	}
	agents, err := loadAgents(path)
	if err != nil {
		return nil, err
	}
	return &Catalogue{
		agents:   agents,
		path:     path,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}, nil
}

func loadAgents(path string) (map[string]schema.AgentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "catalogue: read %s", path)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "catalogue: parse %s", path)
	}

	agents := make(map[string]schema.AgentDescriptor, len(doc.Agents))
	for _, a := range doc.Agents {
		if a.AgentID == "" {
			return nil, apperrors.New(apperrors.ErrorTypeFatal, fmt.Sprintf("catalogue: entry in %s has no agent_id", path))
		}
		if err := validation.ValidateAgentID(a.AgentID); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "catalogue: entry in %s", path)
		}
		if _, exists := agents[a.AgentID]; exists {
			return nil, apperrors.New(apperrors.ErrorTypeFatal, fmt.Sprintf("catalogue: agent_id %q already registered", a.AgentID))
		}
		agents[a.AgentID] = a
	}
	return agents, nil
}

// Get returns the descriptor for agentID and whether it was found.
func (c *Catalogue) Get(agentID string) (schema.AgentDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[agentID]
	return a, ok
}

// AgentIDs returns every agent-id currently registered.
func (c *Catalogue) AgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	return ids
}

// SafetyAgentIDs returns the subset of agent-ids flagged is_safety_agent.
func (c *Catalogue) SafetyAgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, a := range c.agents {
		if a.IsSafetyAgent {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of registered agents.
func (c *Catalogue) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.agents)
}

// IsAuthorized reports whether agentID's descriptor lists toolName among
// its authorized tools. The Agent Runtime's tool handler does not call
// it: it checks requested tools against its own map built from the same
// AuthorizedTools list.
func (c *Catalogue) IsAuthorized(agentID, toolName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[agentID]
	if !ok {
		return false
	}
	for _, t := range a.AuthorizedTools {
		if t.Name == toolName {
			return true
		}
	}
	return false
}

// Watch starts an fsnotify watch on the catalogue file and reloads it on
// every write/create event, debounced to absorb editor save patterns
// (temp-file-then-rename) that would otherwise fire twice. Watch is
// non-blocking; call Stop to tear it down.
func (c *Catalogue) Watch() error {
	c.mu.Lock()
	if c.watcher != nil {
		c.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.mu.Unlock()
		return apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "catalogue: create watcher")
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		c.mu.Unlock()
		return apperrors.Wrapf(err, apperrors.ErrorTypeFatal, "catalogue: watch %s", c.path)
	}
	c.watcher = watcher
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run()
	return nil
}

// Stop tears down the fsnotify watch started by Watch. Safe to call on a
// Catalogue that was never watched.
func (c *Catalogue) Stop() {
	c.mu.Lock()
	if c.watcher == nil {
		c.mu.Unlock()
		return
	}
	watcher := c.watcher
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.watcher = nil
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
	watcher.Close()
}

func (c *Catalogue) run() {
	defer close(c.doneCh)

	var pendingTimer *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-c.stopCh:
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pendingTimer != nil {
				pendingTimer.Stop()
			}
			pendingTimer = time.NewTimer(c.debounce)
			pendingC = pendingTimer.C

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.WithFields(logging.NewFields().Component("catalogue").ToLogrus()).WithError(err).Warn("catalogue watcher error")

		case <-pendingC:
			pendingC = nil
			c.reload()
		}
	}
}

// reload re-parses the catalogue file and swaps it in atomically on
// success. A parse failure is logged and the previous, already-validated
// catalogue is retained (SPEC_FULL.md's hot-reload feature must never
// leave the system with a half-applied or empty catalogue).
func (c *Catalogue) reload() {
	agents, err := loadAgents(c.path)
	if err != nil {
		c.logger.WithFields(logging.NewFields().Resource("catalogue", c.path).ToLogrus()).WithError(err).
			Warn("catalogue: reload failed, retaining previous catalogue")
		return
	}

	c.mu.Lock()
	c.agents = agents
	c.mu.Unlock()

	c.logger.WithFields(logging.NewFields().Resource("catalogue", c.path).ToLogrus()).
		WithField("agent_count", len(agents)).Info("catalogue: reloaded")
}
