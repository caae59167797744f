// Package settings resolves the effective settings of a task: configured defaults,
// overridden by global settings, overridden by the settings of the task's subject.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/pkg/domain"
)

// Well-known keys.
const (
	KeyMaxBlockerIssues  = "qualitygate.maxBlockerIssues"
	KeyMaxCriticalIssues = "qualitygate.maxCriticalIssues"
	KeyMinCoverage       = "qualitygate.minCoverage"
)

// Defaults are the lowest-precedence values, usually taken from the server config.
type Defaults map[string]string

// Settings is a resolved, read-only view of key/value settings.
type Settings map[string]string

func (s Settings) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// Int returns the value of key, or def when it is absent.
func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", key, err)
	}
	return n, nil
}

// Float returns the value of key, or def when it is absent.
func (s Settings) Float(key string, def float64) (float64, error) {
	v, ok := s[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", key, err)
	}
	return f, nil
}

// Keys returns the keys in lexical order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Loader reads the settings of one task once and caches them for the steps that follow.
type Loader struct {
	repo     repository.SettingsRepository
	defaults Defaults
	task     *domain.Task

	once   sync.Once
	values Settings
	err    error
}

func NewLoader(repo repository.SettingsRepository, defaults Defaults, task *domain.Task) *Loader {
	return &Loader{repo: repo, defaults: defaults, task: task}
}

func (l *Loader) Load(ctx context.Context) (Settings, error) {
	l.once.Do(func() {
		l.values, l.err = l.load(ctx)
	})
	return l.values, l.err
}

func (l *Loader) load(ctx context.Context) (Settings, error) {
	out := Settings{}
	for k, v := range l.defaults {
		out[k] = v
	}
	scopes := []string{repository.GlobalScope}
	if l.task != nil && l.task.SubjectID != "" {
		scopes = append(scopes, l.task.SubjectID)
	}
	for _, scope := range scopes {
		vals, err := l.repo.Get(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load %s settings: %w", scope, err)
		}
		for k, v := range vals {
			out[k] = v
		}
	}
	return out, nil
}
