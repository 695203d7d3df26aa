/*
 * Copyright 2022 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileProvider watches a config file on disk for resources.
type FileProvider struct {
	configFilePath string
}

// NewFileProvider creates a new FileProvider.
func NewFileProvider(configFilePath string) *FileProvider {
	return &FileProvider{configFilePath: configFilePath}
}

// Run watches the config file and sends the parsed configuration on the
// returned channel, once at startup and then on every change. The error
// channel receives at most one error, after which the provider has given up.
func (p *FileProvider) Run(ctx context.Context, base *log.Logger) (<-chan *Config, <-chan error) {
	configCh := make(chan *Config, 1)
	errorCh := make(chan error, 1)

	logger := base.WithFields(log.Fields{
		"component":   "FileProvider",
		"config_file": p.configFilePath,
	})

	go func() {
		defer close(configCh)
		defer close(errorCh)

		reloadEventCh := make(chan struct{}, 1)
		watcherErrorCh := make(chan error, 1)
		go p.runFileWatch(ctx, logger, reloadEventCh, watcherErrorCh)

		for {
			select {
			case <-reloadEventCh:
				config, err := p.loadFile()
				if err != nil {
					// A bad write is retried on the next change; keep serving
					// the previous config.
					logger.WithError(err).Warn("failed to load config file")
					continue
				}
				configCh <- config
			case err := <-watcherErrorCh:
				errorCh <- fmt.Errorf("failed to watch config file %s: %w", p.configFilePath, err)
				return
			case <-ctx.Done():
				logger.Debug("Exiting: context cancelled")
				return
			}
		}
	}()

	return configCh, errorCh
}

func (p *FileProvider) loadFile() (*Config, error) {
	fileBytes, err := os.ReadFile(p.configFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromYAML(fileBytes)
}

// runFileWatch runs a loop that watches the config file for changes and
// sends an event on the provided channel on each change. Transient watch
// failures are retried with exponential backoff.
func (p *FileProvider) runFileWatch(
	ctx context.Context,
	logger *log.Entry,
	reloadEventCh chan<- struct{},
	errorCh chan<- error,
) {
	defer close(errorCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errorCh <- fmt.Errorf("failed to create file watcher: %w", err)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.WithError(err).Warn("failed to close watcher successfully")
		}
	}()

	backOff := backoff.NewExponentialBackOff()
	err = backoff.Retry(func() error {
		if err := watcher.Add(p.configFilePath); err != nil {
			logger.WithError(err).Warn("failed to watch file")
			return err
		}
		defer func() {
			if err := watcher.Remove(p.configFilePath); err != nil {
				logger.WithError(err).Warn("failed to remove watch")
			}
		}()

		backOff.Reset()

		// Load the initial file contents.
		reloadEventCh <- struct{}{}

		for {
			select {
			case <-ctx.Done():
				logger.Debug("Exiting: context cancelled")
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return fmt.Errorf("watch event channel closed")
				}

				if event.Op&fsnotify.Remove == fsnotify.Remove {
					return backoff.Permanent(fmt.Errorf("config file was removed"))
				}
				if event.Op&fsnotify.Rename == fsnotify.Rename {
					return backoff.Permanent(fmt.Errorf("config file was renamed"))
				}

				isCreate := event.Op&fsnotify.Create == fsnotify.Create
				isWrite := event.Op&fsnotify.Write == fsnotify.Write
				if !(isCreate || isWrite) {
					continue
				}

				// Wait for a bit before reading the file because of potential
				// races between receiving the event and the write actually
				// being reflected on disk.
				time.Sleep(100 * time.Millisecond)

				select {
				case reloadEventCh <- struct{}{}:
				default:
					// A reload is already pending.
				}
			}
		}
	}, backOff)
	if err != nil {
		errorCh <- err
	}
}
