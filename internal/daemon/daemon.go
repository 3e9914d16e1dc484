// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon implements texlazyd: the long-lived process that owns the
// Store, Bundle Manager, Package Fetcher, Engine Selector and Compilation
// Orchestrator, fronted by a Unix-socket IPC server (§4.7).
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/sirupsen/logrus"

	"github.com/SiglumProject/busytex-lazy/internal/bundle"
	"github.com/SiglumProject/busytex-lazy/internal/config"
	"github.com/SiglumProject/busytex-lazy/internal/engine"
	"github.com/SiglumProject/busytex-lazy/internal/fetcher"
	"github.com/SiglumProject/busytex-lazy/internal/orchestrator"
	"github.com/SiglumProject/busytex-lazy/internal/store"
)

func init() {
	logrus.SetOutput(io.Discard)
}

// Daemon wires together every component and fronts them with an IPC server
// (§4.7 "global state owned by a top-level context created at worker
// startup, not hidden package-level statics").
type Daemon struct {
	Settings *config.Settings

	store   *store.Store
	bundle  *bundle.Manager
	fetch   *fetcher.Fetcher
	sel     *engine.Selector
	orch    *orchestrator.Orchestrator
	ipc     *Server
	lock    *flock.Flock
	log     *logrus.Entry

	mu     sync.Mutex
	jobs   map[string]context.CancelFunc // in-flight compiles, keyed by job ID
	stopCh chan struct{}
}

// New constructs a Daemon from settings. Components are wired in Run, once
// the Store's database connection is available.
func New(settings *config.Settings) *Daemon {
	log := logrus.New()
	if settings.LogLevel != "" {
		log.SetOutput(os.Stderr)
		if lvl, err := logrus.ParseLevel(settings.LogLevel); err == nil {
			log.SetLevel(lvl)
		}
	}
	return &Daemon{
		Settings: settings,
		log:      log.WithField("component", "daemon"),
		jobs:     make(map[string]context.CancelFunc),
		stopCh:   make(chan struct{}),
	}
}

// Run acquires the singleton lock, wires every component, starts the IPC
// server, and blocks until Stop is called or the process receives
// SIGINT/SIGTERM.
func (d *Daemon) Run() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another texlazyd instance is already running")
	}
	defer d.lock.Unlock()

	ctx := context.Background()
	st, err := store.Open(ctx, d.Settings.StoreRoot)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	d.store = st
	defer st.Close()

	reg := bundle.NewRegistry()
	loader := &bundle.RegistryLoader{BaseURL: d.Settings.RegistryBaseURL}
	d.bundle = bundle.NewManager(reg, st, loader, d.log)
	if err := d.bundle.LoadRegistry(ctx); err != nil {
		d.log.WithError(err).Warn("initial registry load failed, will retry lazily per compile")
	}

	d.fetch = fetcher.New(st, d.Settings.ProxyBaseURL, d.log)
	d.sel = engine.New(st)
	d.orch = orchestrator.New(d.bundle, d.fetch, d.sel, st, orchestrator.DefaultRunner(), d.Settings.RetryBound, d.log)

	d.ipc = NewServer(d.Settings.SocketPath, d.handleRequest)
	if err := d.ipc.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer d.ipc.Stop()

	if err := WritePID(); err != nil {
		d.log.WithError(err).Warn("failed to write pid file")
	}
	defer RemovePID()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d.log.Info("texlazyd started")
	select {
	case <-sigCh:
	case <-d.stopCh:
	}
	d.log.Info("texlazyd stopping")
	return nil
}

// Stop signals Run to return.
func (d *Daemon) Stop() {
	close(d.stopCh)
}

func (d *Daemon) handleRequest(req *Request) *Response {
	switch req.Type {
	case RequestCompile:
		return d.handleCompile(req)
	case RequestStatus:
		return &Response{OK: true}
	case RequestStats:
		return d.handleStats(req)
	case RequestCacheClear:
		return d.handleCacheClear(req)
	case RequestRegistrySync:
		return d.handleRegistrySync(req)
	case RequestAliasList:
		return d.handleAliasList(req)
	case RequestInspect:
		return d.handleInspect(req)
	case RequestStop:
		go d.Stop()
		return &Response{OK: true}
	default:
		return &Response{OK: false, Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

// handleCompile runs one compile on its own goroutine-owned EngineFS/Runner
// pair, per §4.7's foreground/worker split. A second request sharing JobID
// cancels any prior in-flight compile with that identity (§5 cancellation
// rule) before starting the new one.
func (d *Daemon) handleCompile(req *Request) *Response {
	var payload CompilePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return &Response{OK: false, Error: fmt.Sprintf("malformed compile payload: %v", err)}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	mainFile := payload.MainFile
	if mainFile == "" {
		mainFile = "/work/main.tex"
	}
	engineHint := req.Engine
	if engineHint == "" {
		engineHint = "auto"
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if prevCancel, ok := d.jobs[jobID]; ok {
		prevCancel()
	}
	d.jobs[jobID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.jobs, jobID)
		d.mu.Unlock()
		cancel()
	}()

	fs := orchestrator.NewBillyEngineFS(memfs.New())
	outcome, err := d.orch.Compile(ctx, orchestrator.Request{
		JobID:      jobID,
		Source:     payload.Source,
		MainFile:   mainFile,
		EngineHint: engineHint,
	}, fs)
	if err != nil {
		return &Response{OK: false, JobID: jobID, Error: err.Error()}
	}

	result := CompileResultPayload{
		PDF:             outcome.PDF,
		Log:             outcome.Log,
		Engine:          outcome.Engine,
		Reason:          outcome.Reason,
		Confidence:      outcome.Confidence,
		Retries:         outcome.Retries,
		PackagesFetched: outcome.PackagesFetched,
		BytesDownloaded: outcome.BytesDownloaded,
	}
	rawPayload, _ := json.Marshal(result)
	return &Response{OK: outcome.OK, JobID: jobID, Payload: rawPayload}
}

func (d *Daemon) handleStats(req *Request) *Response {
	ctx := context.Background()
	jobs, err := d.store.DB.RecentCompileJobs(ctx, 50)
	if err != nil {
		return &Response{OK: false, Error: err.Error()}
	}
	raw, _ := json.Marshal(jobs)
	return &Response{OK: true, Payload: raw}
}

func (d *Daemon) handleCacheClear(req *Request) *Response {
	d.bundle.ClearCache()
	return &Response{OK: true}
}

func (d *Daemon) handleRegistrySync(req *Request) *Response {
	ctx := context.Background()
	if err := d.bundle.LoadRegistry(ctx); err != nil {
		return &Response{OK: false, Error: err.Error()}
	}
	return &Response{OK: true}
}

func (d *Daemon) handleAliasList(req *Request) *Response {
	ctx := context.Background()
	aliases, err := d.store.DB.GetAliases(ctx)
	if err != nil {
		return &Response{OK: false, Error: err.Error()}
	}
	raw, _ := json.Marshal(aliases)
	return &Response{OK: true, Payload: raw}
}

// handleInspect resolves req.Path against the registry's file manifest,
// locating which bundle (and byte extent within it) a canonical TeX tree
// path lives in without mounting anything.
func (d *Daemon) handleInspect(req *Request) *Response {
	if req.Path == "" {
		return &Response{OK: false, Error: "inspect requires a path"}
	}
	entry, ok := d.bundle.Registry.FileManifestEntryFor(req.Path)
	if !ok {
		return &Response{OK: false, Error: fmt.Sprintf("no file manifest entry for %q", req.Path)}
	}
	raw, _ := json.Marshal(InspectResultPayload{Bundle: entry.Bundle, Start: entry.Start, End: entry.End})
	return &Response{OK: true, Payload: raw}
}
