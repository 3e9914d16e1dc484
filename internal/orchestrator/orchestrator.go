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

package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SiglumProject/busytex-lazy/internal/bundle"
	"github.com/SiglumProject/busytex-lazy/internal/common"
	"github.com/SiglumProject/busytex-lazy/internal/engine"
	"github.com/SiglumProject/busytex-lazy/internal/fetcher"
	"github.com/SiglumProject/busytex-lazy/internal/store"
)

// DefaultRetryBound is the recommended per-compile retry cap (§4.5, §9
// open-question decision).
const DefaultRetryBound = 3

// missingFileRegexes tokenise engine log lines that report a missing file
// (§4.5 "Missing-file detection").
var missingFileRegexes = []*regexp.Regexp{
	regexp.MustCompile("! LaTeX Error: File `([^']+)' not found"),
	regexp.MustCompile(`! Package .* Error: .*file ([^ ]+)`),
}

// legacyFontExpansionToken marks the log line the Selector's flag tracking
// is sensitive to.
const legacyFontExpansionToken = "Font Warning: Font shape"

// Request is one compile request (§4.5 "S0 init").
type Request struct {
	JobID      string
	Source     string
	MainFile   string
	EngineHint string // "auto", or an explicit engine name
}

// Outcome is the Orchestrator's final, composed result (§7 "Propagation policy").
type Outcome struct {
	OK              bool
	PDF             []byte
	Log             string
	Engine          string
	Reason          string
	Confidence      string
	BundlesLoaded   int
	BytesDownloaded int64
	Retries         int
	PackagesFetched int
}

// Orchestrator is the Compilation Orchestrator component (§4.5).
type Orchestrator struct {
	Bundle     *bundle.Manager
	Fetcher    *fetcher.Fetcher
	Selector   *engine.Selector
	Store      *store.Store
	Runner     Runner
	RetryBound int

	log *logrus.Entry
}

// New constructs an Orchestrator. log may be nil.
func New(bm *bundle.Manager, f *fetcher.Fetcher, sel *engine.Selector, st *store.Store, runner Runner, retryBound int, log *logrus.Entry) *Orchestrator {
	if retryBound <= 0 {
		retryBound = DefaultRetryBound
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Orchestrator{
		Bundle:     bm,
		Fetcher:    f,
		Selector:   sel,
		Store:      st,
		Runner:     runner,
		RetryBound: retryBound,
		log:        log.WithField("component", "orchestrator"),
	}
}

// Compile drives the S0->S1->S2->S3->[S4->S2]*->S_done state machine for
// req, mounting req's closure into fs.
func (o *Orchestrator) Compile(ctx context.Context, req Request, fs EngineFS) (Outcome, error) {
	start := time.Now()

	// S0 init.
	packages := bundle.ExtractPackages(req.Source)
	fp := engine.Fingerprint(req.Source)

	var decision engine.Decision
	if req.EngineHint == "" || req.EngineHint == "auto" {
		d, err := o.Selector.Select(ctx, packages, req.Source, fp)
		if err != nil {
			return Outcome{}, common.NewError(common.KindFatal, "Compile", err)
		}
		decision = d
	} else {
		decision = engine.Decision{Engine: req.EngineHint, Reason: "explicit engine request", Confidence: engine.ConfidenceHigh}
	}
	engineName := decision.Engine
	o.log.WithFields(logrus.Fields{
		"job_id":     req.JobID,
		"engine":     engineName,
		"reason":     decision.Reason,
		"confidence": decision.Confidence,
	}).Info("selected engine")

	closure, err := bundle.ResolveBundles(o.Bundle.Registry, packages, engineName)
	if err != nil {
		return Outcome{}, common.NewError(common.KindFatal, "Compile", err)
	}

	// S1 mount.
	if err := o.Bundle.MountBundles(ctx, closure, fs); err != nil {
		return Outcome{}, common.NewError(common.KindFatal, "Compile", err)
	}
	if err := fs.Write(req.MainFile, []byte(req.Source)); err != nil {
		return Outcome{}, common.NewError(common.KindFatal, "Compile", err)
	}

	attempted := make(map[string]struct{}) // every name already fetched for this compile, whether or not it produced files (§4.5 "Retry bound and termination guarantee")
	var retries int
	var packagesFetched int
	var bytesDownloaded int64
	var lastResult *Result

	for {
		// S2 run.
		result, err := o.runEngine(ctx, engineName, req.MainFile, fs)
		if err != nil {
			return Outcome{}, common.NewError(common.KindEngineFailure, "Compile", err)
		}
		lastResult = result

		// S3 inspect.
		if len(result.PDF) > 0 {
			o.finish(ctx, fp, engineName, true, time.Since(start), result.Log)
			o.recordJob(ctx, req.JobID, engineName, "success", retries, packagesFetched, bytesDownloaded, time.Since(start))
			return Outcome{
				OK: true, PDF: result.PDF, Log: result.Log,
				Engine: engineName, Reason: decision.Reason, Confidence: decision.Confidence,
				BundlesLoaded: len(closure), Retries: retries,
				PackagesFetched: packagesFetched, BytesDownloaded: bytesDownloaded,
			}, nil
		}

		missing := extractMissingFiles(result.Log)
		newlyFetched := false

		if len(missing) > 0 && retries < o.RetryBound {
			for _, missingFile := range missing {
				pkgName, ok := fetcher.ExtractPackageName(missingFile)
				if !ok {
					continue
				}
				if _, done := attempted[pkgName]; done {
					continue
				}
				attempted[pkgName] = struct{}{}

				// S4 recover.
				files, err := o.Fetcher.FetchPackage(ctx, pkgName)
				if err != nil {
					return Outcome{}, common.NewError(common.KindFatal, "Compile", err)
				}
				if len(files) == 0 {
					continue
				}
				packagesFetched++
				newlyFetched = true
				for path, data := range files {
					bytesDownloaded += int64(len(data))
					if err := fs.MkdirAll(parentOf(path)); err != nil {
						o.log.WithError(err).WithField("path", path).Warn("mkdir failed during recovery mount")
						continue
					}
					if err := fs.Write(path, data); err != nil {
						o.log.WithError(err).WithField("path", path).Warn("write failed during recovery mount")
					}
				}
			}
		}

		if !newlyFetched {
			o.finish(ctx, fp, engineName, false, time.Since(start), result.Log)
			o.recordJob(ctx, req.JobID, engineName, "failure", retries, packagesFetched, bytesDownloaded, time.Since(start))
			return Outcome{
				OK: false, Log: result.Log,
				Engine: engineName, Reason: decision.Reason, Confidence: decision.Confidence,
				BundlesLoaded: len(closure), Retries: retries,
				PackagesFetched: packagesFetched, BytesDownloaded: bytesDownloaded,
			}, nil
		}

		retries++
		if retries > o.RetryBound {
			o.finish(ctx, fp, engineName, false, time.Since(start), lastResult.Log)
			o.recordJob(ctx, req.JobID, engineName, "failure", retries, packagesFetched, bytesDownloaded, time.Since(start))
			return Outcome{
				OK: false, Log: lastResult.Log,
				Engine: engineName, Reason: decision.Reason, Confidence: decision.Confidence,
				BundlesLoaded: len(closure), Retries: retries,
				PackagesFetched: packagesFetched, BytesDownloaded: bytesDownloaded,
			}, nil
		}
		// S2 (loop back).
	}
}

func (o *Orchestrator) runEngine(ctx context.Context, engineName, mainFile string, fs EngineFS) (*Result, error) {
	argv := []string{engineName, "-interaction=nonstopmode", "-halt-on-error", mainFile}
	return o.Runner.Run(ctx, argv, fs)
}

func (o *Orchestrator) finish(ctx context.Context, fingerprint, engineName string, success bool, elapsed time.Duration, log string) {
	triggered := containsLegacyFontExpansion(log)
	if err := o.Selector.RecordResult(ctx, fingerprint, engineName, success, float64(elapsed.Milliseconds()), triggered); err != nil {
		o.log.WithError(err).Warn("failed to record engine result")
	}
}

func (o *Orchestrator) recordJob(ctx context.Context, jobID, engineName, status string, retries, packagesFetched int, bytesDownloaded int64, elapsed time.Duration) {
	if jobID == "" {
		return
	}
	job := store.CompileJobModel{
		JobID:           jobID,
		SubmittedAt:     time.Now().Unix(),
		Engine:          engineName,
		Status:          status,
		Retries:         retries,
		BytesDownloaded: bytesDownloaded,
		PackagesFetched: packagesFetched,
		DurationMs:      elapsed.Milliseconds(),
	}
	if err := o.Store.DB.PutCompileJob(ctx, job); err != nil {
		o.log.WithError(err).WithField("job_id", jobID).Warn("failed to persist compile job telemetry")
	}
}

// extractMissingFiles tokenises log for missing-file error lines,
// deduplicated within one S3 pass.
func extractMissingFiles(log string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, re := range missingFileRegexes {
		for _, m := range re.FindAllStringSubmatch(log, -1) {
			name := m[1]
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

func containsLegacyFontExpansion(log string) bool {
	return strings.Contains(log, legacyFontExpansionToken)
}

func parentOf(canonicalPath string) string {
	idx := -1
	for i := len(canonicalPath) - 1; i >= 0; i-- {
		if canonicalPath[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "/"
	}
	return canonicalPath[:idx]
}
