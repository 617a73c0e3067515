// Package builder implements the Builder Orchestrator: it
// partitions stops into chunks, drives OneToAllSearch/TransferPatternEditor/
// CycleCleaner/TransferPatternIndex for each chunk, and hands the results
// off to ChunkMerger. One Orchestrator builds one chunk at a time in-
// process; RunBuild drives every chunk sequentially for a single-binary
// build, while Enqueue/Worker split the same work across rmq-backed
// worker processes, chunks being independent units of work.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"gorm.io/gorm"

	"github.com/gridhop/transferpatterns/pkg/chunkmerger"
	"github.com/gridhop/transferpatterns/pkg/config"
	"github.com/gridhop/transferpatterns/pkg/cyclecleaner"
	"github.com/gridhop/transferpatterns/pkg/database"
	"github.com/gridhop/transferpatterns/pkg/delayscenario"
	"github.com/gridhop/transferpatterns/pkg/search"
	"github.com/gridhop/transferpatterns/pkg/streetrouter"
	"github.com/gridhop/transferpatterns/pkg/timetableview"
	"github.com/gridhop/transferpatterns/pkg/tpeditor"
	"github.com/gridhop/transferpatterns/pkg/tpindex"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
	"github.com/gridhop/transferpatterns/pkg/util"
)

// maxStoredErrorLength bounds how much of a chunk-build failure message
// is kept in the bookkeeping row; OneToAllSearch/merge errors can wrap
// deeply and a stack-trace-sized string is not useful in a status column.
const maxStoredErrorLength = 2048

const queueName = "transferpatterns-chunk-build"
const defaultSampleGap = 30 * time.Minute

// Orchestrator drives one in-process build: chunk partitioning, per-
// source search/edit/clean, and chunk persistence.
type Orchestrator struct {
	Config *config.Config

	View   timetableview.TimetableView
	Router streetrouter.StreetRouter

	ServiceDate time.Time

	// OutputDir is the build directory chunk files and merged/ are
	// written under.
	OutputDir string

	// GraphFilename names the merged output file under merged/.
	GraphFilename string

	concurrency int
}

// New returns an Orchestrator with default concurrency (4 concurrent
// OneToAllSearch reruns per source, bounding the per-worker fan-out
// across departure samples).
func New(cfg *config.Config, view timetableview.TimetableView, router streetrouter.StreetRouter, serviceDate time.Time, outputDir, graphFilename string) *Orchestrator {
	return &Orchestrator{
		Config:        cfg,
		View:          view,
		Router:        router,
		ServiceDate:   serviceDate,
		OutputDir:     outputDir,
		GraphFilename: graphFilename,
		concurrency:   4,
	}
}

// ChunkStops returns the dense-index-sorted stop subset chunk n of m
// builds: stops[total*(n-1)/m : total*n/m).
func ChunkStops(allStops []*tpmodel.Stop, chunk, chunks int) []*tpmodel.Stop {
	sorted := make([]*tpmodel.Stop, len(allStops))
	copy(sorted, allStops)
	tpmodel.SortStopsByIndex(sorted)

	total := len(sorted)
	lower := total * (chunk - 1) / chunks
	upper := total * chunk / chunks

	return sorted[lower:upper]
}

// BuildChunk runs the full per-chunk pipeline
// and returns the chunk's TransferPatternIndex. Only chunk 1 builds the
// DirectConnectionIndex.
func (o *Orchestrator) BuildChunk(ctx context.Context, chunk, chunks int) (*tpmodel.TransferPatternIndex, error) {
	allStops := o.View.Stops()
	sourceStops := ChunkStops(allStops, chunk, chunks)

	var directIdx *tpmodel.DirectConnectionIndex
	if chunk == 1 {
		directIdx = tpmodel.NewDirectConnectionIndex(o.View.TripPatterns())
	}

	idx := tpmodel.NewTransferPatternIndex(directIdx)

	searchParams := search.Params{
		MaxTransfers:      o.Config.MaxTransfers,
		MaxWalkMetres:     o.Config.MaxWalkDistanceMetres,
		ServiceDate:       o.ServiceDate,
		BoardingDwellSecs: 60,
	}

	sampleGap, err := o.Config.SampleSpacingDuration()
	if err != nil {
		return nil, fmt.Errorf("builder: parsing sample spacing: %w", err)
	}
	if sampleGap <= 0 {
		sampleGap = defaultSampleGap
	}

	minDelay, err := o.Config.DelayScenario.MinDelayDuration()
	if err != nil {
		return nil, fmt.Errorf("builder: parsing min delay: %w", err)
	}

	delayBuilder := delayscenario.NewBuilder(o.Config.DelayScenario, int64(chunk))

	for _, source := range sourceStops {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pattern, err := o.buildOneSource(ctx, source, allStops, searchParams, sampleGap, minDelay, delayBuilder)
		if err != nil {
			return nil, fmt.Errorf("builder: building source %s: %w", source.PrimaryIdentifier, err)
		}

		cyclecleaner.Clean(pattern)

		idx.Put(source, pattern)
	}

	return idx, nil
}

// buildOneSource accumulates a single source stop's transfer pattern:
// sample, search under the static schedule, derive delay scenarios from
// what was observed, then search again under each scenario's overlay.
func (o *Orchestrator) buildOneSource(
	ctx context.Context,
	source *tpmodel.Stop,
	allStops []*tpmodel.Stop,
	params search.Params,
	sampleGap time.Duration,
	minDelay time.Duration,
	delayBuilder *delayscenario.Builder,
) (*tpmodel.TransferPattern, error) {
	samples := departureSamples(o.View, source, sampleGap)

	editor := tpeditor.NewEditor(source)

	o.View.ClearOverlay()
	if err := o.runSamples(ctx, source, allStops, samples, params, editor, nil); err != nil {
		return nil, err
	}

	candidates := candidateDelaysFrom(editor, minDelay)

	scenarios, err := delayBuilder.Build(candidates)
	if err != nil {
		return nil, fmt.Errorf("deriving delay scenarios: %w", err)
	}

	for _, scenario := range scenarios {
		o.View.SetOverlay(timetableview.Overlay{Scenario: scenario})

		if err := o.runSamples(ctx, source, allStops, samples, params, editor, scenario); err != nil {
			o.View.ClearOverlay()
			return nil, err
		}
	}
	o.View.ClearOverlay()

	return editor.Create(), nil
}

// runSamples runs OneToAllSearch for every departure sample, bounding
// concurrency with conc/pool. A search failure for one sample is logged
// and skipped, so that (source, sample) pair is simply not represented;
// only a context cancellation aborts the whole source.
func (o *Orchestrator) runSamples(ctx context.Context, source *tpmodel.Stop, allStops []*tpmodel.Stop, samples []int, params search.Params, editor *tpeditor.Editor, scenario *tpmodel.DelayScenario) error {
	type result struct {
		states map[string][]*search.State
		err    error
	}

	p := pool.NewWithResults[result]().WithContext(ctx).WithMaxGoroutines(o.concurrency)

	for _, sample := range samples {
		sample := sample
		p.Go(func(ctx context.Context) (result, error) {
			states, err := search.OneToAllSearch(ctx, o.View, o.Router, source, sample, allStops, params)
			if err != nil {
				log.Warn().Err(err).Str("source", source.PrimaryIdentifier).Int("sample", sample).Msg("builder: one-to-all search skipped")
				return result{}, nil
			}
			return result{states: states}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.states != nil {
			editor.Add(r.states, scenario)
		}
	}

	return nil
}

// departureSamples enumerates source's scheduled departures, sorted, then
// thinned so consecutive samples are at least gap apart.
func departureSamples(view timetableview.TimetableView, source *tpmodel.Stop, gap time.Duration) []int {
	departures := view.ScheduledDepartures(source)

	secs := make([]int, 0, len(departures))
	for _, d := range departures {
		secs = append(secs, secondsSinceMidnight(d.DepartureAt))
	}
	sort.Ints(secs)

	var samples []int
	last := -1 << 62
	gapSecs := int(gap / time.Second)

	for _, s := range secs {
		if s-last < gapSecs {
			continue
		}
		samples = append(samples, s)
		last = s
	}

	return samples
}

func secondsSinceMidnight(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// candidateDelaysFrom turns the editor's observed max-wait bookkeeping
// into DelayScenarioBuilder candidates: observedMaxWait+1 so the trip
// that was caught under the static schedule is guaranteed missed under
// the scenario, floored at minDelay so a sparsely-observed
// pattern still gets a meaningfully sized perturbation.
func candidateDelaysFrom(editor *tpeditor.Editor, minDelay time.Duration) []delayscenario.CandidateDelay {
	waits := editor.GetPossibleDelays()
	patterns := editor.PossibleDelayPatterns()

	minDelaySecs := int(minDelay / time.Second)

	candidates := make([]delayscenario.CandidateDelay, 0, len(waits))
	for code, wait := range waits {
		delaySecs := wait + 1
		if delaySecs < minDelaySecs {
			delaySecs = minDelaySecs
		}
		candidates = append(candidates, delayscenario.CandidateDelay{
			TripPattern:  patterns[code],
			MinDelaySecs: delaySecs,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].TripPattern.Code < candidates[j].TripPattern.Code
	})

	return candidates
}

// ChunkFilePath returns the on-disk path of chunk n of m under dir.
func ChunkFilePath(dir string, chunk, chunks int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%d_%d", chunk, chunks))
}

// MergedFilePath returns the on-disk path of the merged graph file
// under dir's merged/ subdirectory.
func MergedFilePath(dir, graphFilename string) string {
	return filepath.Join(dir, "merged", graphFilename)
}

// SaveChunk builds and writes chunk n of m to OutputDir.
func (o *Orchestrator) SaveChunk(ctx context.Context, chunk, chunks int) error {
	idx, err := o.BuildChunk(ctx, chunk, chunks)
	if err != nil {
		return err
	}

	path := ChunkFilePath(o.OutputDir, chunk, chunks)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return tpindex.Marshal(f, idx)
}

// RunBuild builds every chunk of a `chunks`-way partition sequentially in
// this process and writes the merged result, the single-binary
// equivalent of running build+merge across separate worker invocations.
func (o *Orchestrator) RunBuild(ctx context.Context, chunks int) error {
	stopsByID := map[string]*tpmodel.Stop{}
	for _, s := range o.View.Stops() {
		stopsByID[s.PrimaryIdentifier] = s
	}
	patternsByCode := map[string]*tpmodel.TripPattern{}
	for _, p := range o.View.TripPatterns() {
		patternsByCode[p.Code] = p
	}

	loaded := make([]*tpmodel.TransferPatternIndex, 0, chunks)

	for n := 1; n <= chunks; n++ {
		if err := o.SaveChunk(ctx, n, chunks); err != nil {
			return fmt.Errorf("builder: building chunk %d of %d: %w", n, chunks, err)
		}

		f, err := os.Open(ChunkFilePath(o.OutputDir, n, chunks))
		if err != nil {
			return err
		}
		idx, err := tpindex.Unmarshal(f, stopsByID, patternsByCode)
		f.Close()
		if err != nil {
			return fmt.Errorf("builder: re-reading chunk %d for merge: %w", n, err)
		}

		loaded = append(loaded, idx)
	}

	merged, err := chunkmerger.Merge(ctx, loaded)
	if err != nil {
		return fmt.Errorf("builder: merging chunks: %w", err)
	}

	mergedPath := MergedFilePath(o.OutputDir, o.GraphFilename)
	if err := os.MkdirAll(filepath.Dir(mergedPath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(mergedPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return tpindex.Marshal(f, merged)
}

// chunkJob is the payload published to the rmq work queue for one chunk.
type chunkJob struct {
	BuildID int `json:"build_id"`
	Chunk   int `json:"chunk"`
	Chunks  int `json:"chunks"`
}

// Enqueue pushes one job per chunk onto the rmq work queue, so separate
// worker processes can each claim a chunk. It also inserts a pending ChunkBuild
// bookkeeping row per chunk so a restarted orchestrator can tell which
// chunks already finished without re-reading chunk files.
func Enqueue(connection rmq.Connection, gormDB *gorm.DB, buildID, chunks int) error {
	queue, err := connection.OpenQueue(queueName)
	if err != nil {
		return err
	}

	for n := 1; n <= chunks; n++ {
		row := database.ChunkBuild{
			BuildID:    buildID,
			ChunkIndex: n,
			ChunkCount: chunks,
			Status:     database.ChunkBuildPending,
		}
		if err := gormDB.Create(&row).Error; err != nil {
			return fmt.Errorf("builder: recording chunk %d bookkeeping: %w", n, err)
		}

		payload, err := json.Marshal(chunkJob{BuildID: buildID, Chunk: n, Chunks: chunks})
		if err != nil {
			return err
		}

		if err := queue.PublishBytes(payload); err != nil {
			return fmt.Errorf("builder: publishing chunk %d job: %w", n, err)
		}
	}

	return nil
}

// Worker consumes chunk-build jobs off the rmq queue and runs them
// against a shared Orchestrator, recording completion/failure in
// Postgres; a failed save marks the chunk's build failed.
type Worker struct {
	Orchestrator *Orchestrator
	GormDB       *gorm.DB
	Name         string
}

// Consume implements rmq.Consumer.
func (w *Worker) Consume(delivery rmq.Delivery) {
	var job chunkJob
	if err := json.Unmarshal([]byte(delivery.Payload()), &job); err != nil {
		log.Error().Err(err).Msg("builder: malformed chunk job payload")
		if err := delivery.Reject(); err != nil {
			log.Error().Err(err).Msg("builder: rejecting malformed chunk job")
		}
		return
	}

	w.markStarted(job)

	ctx := context.Background()
	err := w.Orchestrator.SaveChunk(ctx, job.Chunk, job.Chunks)

	if err != nil {
		log.Error().Err(err).Int("chunk", job.Chunk).Msg("builder: chunk build failed")
		w.markFailed(job, err)
		if ackErr := delivery.Reject(); ackErr != nil {
			log.Error().Err(ackErr).Msg("builder: rejecting failed chunk job")
		}
		return
	}

	w.markComplete(job)
	if err := delivery.Ack(); err != nil {
		log.Error().Err(err).Msg("builder: acking completed chunk job")
	}
}

func (w *Worker) markStarted(job chunkJob) {
	now := time.Now()
	w.GormDB.Model(&database.ChunkBuild{}).
		Where("build_id = ? AND chunk_index = ?", job.BuildID, job.Chunk).
		Updates(map[string]any{"status": database.ChunkBuildRunning, "claimed_by": w.Name, "started_at": now})
}

func (w *Worker) markComplete(job chunkJob) {
	now := time.Now()
	w.GormDB.Model(&database.ChunkBuild{}).
		Where("build_id = ? AND chunk_index = ?", job.BuildID, job.Chunk).
		Updates(map[string]any{
			"status":       database.ChunkBuildComplete,
			"completed_at": now,
			"output_path":  ChunkFilePath(w.Orchestrator.OutputDir, job.Chunk, job.Chunks),
		})
}

func (w *Worker) markFailed(job chunkJob, buildErr error) {
	now := time.Now()
	w.GormDB.Model(&database.ChunkBuild{}).
		Where("build_id = ? AND chunk_index = ?", job.BuildID, job.Chunk).
		Updates(map[string]any{"status": database.ChunkBuildFailed, "completed_at": now, "error": util.TrimString(buildErr.Error(), maxStoredErrorLength)})
}

// StartWorker opens the chunk-build queue and begins consuming jobs
// with worker, one job per chunk.
func StartWorker(connection rmq.Connection, worker *Worker) error {
	queue, err := connection.OpenQueue(queueName)
	if err != nil {
		return err
	}

	if err := queue.StartConsuming(10, time.Second); err != nil {
		return err
	}

	_, err = queue.AddConsumer(worker.Name, worker)
	return err
}
