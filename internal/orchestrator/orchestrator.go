// Package orchestrator is C10: the six-step embed→retrieve→rerank→reason
// workflow a Worker runs for one job. Step structure and key-building
// conventions are grounded on original_source/NexusScienceOrchestratorLambda's
// ScienceOrchestratorService.map_control (embed, get_framework_controls,
// retrieve, rerank, build_mappings), translated from its synchronous Lambda
// handler shape into a context-bound Go workflow; S5's bounded fan-out is
// grounded on the teacher's internal/events/producer.go errgroup usage.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nexuscompliance/mapping-engine/internal/agentclient"
	"github.com/nexuscompliance/mapping-engine/internal/config"
	"github.com/nexuscompliance/mapping-engine/internal/controlstore"
	"github.com/nexuscompliance/mapping-engine/internal/events"
	"github.com/nexuscompliance/mapping-engine/internal/keycodec"
	"github.com/nexuscompliance/mapping-engine/internal/pipelineerr"
	"github.com/nexuscompliance/mapping-engine/internal/policy"
	"github.com/nexuscompliance/mapping-engine/internal/scienceclient"
	"github.com/nexuscompliance/mapping-engine/internal/store"
	"github.com/nexuscompliance/mapping-engine/internal/store/model"
	"github.com/nexuscompliance/mapping-engine/internal/telemetry"
)

// Orchestrator runs the mapping workflow for a single job to completion,
// writing exactly one terminal JobStore write per run (I5).
type Orchestrator struct {
	jobs         store.Job
	enrichment   store.EnrichmentCache
	embeddings   store.EmbeddingCache
	controlStore controlstore.Client
	science      scienceclient.Client
	agent        agentclient.Client
	dropPolicy   *policy.Validator
	cfg          *config.PipelineConfig
	tracer       *telemetry.Tracer
	// events is the audit trail producer; nil is valid and simply skips
	// emission (audit events are never on the correctness path).
	events *events.EventProducer
}

func New(
	jobs store.Job,
	enrichment store.EnrichmentCache,
	embeddings store.EmbeddingCache,
	controlStore controlstore.Client,
	science scienceclient.Client,
	agent agentclient.Client,
	dropPolicy *policy.Validator,
	cfg *config.PipelineConfig,
	producer *events.EventProducer,
) *Orchestrator {
	return &Orchestrator{
		jobs:         jobs,
		enrichment:   enrichment,
		embeddings:   embeddings,
		controlStore: controlStore,
		science:      science,
		agent:        agent,
		dropPolicy:   dropPolicy,
		cfg:          cfg,
		tracer:       telemetry.NewTracer("orchestrator"),
		events:       producer,
	}
}

// emit writes an audit event best-effort; failures are logged, never fatal.
func (o *Orchestrator) emit(ctx context.Context, kind string, v any) {
	if o.events == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := o.events.Write(ctx, kind, bytes.NewReader(payload)); err != nil {
		o.tracer.WithContext(ctx).Operation("emit").Build().Error(err).Log()
	}
}

// runState carries values threaded between steps within a single run.
type runState struct {
	job                *model.Job
	sourceText         string
	enrichmentDegraded bool
}

// Run executes S1 through S6 (or Fail) for jobID and performs the single
// terminal JobStore write for this run.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	op := o.tracer.WithContext(ctx).Operation("Run").WithUUID("jobId", jobID).Build()

	budgetCtx, cancel := context.WithTimeout(ctx, o.cfg.WorkflowBudget)
	defer cancel()

	mappings, err := o.runWorkflow(budgetCtx, jobID)
	if err != nil {
		message := classify(budgetCtx, err)
		op.Step("fail").WithString("message", message).Log()
		if markErr := o.jobs.MarkFailed(ctx, jobID, message); markErr != nil && !errors.Is(markErr, store.ErrConflict) {
			op.Error(markErr).Log()
			return markErr
		}
		o.emit(ctx, events.JobTerminalMessageKind, events.JobTerminalEvent{JobID: jobID.String(), Status: string(model.JobStatusFailed), ErrorMessage: message})
		return nil
	}

	if err := o.jobs.MarkCompleted(ctx, jobID, mappings); err != nil && !errors.Is(err, store.ErrConflict) {
		op.Error(err).Log()
		return err
	}
	o.emit(ctx, events.JobTerminalMessageKind, events.JobTerminalEvent{JobID: jobID.String(), Status: string(model.JobStatusCompleted), MappingCount: len(mappings)})
	op.Success().Log()
	return nil
}

// classify maps a workflow error to the fixed client-visible taxonomy
// message of spec.md §7, preferring WorkflowTimeout when the run's own
// budget (not a per-RPC timeout) is what actually expired.
func classify(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return pipelineerr.Message(pipelineerr.KindWorkflowTimeout)
	}
	var tagged *pipelineerr.Error
	if errors.As(err, &tagged) {
		return pipelineerr.Message(tagged.Kind)
	}
	return pipelineerr.Message(pipelineerr.KindInternal)
}

func (o *Orchestrator) runWorkflow(ctx context.Context, jobID uuid.UUID) ([]model.Candidate, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}
	state := &runState{job: job}

	if err := o.validateSource(ctx, state); err != nil {
		return nil, err
	}
	if err := o.prepareSourceText(ctx, state); err != nil {
		return nil, err
	}

	targetFramework, err := keycodec.ParseFrameworkKey(job.TargetFrameworkKey)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindMalformedKey, err)
	}

	candidates, err := o.candidateSet(ctx, state, targetFramework)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []model.Candidate{}, nil
	}

	sourceVector, err := o.sourceEmbedding(ctx, state)
	if err != nil {
		return nil, err
	}

	survivors, err := o.targetEmbeddings(ctx, state, candidates)
	if err != nil {
		return nil, err
	}
	if len(survivors) == 0 {
		return []model.Candidate{}, nil
	}

	retrieved, err := o.retrieve(ctx, sourceVector, survivors)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		return []model.Candidate{}, nil
	}

	reranked, err := o.rerank(ctx, state.sourceText, retrieved)
	if err != nil {
		return nil, err
	}
	if len(reranked) == 0 {
		return []model.Candidate{}, nil
	}

	mappings := o.reason(ctx, state, reranked)
	sortMappings(mappings)
	return mappings, nil
}

// S1 ValidateSource.
func (o *Orchestrator) validateSource(ctx context.Context, state *runState) error {
	if _, err := o.controlStore.GetControl(ctx, state.job.SourceControlKey); err != nil {
		if errors.Is(err, controlstore.ErrNotFound) {
			return pipelineerr.New(pipelineerr.KindSourceMissing, err)
		}
		return pipelineerr.New(pipelineerr.KindInternal, err)
	}
	return nil
}

// S2 PrepareSourceText / S3 Enrich (conditional). A cached entry written
// under a different enrichmentVersion counts as a miss.
func (o *Orchestrator) prepareSourceText(ctx context.Context, state *runState) error {
	entry, err := o.enrichment.Get(ctx, state.job.SourceControlKey)
	if err == nil && entry.EnrichmentVersion == o.cfg.EnrichmentVersion {
		state.sourceText = entry.EnrichedText
		return nil
	}
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return pipelineerr.New(pipelineerr.KindInternal, err)
	}

	control, err := o.controlStore.GetControl(ctx, state.job.SourceControlKey)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindInternal, err)
	}

	result, err := o.agent.Enrich(ctx, agentclient.EnrichRequest{
		FrameworkName:    control.FrameworkName,
		FrameworkVersion: control.FrameworkVersion,
		ShortID:          control.ControlID,
		Title:            control.Title,
		Description:      control.Description,
	})
	if err != nil {
		// Non-fatal: fall back to the raw description and record degradation.
		state.sourceText = control.Description
		state.enrichmentDegraded = true
		o.emit(ctx, events.EnrichmentDegradedMessageKind, events.EnrichmentDegradedEvent{JobID: state.job.ID.String(), SourceControlKey: state.job.SourceControlKey})
		return nil
	}

	state.sourceText = result.EnrichedText
	_ = o.enrichment.Put(ctx, model.EnrichmentEntry{
		ControlKey:        state.job.SourceControlKey,
		EnrichedText:      result.EnrichedText,
		EnrichmentVersion: o.cfg.EnrichmentVersion,
	})
	return nil
}

type candidate struct {
	controlKey string
	controlID  string
	text       string
	vector     []float64
}

// S4.2 Candidate set.
func (o *Orchestrator) candidateSet(ctx context.Context, state *runState, targetFramework keycodec.FrameworkKey) ([]candidate, error) {
	framework, err := o.controlStore.GetFramework(ctx, targetFramework.String())
	if err != nil {
		if errors.Is(err, controlstore.ErrNotFound) {
			return nil, pipelineerr.New(pipelineerr.KindFrameworkMissing, err)
		}
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}

	ids := framework.ControlIDs
	filter, err := state.job.TargetControlIDs()
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}
	if len(filter) > 0 {
		allowed := make(map[string]bool, len(filter))
		for _, id := range filter {
			allowed[id] = true
		}
		filtered := make([]string, 0, len(ids))
		for _, id := range ids {
			if allowed[id] {
				filtered = append(filtered, id)
			}
		}
		ids = filtered
	}

	candidates := make([]candidate, 0, len(ids))
	for _, id := range ids {
		ck, err := keycodec.BuildControlKey(targetFramework, id)
		if err != nil {
			continue
		}
		control, err := o.controlStore.GetControl(ctx, ck.String())
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{controlKey: ck.String(), controlID: id, text: control.Description})
	}
	return candidates, nil
}

// S4.1 Source embedding.
func (o *Orchestrator) sourceEmbedding(ctx context.Context, state *runState) ([]float64, error) {
	vec, err := o.getOrEmbed(ctx, state.job.SourceControlKey, state.sourceText)
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (o *Orchestrator) getOrEmbed(ctx context.Context, controlKey, text string) ([]float64, error) {
	entry, err := o.embeddings.Get(ctx, controlKey, o.cfg.ModelVersion)
	if err == nil {
		return entry.Vector, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, pipelineerr.New(pipelineerr.KindInternal, err)
	}

	result, err := o.science.Embed(ctx, controlKey, text)
	if err != nil {
		return nil, err // already a *pipelineerr.Error from scienceclient
	}
	_ = o.embeddings.Put(ctx, model.EmbeddingEntry{ControlKey: controlKey, ModelVersion: o.cfg.ModelVersion, Vector: result.Vector})
	return result.Vector, nil
}

// S4.3 Target embeddings, batched with bounded concurrency and a one-shot
// per-item retry on persistent failure; drops a candidate that still fails
// and enforces the >50%-dropped policy decision.
func (o *Orchestrator) targetEmbeddings(ctx context.Context, state *runState, candidates []candidate) ([]candidate, error) {
	batchSize := o.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	vectors := make([][]float64, len(candidates))
	failed := make([]bool, len(candidates))

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				vec, err := o.getOrEmbed(gctx, candidates[i].controlKey, candidates[i].text)
				if err != nil {
					vec, err = o.getOrEmbed(gctx, candidates[i].controlKey, candidates[i].text) // one retry
				}
				if err != nil {
					failed[i] = true
					return nil // per-item failure, not a batch failure
				}
				vectors[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, pipelineerr.New(pipelineerr.KindInternal, err)
		}
	}

	survivors := make([]candidate, 0, len(candidates))
	dropped := 0
	for i, c := range candidates {
		if failed[i] {
			dropped++
			continue
		}
		c.vector = vectors[i]
		survivors = append(survivors, c)
	}

	if dropped > 0 {
		o.emit(ctx, events.CandidatesDroppedMessageKind, events.CandidatesDroppedEvent{JobID: state.job.ID.String(), DroppedCount: dropped, ConsideredCount: len(candidates)})
	}
	if dropped > 0 && o.dropPolicy != nil {
		exceeded, err := o.dropPolicy.DropExceeded(ctx, policy.DropInput{
			DroppedCount:    dropped,
			ConsideredCount: len(candidates),
			RerankMin:       o.cfg.RerankMin,
		})
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindInternal, err)
		}
		if exceeded {
			return nil, pipelineerr.New(pipelineerr.KindScienceUnavailable, errors.New("target embedding drop ratio exceeded policy threshold"))
		}
	}

	return survivors, nil
}

type retrieved struct {
	candidate
	similarity float64
}

// S4.4 Retrieval.
func (o *Orchestrator) retrieve(ctx context.Context, sourceVector []float64, survivors []candidate) ([]retrieved, error) {
	targetVectors := make([][]float64, len(survivors))
	for i, c := range survivors {
		targetVectors[i] = c.vector
	}

	topK := o.cfg.TopK
	if topK > len(survivors) {
		topK = len(survivors)
	}

	matches, err := o.science.Retrieve(ctx, sourceVector, targetVectors, topK)
	if err != nil {
		return nil, err
	}

	result := make([]retrieved, 0, len(matches))
	for _, m := range matches {
		if m.Index < 0 || m.Index >= len(survivors) {
			continue
		}
		result = append(result, retrieved{candidate: survivors[m.Index], similarity: m.Similarity})
	}
	return result, nil
}

type reranked struct {
	retrieved
	rerankScore float64
}

// S4.5 Rerank.
func (o *Orchestrator) rerank(ctx context.Context, sourceText string, candidates []retrieved) ([]reranked, error) {
	rerankCandidates := make([]scienceclient.RerankCandidate, len(candidates))
	for i, c := range candidates {
		rerankCandidates[i] = scienceclient.RerankCandidate{ID: c.controlKey, Text: c.text}
	}

	results, err := o.science.Rerank(ctx, sourceText, rerankCandidates)
	if err != nil {
		return nil, err
	}

	bySimilarity := make(map[string]retrieved, len(candidates))
	for _, c := range candidates {
		bySimilarity[c.controlKey] = c
	}

	survivors := make([]reranked, 0, len(results))
	for _, r := range results {
		if r.Score < o.cfg.RerankMin {
			continue
		}
		c, ok := bySimilarity[r.ID]
		if !ok {
			continue
		}
		survivors = append(survivors, reranked{retrieved: c, rerankScore: r.Score})
	}
	return survivors, nil
}

// S5 Reasoning (fan-out), bounded to ReasoningConcurrency outstanding calls.
func (o *Orchestrator) reason(ctx context.Context, state *runState, candidates []reranked) []model.Candidate {
	concurrency := o.cfg.ReasoningConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	mappings := make([]model.Candidate, len(candidates))
	var wg errgroup.Group
	for i, c := range candidates {
		i, c := i, c
		wg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			reasoning := ""
			result, err := o.agent.Reason(ctx, agentclient.ReasonRequest{
				SourceControlID: state.job.SourceControlKey,
				SourceText:      state.sourceText,
				Mapping: agentclient.ReasonMapping{
					TargetControlID: c.controlID,
					TargetFramework: state.job.TargetFrameworkKey,
					Text:            c.text,
					SimilarityScore: c.similarity,
					RerankScore:     c.rerankScore,
				},
			})
			if err == nil {
				reasoning = result.Reasoning
			}

			mappings[i] = model.Candidate{
				TargetControlKey: c.controlKey,
				TargetControlID:  c.controlID,
				SimilarityScore:  clampUnit(c.similarity),
				RerankScore:      c.rerankScore,
				Reasoning:        reasoning,
			}
			return nil
		})
	}
	_ = wg.Wait()
	return mappings
}

// sortMappings orders the final result set per spec.md §3 (P4): rerankScore
// descending, then similarityScore descending, then targetControlKey ascending.
func sortMappings(mappings []model.Candidate) {
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].RerankScore != mappings[j].RerankScore {
			return mappings[i].RerankScore > mappings[j].RerankScore
		}
		if mappings[i].SimilarityScore != mappings[j].SimilarityScore {
			return mappings[i].SimilarityScore > mappings[j].SimilarityScore
		}
		return mappings[i].TargetControlKey < mappings[j].TargetControlKey
	})
}

// clampUnit bounds a raw cosine similarity to [0,1] for the result contract.
// Retrieval can surface a negative cosine; the reasoning request upstream
// still sees the unclamped value since it's diagnostic input, not contract.
func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
