package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/correlation"
	"github.com/opsgrid/alarmd/internal/pkg/keymutex"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/pkg/metrics"
)

// Analyzer runs the periodic dedup/correlation pass over the window of
// recent active alarms. One Analyzer is constructed at startup and owns
// the pass-to-pass state (the group snapshot); its pass never blocks
// alarm ingestion.
type Analyzer struct {
	repo     alarm.Repository
	topology *Topology
	locks    *keymutex.KeyMutex
	logger   *logger.Logger

	interval         time.Duration
	window           time.Duration
	sampleLimit      int
	dedupThreshold   float64
	edgeThreshold    float64
	textSimThreshold float64
	autoResolveAfter time.Duration

	mu     sync.RWMutex
	groups []*correlation.Group
}

// simKey orders an alarm ID pair so lookups are direction-free
func simKey(a, b int64) [2]int64 {
	if a < b {
		return [2]int64{a, b}
	}
	return [2]int64{b, a}
}

type edge struct {
	score      float64
	factorType string
}

// NewAnalyzer creates a correlation analyzer
func NewAnalyzer(
	repo alarm.Repository,
	topology *Topology,
	locks *keymutex.KeyMutex,
	cfg config.CorrelationConfig,
	log *logger.Logger,
) *Analyzer {
	return &Analyzer{
		repo:             repo,
		topology:         topology,
		locks:            locks,
		logger:           log,
		interval:         cfg.Interval,
		window:           cfg.Window,
		sampleLimit:      cfg.SampleLimit,
		dedupThreshold:   cfg.DedupThreshold,
		edgeThreshold:    cfg.EdgeThreshold,
		textSimThreshold: cfg.TextSimThreshold,
		autoResolveAfter: cfg.AutoResolveAfter,
	}
}

// Run executes analysis passes on a fixed interval until ctx is cancelled
func (a *Analyzer) Run(ctx context.Context) {
	a.logger.Info("Starting correlation analyzer")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			a.RunOnce(ctx)
		case <-ctx.Done():
			a.logger.Info("Correlation analyzer stopped")
			return
		}
	}
}

// RunOnce executes a single analysis pass. Per-stage failures are logged
// and skipped so a fault in one stage never blocks the others.
func (a *Analyzer) RunOnce(ctx context.Context) {
	start := time.Now()

	alarms, err := a.repo.ListActiveSince(ctx, start.Add(-a.window), a.sampleLimit)
	if err != nil {
		a.logger.ErrorWithErr(err, "Failed to load alarm window, skipping pass")
		return
	}

	// Oldest first so "earlier wins" falls out of index order.
	sort.Slice(alarms, func(i, j int) bool {
		return alarms[i].CreatedAt.Before(alarms[j].CreatedAt)
	})

	similarities := a.textSimilarities(alarms)

	survivors := a.dedupPass(ctx, alarms, similarities)
	groups := a.buildGroups(survivors, similarities)

	a.mu.Lock()
	a.groups = groups
	a.mu.Unlock()

	a.autoResolvePass(ctx, start)

	metrics.RecordCorrelationPass(len(groups), time.Since(start))
	a.logger.WithFields(map[string]interface{}{
		"window_size": len(alarms),
		"survivors":   len(survivors),
		"groups":      len(groups),
		"elapsed":     time.Since(start).String(),
	}).Debug("Correlation pass complete")
}

// Snapshot returns a copy of the groups computed by the last pass
func (a *Analyzer) Snapshot() []*correlation.Group {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*correlation.Group, len(a.groups))
	for i, g := range a.groups {
		cp := *g
		cp.RelatedAlarmIDs = append([]int64(nil), g.RelatedAlarmIDs...)
		cp.RecommendedActions = append([]string(nil), g.RecommendedActions...)
		out[i] = &cp
	}
	return out
}

// textSimilarities computes pairwise cosine similarity over
// title+description, keyed by alarm ID pair. Vectorization failure
// degrades gracefully: an empty map disables dedup and the content factor
// for this pass.
func (a *Analyzer) textSimilarities(alarms []*alarm.Event) map[[2]int64]float64 {
	sims := make(map[[2]int64]float64)
	if len(alarms) < 2 {
		return sims
	}

	docs := make([]string, len(alarms))
	for i, al := range alarms {
		docs[i] = al.Title + " " + al.Description
	}

	var vec Vectorizer
	if err := vec.Fit(docs); err != nil {
		a.logger.WithError(err).Warn("Vectorization failed, skipping dedup for this pass")
		return sims
	}

	vectors := make([][]float64, len(docs))
	for i, doc := range docs {
		vectors[i] = vec.Transform(doc)
	}

	for i := 0; i < len(alarms); i++ {
		for j := i + 1; j < len(alarms); j++ {
			sims[simKey(alarms[i].ID, alarms[j].ID)] = Cosine(vectors[i], vectors[j])
		}
	}
	return sims
}

// dedupPass merges near-duplicate pairs. Alarms are ordered oldest first,
// so for any pair above threshold the later alarm is marked duplicate and
// the earlier one survives and accumulates its count. Returns the
// surviving alarms.
func (a *Analyzer) dedupPass(ctx context.Context, alarms []*alarm.Event, sims map[[2]int64]float64) []*alarm.Event {
	merged := make(map[int]bool)

	for i := 0; i < len(alarms); i++ {
		if merged[i] {
			continue
		}
		for j := i + 1; j < len(alarms); j++ {
			if merged[j] {
				continue
			}
			sim, ok := sims[simKey(alarms[i].ID, alarms[j].ID)]
			if !ok || sim < a.dedupThreshold {
				continue
			}
			if err := a.merge(ctx, alarms[i], alarms[j], sim); err != nil {
				a.logger.WithFields(map[string]interface{}{
					"parent_id":    alarms[i].ID,
					"duplicate_id": alarms[j].ID,
				}).ErrorWithErr(err, "Failed to merge duplicate alarm")
				continue
			}
			merged[j] = true
		}
	}

	survivors := make([]*alarm.Event, 0, len(alarms))
	for i, al := range alarms {
		if !merged[i] {
			survivors = append(survivors, al)
		}
	}
	return survivors
}

// merge marks dup as a duplicate of parent and folds its count into the
// parent. Both alarms are locked by fingerprint so dispatch workers never
// observe a half-applied merge.
func (a *Analyzer) merge(ctx context.Context, parent, dup *alarm.Event, sim float64) error {
	a.locks.Lock(parent.Fingerprint)
	defer a.locks.Unlock(parent.Fingerprint)
	if dup.Fingerprint != parent.Fingerprint {
		a.locks.Lock(dup.Fingerprint)
		defer a.locks.Unlock(dup.Fingerprint)
	}

	parentID := parent.ID
	dup.IsDuplicate = true
	dup.ParentAlarmID = &parentID
	dup.Status = alarm.StatusSuppressed
	dup.SimilarityScore = sim
	if err := a.repo.Update(ctx, dup); err != nil {
		return err
	}

	parent.Count += dup.Count
	if err := a.repo.Update(ctx, parent); err != nil {
		return err
	}

	metrics.RecordDuplicateMerged()
	a.logger.WithFields(map[string]interface{}{
		"duplicate_id": dup.ID,
		"parent_id":    parent.ID,
		"similarity":   sim,
	}).Info("Alarm merged as duplicate")
	return nil
}

// buildGroups scores the surviving pairs, forms edges above the threshold
// and clusters connected components into correlation groups.
func (a *Analyzer) buildGroups(alarms []*alarm.Event, sims map[[2]int64]float64) []*correlation.Group {
	n := len(alarms)
	if n < 2 {
		return nil
	}

	adj := make(map[int]map[int]edge)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			gap := alarms[i].LastOccurrence.Sub(alarms[j].LastOccurrence)
			if gap < 0 {
				gap = -gap
			}
			if gap >= a.window {
				continue
			}
			textSim := sims[simKey(alarms[i].ID, alarms[j].ID)]
			ps := a.scorePair(alarms[i], alarms[j], textSim, a.window)
			if ps.score <= a.edgeThreshold {
				continue
			}
			if adj[i] == nil {
				adj[i] = make(map[int]edge)
			}
			if adj[j] == nil {
				adj[j] = make(map[int]edge)
			}
			adj[i][j] = edge{ps.score, ps.factorType}
			adj[j][i] = edge{ps.score, ps.factorType}
		}
	}

	visited := make([]bool, n)
	var groups []*correlation.Group

	for i := 0; i < n; i++ {
		if visited[i] || adj[i] == nil {
			continue
		}

		// BFS over the component
		component := []int{}
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, cur)
			for next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}

		if len(component) < 2 {
			continue
		}

		groups = append(groups, a.makeGroup(alarms, component, adj))
	}
	return groups
}

// makeGroup builds one correlation group from a connected component. The
// primary alarm is the earliest member; the group type and score come from
// the component's strongest edge.
func (a *Analyzer) makeGroup(alarms []*alarm.Event, component []int, adj map[int]map[int]edge) *correlation.Group {
	sort.Slice(component, func(x, y int) bool {
		return alarms[component[x]].CreatedAt.Before(alarms[component[y]].CreatedAt)
	})

	primary := alarms[component[0]]
	related := make([]int64, 0, len(component)-1)
	for _, idx := range component[1:] {
		related = append(related, alarms[idx].ID)
	}

	groupType := correlation.TypeTemporal
	var groupScore float64
	for _, idx := range component {
		for _, e := range adj[idx] {
			if e.score > groupScore {
				groupScore = e.score
				groupType = e.factorType
			}
		}
	}

	probability := rootCauseProbability(primary, groupType, len(related) > 0)

	return &correlation.Group{
		PrimaryAlarmID:       primary.ID,
		RelatedAlarmIDs:      related,
		Type:                 groupType,
		Score:                groupScore,
		RootCauseProbability: probability,
		RecommendedActions:   recommendedActions(groupType, probability),
	}
}

// autoResolvePass resolves low/info alarms that have been idle past the
// auto-resolve age.
func (a *Analyzer) autoResolvePass(ctx context.Context, now time.Time) {
	stale, err := a.repo.ListStaleActive(ctx, now.Add(-a.autoResolveAfter),
		[]string{alarm.SeverityLow, alarm.SeverityInfo})
	if err != nil {
		a.logger.ErrorWithErr(err, "Failed to list stale alarms, skipping auto-resolve")
		return
	}

	for _, al := range stale {
		a.locks.Lock(al.Fingerprint)
		err := a.repo.UpdateStatus(ctx, al.ID, alarm.StatusResolved, now)
		a.locks.Unlock(al.Fingerprint)
		if err != nil {
			a.logger.With("alarm_id", al.ID).ErrorWithErr(err, "Failed to auto-resolve alarm")
			continue
		}
		a.logger.WithFields(map[string]interface{}{
			"alarm_id": al.ID,
			"severity": al.Severity,
		}).Info("Alarm auto-resolved after inactivity")
	}
}
