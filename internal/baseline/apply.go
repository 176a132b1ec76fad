package baseline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kernel-route/routekernel/internal/tier"
	"github.com/kernel-route/routekernel/internal/update"
)

// applyTargetPath returns a copy of b with the scalar field named by
// u.TargetPath set to u.ProposedValue. Recognised path shapes:
//
//	dq_weights.<validity|specificity|correctness>
//	complexity_thresholds.<tier>.<lo|hi>
//	cost_per_mtok.<tier>.<input|output>
//	feedback_gates.<field>
func applyTargetPath(b Baselines, u update.ProposedUpdate) (Baselines, error) {
	out := b.Clone()
	parts := strings.Split(u.TargetPath, ".")
	if len(parts) < 2 {
		return b, fmt.Errorf("malformed target_path %q", u.TargetPath)
	}

	switch parts[0] {
	case "dq_weights":
		if len(parts) != 2 {
			return b, fmt.Errorf("malformed target_path %q", u.TargetPath)
		}
		w := out.DQWeights
		switch parts[1] {
		case "validity":
			w.Validity = u.ProposedValue
		case "specificity":
			w.Specificity = u.ProposedValue
		case "correctness":
			w.Correctness = u.ProposedValue
		default:
			return b, fmt.Errorf("unknown dq_weights field %q", parts[1])
		}
		renorm, err := renormalizeWeights(w)
		if err != nil {
			return b, err
		}
		out.DQWeights = renorm

	case "complexity_thresholds":
		if len(parts) != 3 {
			return b, fmt.Errorf("malformed target_path %q", u.TargetPath)
		}
		t, err := tier.Parse(parts[1])
		if err != nil {
			return b, err
		}
		r, ok := out.ComplexityThresholds[t]
		if !ok {
			return b, fmt.Errorf("no threshold range for tier %s", t)
		}
		switch parts[2] {
		case "lo":
			r.Lo = u.ProposedValue
		case "hi":
			r.Hi = u.ProposedValue
			// The next tier's Lo shares this boundary (contiguous partition).
			idx := tier.Index(t)
			if idx >= 0 && idx+1 < len(tier.Ordered) {
				next := tier.Ordered[idx+1]
				nr := out.ComplexityThresholds[next]
				nr.Lo = u.ProposedValue
				out.ComplexityThresholds[next] = nr
			}
		default:
			return b, fmt.Errorf("unknown complexity_thresholds field %q", parts[2])
		}
		out.ComplexityThresholds[t] = r

	case "cost_per_mtok":
		if len(parts) != 3 {
			return b, fmt.Errorf("malformed target_path %q", u.TargetPath)
		}
		t, err := tier.Parse(parts[1])
		if err != nil {
			return b, err
		}
		c, ok := out.CostPerMtok[t]
		if !ok {
			return b, fmt.Errorf("no cost entry for tier %s", t)
		}
		switch parts[2] {
		case "input":
			c.Input = u.ProposedValue
		case "output":
			c.Output = u.ProposedValue
		default:
			return b, fmt.Errorf("unknown cost_per_mtok field %q", parts[2])
		}
		out.CostPerMtok[t] = c

	case "feedback_gates":
		if len(parts) != 2 {
			return b, fmt.Errorf("malformed target_path %q", u.TargetPath)
		}
		g := out.FeedbackGates
		switch parts[1] {
		case "min_queries":
			g.MinQueries = int(u.ProposedValue)
		case "min_feedback":
			g.MinFeedback = int(u.ProposedValue)
		case "min_data_quality":
			g.MinDataQuality = u.ProposedValue
		case "recent_sample":
			g.RecentSample = int(u.ProposedValue)
		case "rollback_drop_pct":
			g.RollbackDropPct = u.ProposedValue
		case "max_updates_per_window":
			g.MaxUpdatesPerWindow = int(u.ProposedValue)
		case "update_window_queries":
			g.UpdateWindowQueries = int(u.ProposedValue)
		default:
			return b, fmt.Errorf("unknown feedback_gates field %q", parts[1])
		}
		out.FeedbackGates = g

	case "actionable_threshold":
		out.ActionableThreshold = u.ProposedValue

	default:
		return b, fmt.Errorf("unknown target_path root %q", parts[0])
	}

	return out, nil
}

// readTargetPath is the inverse of applyTargetPath: it reads the current
// scalar value named by path, used to populate ProposedUpdate.CurrentValue
// and to compute apply-time diffs for Preview.
func readTargetPath(b Baselines, path string) (float64, error) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return 0, fmt.Errorf("malformed target_path %q", path)
	}
	switch parts[0] {
	case "dq_weights":
		switch parts[1] {
		case "validity":
			return b.DQWeights.Validity, nil
		case "specificity":
			return b.DQWeights.Specificity, nil
		case "correctness":
			return b.DQWeights.Correctness, nil
		}
	case "complexity_thresholds":
		if len(parts) == 3 {
			t, err := tier.Parse(parts[1])
			if err != nil {
				return 0, err
			}
			r := b.ComplexityThresholds[t]
			switch parts[2] {
			case "lo":
				return r.Lo, nil
			case "hi":
				return r.Hi, nil
			}
		}
	case "cost_per_mtok":
		if len(parts) == 3 {
			t, err := tier.Parse(parts[1])
			if err != nil {
				return 0, err
			}
			c := b.CostPerMtok[t]
			switch parts[2] {
			case "input":
				return c.Input, nil
			case "output":
				return c.Output, nil
			}
		}
	case "feedback_gates":
		g := b.FeedbackGates
		switch parts[1] {
		case "min_queries":
			return float64(g.MinQueries), nil
		case "min_feedback":
			return float64(g.MinFeedback), nil
		case "min_data_quality":
			return g.MinDataQuality, nil
		case "recent_sample":
			return float64(g.RecentSample), nil
		case "rollback_drop_pct":
			return g.RollbackDropPct, nil
		case "max_updates_per_window":
			return float64(g.MaxUpdatesPerWindow), nil
		case "update_window_queries":
			return float64(g.UpdateWindowQueries), nil
		}
	case "actionable_threshold":
		return b.ActionableThreshold, nil
	}
	return 0, fmt.Errorf("unknown target_path %q", path)
}

// bumpPatch increments the patch component of a dotted "major.minor.patch"
// version string, matching the teacher's lineage versioning style
// (store.AuditEntry-adjacent; spec.md §3 "version strictly increases").
func bumpPatch(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return version + ".1"
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return version + ".1"
	}
	parts[2] = strconv.Itoa(patch + 1)
	return strings.Join(parts, ".")
}
