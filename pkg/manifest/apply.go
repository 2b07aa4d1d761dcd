package manifest

import (
	"context"
	"fmt"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/types"
)

// API is the slice of the daemon client that apply drives; *client.Client
// satisfies it.
type API interface {
	FindServer(ctx context.Context, name string) (*types.Server, error)
	CreateServer(ctx context.Context, spec *types.CreateServerSpec) (*types.Server, error)
	UpdateServer(ctx context.Context, id int64, spec *types.UpdateServerSpec) (*types.Server, error)
	ListServerSchedules(ctx context.Context, serverID int64) ([]*types.Schedule, error)
	CreateSchedule(ctx context.Context, serverID int64, spec *types.CreateScheduleSpec) (*types.Schedule, error)
	UpdateSchedule(ctx context.Context, id int64, spec *types.UpdateScheduleSpec) (*types.Schedule, error)
}

// Outcome says what apply did with one document.
type Outcome string

const (
	Created   Outcome = "created"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
)

// Result reports one applied document.
type Result struct {
	Kind    string
	Name    string
	Outcome Outcome
}

// Apply reconciles documents against the daemon in file order, so a
// Schedule may reference a Server created earlier in the same manifest.
// It stops at the first failure and returns the results of the documents
// that did land.
func Apply(ctx context.Context, api API, docs []*Document) ([]Result, error) {
	var results []Result
	for _, doc := range docs {
		var (
			res Result
			err error
		)
		switch doc.Kind {
		case KindServer:
			res, err = applyServer(ctx, api, doc)
		case KindSchedule:
			res, err = applySchedule(ctx, api, doc)
		default:
			err = fmt.Errorf("unsupported kind %q", doc.Kind)
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func applyServer(ctx context.Context, api API, doc *Document) (Result, error) {
	name, spec := doc.Metadata.Name, doc.Server
	res := Result{Kind: KindServer, Name: name}

	existing, err := api.FindServer(ctx, name)
	if err != nil {
		if !apierr.HasCode(err, "not_found") {
			return res, err
		}
		create := &types.CreateServerSpec{
			Name:     name,
			Distro:   types.Distro(spec.Distro),
			Version:  spec.Version,
			Port:     spec.Port,
			Memory:   spec.Memory,
			JavaPath: spec.JavaPath,
			JavaArgs: spec.JavaArgs,
		}
		if spec.RestartOnCrash != nil {
			create.RestartOnCrash = *spec.RestartOnCrash
		}
		if _, err := api.CreateServer(ctx, create); err != nil {
			return res, fmt.Errorf("server %q: %w", name, err)
		}
		res.Outcome = Created
		return res, nil
	}

	// Distro and version are fixed at creation; a manifest that disagrees
	// with reality is an error, not a silent skip.
	if spec.Distro != "" && types.Distro(spec.Distro) != existing.Distro {
		return res, fmt.Errorf("server %q: distro is immutable (is %s, manifest says %s)",
			name, existing.Distro, spec.Distro)
	}
	if spec.Version != "" && spec.Version != existing.Version {
		return res, fmt.Errorf("server %q: version is immutable (is %s, manifest says %s)",
			name, existing.Version, spec.Version)
	}

	patch := &types.UpdateServerSpec{}
	changed := false
	if spec.Port != 0 && spec.Port != existing.Port {
		patch.Port = &spec.Port
		changed = true
	}
	if spec.Memory != "" && spec.Memory != existing.Memory {
		patch.Memory = &spec.Memory
		changed = true
	}
	if spec.JavaPath != "" && spec.JavaPath != existing.JavaPath {
		patch.JavaPath = &spec.JavaPath
		changed = true
	}
	if spec.JavaArgs != "" && spec.JavaArgs != existing.JavaArgs {
		patch.JavaArgs = &spec.JavaArgs
		changed = true
	}
	if spec.RestartOnCrash != nil && *spec.RestartOnCrash != existing.RestartOnCrash {
		patch.RestartOnCrash = spec.RestartOnCrash
		changed = true
	}
	if !changed {
		res.Outcome = Unchanged
		return res, nil
	}
	if _, err := api.UpdateServer(ctx, existing.ID, patch); err != nil {
		return res, fmt.Errorf("server %q: %w", name, err)
	}
	res.Outcome = Updated
	return res, nil
}

// applySchedule matches an existing schedule by action+payload on the
// owning server: that pair is what the schedule does, cron and enabled
// are when and whether.
func applySchedule(ctx context.Context, api API, doc *Document) (Result, error) {
	spec := doc.Schedule
	action := types.ScheduleAction(spec.Action)
	res := Result{Kind: KindSchedule, Name: doc.Metadata.Server + "/" + spec.Action}

	srv, err := api.FindServer(ctx, doc.Metadata.Server)
	if err != nil {
		return res, fmt.Errorf("schedule %s: %w", res.Name, err)
	}

	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}

	existing, err := api.ListServerSchedules(ctx, srv.ID)
	if err != nil {
		return res, fmt.Errorf("schedule %s: %w", res.Name, err)
	}
	var match *types.Schedule
	for _, sc := range existing {
		if sc.Action == action && sc.Payload == spec.Payload {
			match = sc
			break
		}
	}

	if match == nil {
		create := &types.CreateScheduleSpec{
			Action:  action,
			Cron:    spec.Cron,
			Payload: spec.Payload,
			Enabled: enabled,
		}
		if _, err := api.CreateSchedule(ctx, srv.ID, create); err != nil {
			return res, fmt.Errorf("schedule %s: %w", res.Name, err)
		}
		res.Outcome = Created
		return res, nil
	}

	patch := &types.UpdateScheduleSpec{}
	changed := false
	if spec.Cron != match.Cron {
		patch.Cron = &spec.Cron
		changed = true
	}
	if enabled != match.Enabled {
		patch.Enabled = &enabled
		changed = true
	}
	if !changed {
		res.Outcome = Unchanged
		return res, nil
	}
	if _, err := api.UpdateSchedule(ctx, match.ID, patch); err != nil {
		return res, fmt.Errorf("schedule %s: %w", res.Name, err)
	}
	res.Outcome = Updated
	return res, nil
}
