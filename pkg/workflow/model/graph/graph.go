// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package graph is an in-memory process model: activities and transitions built in code,
// successor matching with FEEL transition conditions, and a versioned registry.
package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pbinitiative/feel"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
)

type Graph struct {
	processGUID string
	version     string
	name        string
	start       string
	activities  map[string]*model.Activity
	outgoing    map[string][]*model.Transition
	incoming    map[string]int
}

var _ model.ProcessModel = &Graph{}

func (g *Graph) ProcessGUID() string {
	return g.processGUID
}

func (g *Graph) Version() string {
	return g.version
}

func (g *Graph) Name() string {
	return g.name
}

func (g *Graph) GetActivity(activityGUID string) (*model.Activity, error) {
	activity, ok := g.activities[activityGUID]
	if !ok {
		return nil, fmt.Errorf("activity %s in process %s: %w", activityGUID, g.processGUID, model.ErrActivityNotFound)
	}
	return activity, nil
}

func (g *Graph) GetStartActivity() (*model.Activity, error) {
	return g.GetActivity(g.start)
}

func (g *Graph) FindTransition(fromActivityGUID, toActivityGUID string) *model.Transition {
	for _, t := range g.outgoing[fromActivityGUID] {
		if t.ToActivityGUID == toActivityGUID {
			return t
		}
	}
	return nil
}

func (g *Graph) IncomingTransitionCount(activityGUID string) int {
	return g.incoming[activityGUID]
}

func (g *Graph) Reaches(fromActivityGUID, toActivityGUID string) bool {
	seen := map[string]bool{fromActivityGUID: true}
	queue := []string{fromActivityGUID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, t := range g.outgoing[current] {
			if t.ToActivityGUID == toActivityGUID {
				return true
			}
			if !seen[t.ToActivityGUID] {
				seen[t.ToActivityGUID] = true
				queue = append(queue, t.ToActivityGUID)
			}
		}
	}
	return false
}

func (g *Graph) GetActivityPerformers(activityGUID string) (model.PerformerList, error) {
	activity, err := g.GetActivity(activityGUID)
	if err != nil {
		return nil, err
	}
	if len(activity.Performers) == 0 {
		return nil, fmt.Errorf("activity %s declares no performers", activityGUID)
	}
	return activity.Performers, nil
}

// MatchSuccessors walks the outgoing transitions of fromActivityGUID in declaration order.
// Gateways and intermediate events are expanded into their own successors, so the
// returned tree mirrors the fan-out declared in the definition.
func (g *Graph) MatchSuccessors(ctx context.Context, fromActivityGUID string, conditions map[string]string, resource *model.ActivityResource, predicate model.PerformerPredicate) (model.MatchResult, error) {
	from, err := g.GetActivity(fromActivityGUID)
	if err != nil {
		return model.MatchResult{Type: model.MatchedTypeNoMatch}, err
	}
	scope := conditionScope(conditions)
	root := model.NewRootComponent()
	visiting := map[string]bool{from.GUID: true}
	if err := g.matchChildren(root, from, scope, resource, predicate, visiting); err != nil {
		return model.MatchResult{Type: model.MatchedTypeNoMatch, Root: root}, err
	}
	if !root.HasChildren() {
		return model.MatchResult{
			Type:    model.MatchedTypeNoMatch,
			Root:    root,
			Message: fmt.Sprintf("no successor of %s matched the conditions", from.GUID),
		}, nil
	}
	return model.MatchResult{Type: model.MatchedTypeSuccessed, Root: root}, nil
}

func (g *Graph) matchChildren(parent *model.NextActivityComponent, from *model.Activity, scope map[string]interface{}, resource *model.ActivityResource, predicate model.PerformerPredicate, visiting map[string]bool) error {
	transitions, err := g.selectTransitions(from, scope)
	if err != nil {
		return err
	}
	for _, t := range transitions {
		to := g.activities[t.ToActivityGUID]
		child := &model.NextActivityComponent{Activity: to, Transition: t}
		if to.Type.IsAutoCompleted() {
			if visiting[to.GUID] {
				continue
			}
			visiting[to.GUID] = true
			err := g.matchChildren(child, to, scope, resource, predicate, visiting)
			delete(visiting, to.GUID)
			if err != nil {
				return err
			}
			if child.HasChildren() {
				parent.Add(child)
			}
			continue
		}
		if predicate != nil && !predicate(resource, to) {
			continue
		}
		parent.Add(child)
	}
	return nil
}

func (g *Graph) selectTransitions(from *model.Activity, scope map[string]interface{}) ([]*model.Transition, error) {
	outgoing := g.outgoing[from.GUID]
	if from.GatewayDirection == model.GatewayDirectionXOrSplit {
		var fallback *model.Transition
		for _, t := range outgoing {
			if strings.TrimSpace(t.Condition) == "" {
				if fallback == nil {
					fallback = t
				}
				continue
			}
			ok, err := evaluateCondition(t, scope)
			if err != nil {
				return nil, err
			}
			if ok {
				return []*model.Transition{t}, nil
			}
		}
		if fallback != nil {
			return []*model.Transition{fallback}, nil
		}
		return nil, nil
	}

	res := make([]*model.Transition, 0, len(outgoing))
	for _, t := range outgoing {
		ok, err := evaluateCondition(t, scope)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, t)
		}
	}
	return res, nil
}

func evaluateCondition(t *model.Transition, scope map[string]interface{}) (bool, error) {
	expression := strings.TrimSpace(t.Condition)
	expression = strings.TrimSpace(strings.TrimPrefix(expression, "="))
	if expression == "" {
		return true, nil
	}
	out, err := feel.EvalStringWithScope(expression, scope)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q of transition %s: %w", t.Condition, t.GUID, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q of transition %s evaluated to %v, expected a boolean", t.Condition, t.GUID, out)
	}
	return result, nil
}

// conditionScope converts string bindings to typed FEEL values.
func conditionScope(conditions map[string]string) map[string]interface{} {
	scope := make(map[string]interface{}, len(conditions))
	for key, value := range conditions {
		if i, err := strconv.Atoi(value); err == nil {
			scope[key] = i
			continue
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			scope[key] = f
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			scope[key] = b
			continue
		}
		scope[key] = value
	}
	return scope
}

// Builder assembles a Graph. Activities and transitions without a GUID get a random one.
type Builder struct {
	graph       *Graph
	transitions []*model.Transition
	order       []string
	err         error
}

func NewBuilder(processGUID, version, name string) *Builder {
	return &Builder{
		graph: &Graph{
			processGUID: processGUID,
			version:     version,
			name:        name,
			activities:  map[string]*model.Activity{},
			outgoing:    map[string][]*model.Transition{},
			incoming:    map[string]int{},
		},
	}
}

func (b *Builder) Activity(activity model.Activity) *Builder {
	if activity.GUID == "" {
		activity.GUID = uuid.NewString()
	}
	if _, ok := b.graph.activities[activity.GUID]; ok {
		b.err = fmt.Errorf("duplicate activity %s", activity.GUID)
		return b
	}
	b.graph.activities[activity.GUID] = &activity
	b.order = append(b.order, activity.GUID)
	return b
}

func (b *Builder) Connect(fromActivityGUID, toActivityGUID, condition string) *Builder {
	return b.Transition(model.Transition{
		FromActivityGUID: fromActivityGUID,
		ToActivityGUID:   toActivityGUID,
		Direction:        model.TransitionDirectionForward,
		Condition:        condition,
	})
}

func (b *Builder) Transition(transition model.Transition) *Builder {
	if transition.GUID == "" {
		transition.GUID = uuid.NewString()
	}
	if transition.Direction == "" {
		transition.Direction = model.TransitionDirectionForward
	}
	b.transitions = append(b.transitions, &transition)
	return b
}

func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	g := b.graph
	for _, guid := range b.order {
		if g.activities[guid].Type != model.ActivityTypeStart {
			continue
		}
		if g.start != "" {
			return nil, fmt.Errorf("process %s declares more than one start activity", g.processGUID)
		}
		g.start = guid
	}
	if g.start == "" {
		return nil, fmt.Errorf("process %s declares no start activity", g.processGUID)
	}
	for _, t := range b.transitions {
		if _, ok := g.activities[t.FromActivityGUID]; !ok {
			return nil, fmt.Errorf("transition %s starts at unknown activity %s", t.GUID, t.FromActivityGUID)
		}
		if _, ok := g.activities[t.ToActivityGUID]; !ok {
			return nil, fmt.Errorf("transition %s ends at unknown activity %s", t.GUID, t.ToActivityGUID)
		}
		g.outgoing[t.FromActivityGUID] = append(g.outgoing[t.FromActivityGUID], t)
		g.incoming[t.ToActivityGUID]++
	}
	return g, nil
}
