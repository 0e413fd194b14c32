// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/pbinitiative/zenflow/pkg/ptr"
	"github.com/pbinitiative/zenflow/pkg/script/js"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/pbinitiative/zenflow/pkg/workflow/model"
	"github.com/pbinitiative/zenflow/pkg/workflow/model/graph"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wfEngine *Engine
var engineStorage *inmemory.Storage
var registry *graph.Registry
var actions *DefaultActionExecutor

func TestMain(m *testing.M) {
	engineStorage = inmemory.NewStorage()
	registry = graph.NewRegistry()

	var exitCode int

	defer func() {
		os.Exit(exitCode)
	}()

	scripts, err := js.NewJsRuntime(context.Background(), 2, 0)
	if err != nil {
		panic(err)
	}
	actions = NewActionExecutor(scripts)
	wfEngine, err = NewEngine(
		EngineWithStorage(engineStorage),
		EngineWithModelProvider(registry),
		EngineWithActionExecutor(actions),
		EngineWithModelCache(16, time.Minute),
	)
	if err != nil {
		panic(err)
	}

	// Run the tests
	exitCode = m.Run()
}

// deploy builds the graph and registers it under the name of the running test.
func deploy(t *testing.T, build func(b *graph.Builder) *graph.Builder) string {
	t.Helper()
	g, err := build(graph.NewBuilder(t.Name(), "1", t.Name())).Build()
	require.NoError(t, err)
	registry.Register(g)
	return t.Name()
}

func runnerOf(t *testing.T, processGUID string, userID string) model.AppRunner {
	return model.AppRunner{
		AppName:       "leave-request",
		AppInstanceID: t.Name(),
		ProcessGUID:   processGUID,
		UserID:        userID,
		UserName:      userID,
	}
}

func performers(pairs map[string][]string) *model.ActivityResource {
	res := &model.ActivityResource{NextActivityPerformers: model.PerformerMap{}}
	for activity, users := range pairs {
		for _, user := range users {
			res.NextActivityPerformers[activity] = append(res.NextActivityPerformers[activity], model.Performer{UserID: user, UserName: user})
		}
	}
	return res
}

// liveTask returns the single live task of userID in the application instance of the test.
func liveTask(t *testing.T, userID string) runtime.TaskInstance {
	t.Helper()
	tasks, _, err := wfEngine.FindReadyTasks(t.Context(), storage.TaskQuery{AppInstanceID: t.Name(), UserID: userID})
	require.NoError(t, err)
	require.Len(t, tasks, 1, "live tasks of %s", userID)
	return tasks[0]
}

func liveTasks(t *testing.T) []runtime.TaskInstance {
	t.Helper()
	tasks, _, err := wfEngine.FindReadyTasks(t.Context(), storage.TaskQuery{AppInstanceID: t.Name()})
	require.NoError(t, err)
	return tasks
}

func activityStates(t *testing.T, processInstanceKey int64, activityGUID string) []runtime.ActivityState {
	t.Helper()
	instances, err := wfEngine.FindActivityInstances(t.Context(), processInstanceKey)
	require.NoError(t, err)
	res := make([]runtime.ActivityState, 0)
	for _, ai := range instances {
		if ai.ActivityGUID == activityGUID {
			res = append(res, ai.State)
		}
	}
	return res
}

func TestNewEngineRequiresStorageAndModels(t *testing.T) {
	_, err := NewEngine(EngineWithModelProvider(registry))
	var wfErr *WorkflowError
	assert.ErrorAs(t, err, &wfErr)

	_, err = NewEngine(EngineWithStorage(engineStorage))
	assert.ErrorAs(t, err, &wfErr)

	e, err := NewEngine(EngineWithStorage(engineStorage), EngineWithModelProvider(registry), EngineWithName("named"))
	require.NoError(t, err)
	assert.Equal(t, "named", e.Name())
}

func TestSimpleTaskProcessRunsToCompletion(t *testing.T) {
	// setup
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "review", Name: "Review", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "review", "").
			Connect("review", "end", "")
	})

	// when
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"review": {"alice"}}))

	// then
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, res.Feedback)
	assert.Len(t, res.Created.ProcessInstanceKeys, 1)
	assert.Len(t, res.Created.ActivityInstanceKeys, 2)
	assert.Len(t, res.Created.TaskKeys, 1)
	assert.Len(t, res.Created.TransitionInstanceKeys, 1)
	assert.False(t, res.ProcessCompleted)

	task := liveTask(t, "alice")
	assert.Equal(t, "review", task.ActivityGUID)
	assert.Equal(t, "Review", task.ActivityName)
	assert.Equal(t, runtime.TaskStateToDo, task.State)
	assert.Equal(t, "starter", task.CreatedByUserID)

	// when
	res, err = wfEngine.CompleteTask(t.Context(), task.Key, runnerOf(t, guid, "alice"), nil)

	// then
	require.NoError(t, err)
	assert.True(t, res.ProcessCompleted)
	pi, err := wfEngine.FindProcessInstance(t.Context(), res.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateCompleted, pi.State)
	assert.Equal(t, "alice", pi.EndedByUserID)
	assert.NotNil(t, pi.EndedAt)
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateCompleted}, activityStates(t, pi.Key, "review"))
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateCompleted}, activityStates(t, pi.Key, "end"))

	transitions, err := wfEngine.FindTransitionInstances(t.Context(), pi.Key)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "review", transitions[1].FromActivityGUID)
	assert.Equal(t, "end", transitions[1].ToActivityGUID)
	assert.Equal(t, runtime.FlyingTypeNotFlying, transitions[1].FlyingType)

	completed, err := wfEngine.store.FindTaskByKey(t.Context(), task.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.TaskStateCompleted, completed.State)
	assert.Equal(t, "alice", completed.EndedByUserID)
	assert.Empty(t, liveTasks(t))
}

func TestStartRejectsInvalidPerformerType(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "end", "")
	})
	runner := runnerOf(t, guid, "starter")
	runner.NextPerformerType = "EVERYONE"

	_, err := wfEngine.StartProcess(t.Context(), runner, nil)
	assert.ErrorIs(t, err, ErrInvalidPerformerType)
}

func TestStartOfUnknownProcessFails(t *testing.T) {
	_, err := wfEngine.StartProcess(t.Context(), runnerOf(t, "does-not-exist", "starter"), nil)
	assert.ErrorIs(t, err, model.ErrModelNotFound)
}

func TestSpecificPerformersAreRequiredForTaskSuccessors(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "review", Type: model.ActivityTypeTask}).
			Connect("start", "review", "")
	})

	_, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), nil)

	assert.ErrorIs(t, err, ErrNoMatchedSuccessor)
	assert.Empty(t, liveTasks(t))
}

func TestDefinitionAndSinglePerformerTypes(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "review", Type: model.ActivityTypeTask, Performers: model.PerformerList{
				{UserID: "clerk-1", UserName: "Clerk One"},
				{UserID: "clerk-2", UserName: "Clerk Two"},
			}}).
			Activity(model.Activity{GUID: "sign", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "review", "").
			Connect("review", "sign", "").
			Connect("sign", "end", "")
	})
	runner := runnerOf(t, guid, "starter")
	runner.NextPerformerType = model.NextPerformerTypeDefinition

	_, err := wfEngine.StartProcess(t.Context(), runner, nil)
	require.NoError(t, err)
	first := liveTask(t, "clerk-1")
	second := liveTask(t, "clerk-2")
	assert.Equal(t, "Clerk One", first.AssignedToUserName)

	runner = runnerOf(t, guid, "clerk-2")
	runner.NextPerformerType = model.NextPerformerTypeSingle
	_, err = wfEngine.CompleteTask(t.Context(), second.Key, runner, nil)
	require.NoError(t, err)

	closed, err := wfEngine.store.FindTaskByKey(t.Context(), first.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.TaskStateClosed, closed.State)
	sign := liveTask(t, "clerk-2")
	assert.Equal(t, "sign", sign.ActivityGUID)
}

func TestExclusiveGatewayRoutesByCondition(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "review", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "xor", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionXOrSplit}).
			Activity(model.Activity{GUID: "director", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "manager", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "review", "").
			Connect("review", "xor", "").
			Connect("xor", "director", "days > 5").
			Connect("xor", "manager", "").
			Connect("director", "end", "").
			Connect("manager", "end", "")
	})
	_, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"review": {"alice"}}))
	require.NoError(t, err)

	resource := performers(map[string][]string{"director": {"dora"}, "manager": {"mike"}})
	resource.Conditions = map[string]string{"days": "8"}
	res, err := wfEngine.CompleteTask(t.Context(), liveTask(t, "alice").Key, runnerOf(t, guid, "alice"), resource)
	require.NoError(t, err)

	assert.Equal(t, FeedbackNone, res.Feedback)
	task := liveTask(t, "dora")
	assert.Equal(t, "director", task.ActivityGUID)
	assert.Len(t, liveTasks(t), 1)
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateCompleted}, activityStates(t, res.ProcessInstanceKey, "xor"))
}

func TestAndJoinWaitsForAllBranches(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "split", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionAndSplit}).
			Activity(model.Activity{GUID: "finance", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "legal", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "join", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionAndJoin}).
			Activity(model.Activity{GUID: "approve", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "split", "").
			Connect("split", "finance", "").
			Connect("split", "legal", "").
			Connect("finance", "join", "").
			Connect("legal", "join", "").
			Connect("join", "approve", "").
			Connect("approve", "end", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{
		"finance": {"fiona"},
		"legal":   {"luke"},
	}))
	require.NoError(t, err)
	piKey := res.ProcessInstanceKey
	assert.Len(t, liveTasks(t), 2)

	next := performers(map[string][]string{"approve": {"carol"}})
	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "fiona").Key, runnerOf(t, guid, "fiona"), next)
	require.NoError(t, err)
	assert.Equal(t, FeedbackNeedOtherGatewayBranchesToJoin, res.Feedback)
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateRunning}, activityStates(t, piKey, "join"))
	assert.Empty(t, activityStates(t, piKey, "approve"))

	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "luke").Key, runnerOf(t, guid, "luke"), next)
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, res.Feedback)
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateCompleted}, activityStates(t, piKey, "join"))
	assert.Equal(t, "approve", liveTask(t, "carol").ActivityGUID)

	instances, err := wfEngine.FindActivityInstances(t.Context(), piKey)
	require.NoError(t, err)
	for _, ai := range instances {
		if ai.ActivityGUID == "join" {
			assert.Equal(t, 2, ai.TokensHad)
			assert.Equal(t, 2, ai.TokensRequired)
		}
	}
}

func TestOrJoinPassesFirstBranchAndAbsorbsTheRest(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "split", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionAndSplit}).
			Activity(model.Activity{GUID: "phone", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "mail", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "join", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionOrJoin}).
			Activity(model.Activity{GUID: "archive", Type: model.ActivityTypeTask}).
			Connect("start", "split", "").
			Connect("split", "phone", "").
			Connect("split", "mail", "").
			Connect("phone", "join", "").
			Connect("mail", "join", "").
			Connect("join", "archive", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{
		"phone": {"paul"},
		"mail":  {"mary"},
	}))
	require.NoError(t, err)
	piKey := res.ProcessInstanceKey

	next := performers(map[string][]string{"archive": {"ann"}})
	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "mary").Key, runnerOf(t, guid, "mary"), next)
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, res.Feedback)
	liveTask(t, "ann")

	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "paul").Key, runnerOf(t, guid, "paul"), next)
	require.NoError(t, err)
	assert.Equal(t, FeedbackOrJoinOneBranchHasBeenFinishedWaitingOthers, res.Feedback)
	assert.Len(t, activityStates(t, piKey, "join"), 1)
	assert.Len(t, activityStates(t, piKey, "archive"), 1)
}

func TestOrJoinOpensNewRoundOnLoopBack(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "draft", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "route", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionXOrSplit}).
			Activity(model.Activity{GUID: "fast", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "slow", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "join", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionOrJoin}).
			Activity(model.Activity{GUID: "check", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "again", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionXOrSplit}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "draft", "").
			Connect("draft", "route", "").
			Connect("route", "fast", "urgent = true").
			Connect("route", "slow", "").
			Connect("fast", "join", "").
			Connect("slow", "join", "").
			Connect("join", "check", "").
			Connect("check", "again", "").
			Connect("again", "draft", "rework = true").
			Connect("again", "end", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"draft": {"writer"}}))
	require.NoError(t, err)
	piKey := res.ProcessInstanceKey

	for round := 1; round <= 2; round++ {
		toFast := performers(map[string][]string{"fast": {"bob"}})
		toFast.Conditions = map[string]string{"urgent": "true"}
		_, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "writer").Key, runnerOf(t, guid, "writer"), toFast)
		require.NoError(t, err)

		res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "bob").Key, runnerOf(t, guid, "bob"), performers(map[string][]string{"check": {"carol"}}))
		require.NoError(t, err)
		assert.Equal(t, FeedbackNone, res.Feedback, "round %d", round)
		require.Len(t, liveTasks(t), 1, "round %d", round)

		next := performers(map[string][]string{"draft": {"writer"}})
		next.Conditions = map[string]string{"rework": strconv.FormatBool(round == 1)}
		res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "carol").Key, runnerOf(t, guid, "carol"), next)
		require.NoError(t, err)
	}
	assert.True(t, res.ProcessCompleted)
	assert.Equal(t, []runtime.ActivityState{
		runtime.ActivityStateCompleted,
		runtime.ActivityStateCompleted,
	}, activityStates(t, piKey, "join"))
}

func TestOrJoinWaitsForBranchStillRunningWhenPassed(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "split", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionAndSplit}).
			Activity(model.Activity{GUID: "quick", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "collect", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "verify", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "join", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionOrJoin}).
			Activity(model.Activity{GUID: "archive", Type: model.ActivityTypeTask}).
			Connect("start", "split", "").
			Connect("split", "quick", "").
			Connect("split", "collect", "").
			Connect("collect", "verify", "").
			Connect("quick", "join", "").
			Connect("verify", "join", "").
			Connect("join", "archive", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{
		"quick":   {"qa"},
		"collect": {"cole"},
	}))
	require.NoError(t, err)
	piKey := res.ProcessInstanceKey

	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "qa").Key, runnerOf(t, guid, "qa"), performers(map[string][]string{"archive": {"ann"}}))
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, res.Feedback)

	// the collect branch was live when the join passed, so its later arrival belongs to the same round
	_, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "cole").Key, runnerOf(t, guid, "cole"), performers(map[string][]string{"verify": {"vera"}}))
	require.NoError(t, err)
	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "vera").Key, runnerOf(t, guid, "vera"), performers(map[string][]string{"archive": {"ann"}}))
	require.NoError(t, err)
	assert.Equal(t, FeedbackOrJoinOneBranchHasBeenFinishedWaitingOthers, res.Feedback)
	assert.Len(t, activityStates(t, piKey, "join"), 1)
	assert.Len(t, activityStates(t, piKey, "archive"), 1)
	liveTask(t, "ann")
}

func TestParallelCountQuorumCompletesOnThreshold(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "countersign", Type: model.ActivityTypeMultipleInstance, MultipleInstance: &model.MultipleInstanceDetail{
				ComplexType:   model.ComplexTypeSignTogether,
				MergeType:     model.MergeTypeParallel,
				CompareType:   model.CompareTypeCount,
				CompleteOrder: ptr.To(2.0),
			}}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "countersign", "").
			Connect("countersign", "end", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"countersign": {"u1", "u2", "u3"}}))
	require.NoError(t, err)
	piKey := res.ProcessInstanceKey
	assert.Len(t, liveTasks(t), 3)
	assert.Len(t, res.Created.ActivityInstanceKeys, 5)

	last, err := wfEngine.IsLastTask(t.Context(), liveTask(t, "u1").Key)
	require.NoError(t, err)
	assert.False(t, last)

	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "u1").Key, runnerOf(t, guid, "u1"), nil)
	require.NoError(t, err)
	assert.Equal(t, FeedbackWaitingForCompletedMore, res.Feedback)
	assert.False(t, res.ProcessCompleted)

	u2 := liveTask(t, "u2")
	last, err = wfEngine.IsLastTask(t.Context(), u2.Key)
	require.NoError(t, err)
	assert.True(t, last)

	res, err = wfEngine.CompleteTask(t.Context(), u2.Key, runnerOf(t, guid, "u2"), nil)
	require.NoError(t, err)
	assert.True(t, res.ProcessCompleted)
	assert.ElementsMatch(t, []runtime.ActivityState{
		runtime.ActivityStateCompleted, // host
		runtime.ActivityStateCompleted,
		runtime.ActivityStateCompleted,
		runtime.ActivityStateWithdrawn,
	}, activityStates(t, piKey, "countersign"))

	tasks, _, err := wfEngine.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: t.Name(), UserID: "u3"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, runtime.TaskStateClosed, tasks[0].State)
}

func TestSequenceMultiInstanceForwardsToNextPerformer(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "chain", Type: model.ActivityTypeMultipleInstance, MultipleInstance: &model.MultipleInstanceDetail{
				ComplexType: model.ComplexTypeSignTogether,
				MergeType:   model.MergeTypeSequence,
				CompareType: model.CompareTypeCount,
			}}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "chain", "").
			Connect("chain", "end", "")
	})
	_, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"chain": {"first", "second"}}))
	require.NoError(t, err)

	assert.Len(t, liveTasks(t), 1)
	res, err := wfEngine.CompleteTask(t.Context(), liveTask(t, "first").Key, runnerOf(t, guid, "first"), nil)
	require.NoError(t, err)
	assert.Equal(t, FeedbackForwardToNextSequenceTask, res.Feedback)

	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "second").Key, runnerOf(t, guid, "second"), nil)
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, res.Feedback)
	assert.True(t, res.ProcessCompleted)
}

func TestSequenceSignerCannotCompleteOutOfTurn(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "chain", Type: model.ActivityTypeMultipleInstance, MultipleInstance: &model.MultipleInstanceDetail{
				ComplexType: model.ComplexTypeSignTogether,
				MergeType:   model.MergeTypeSequence,
				CompareType: model.CompareTypeCount,
			}}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "chain", "").
			Connect("chain", "end", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"chain": {"u1", "u2", "u3"}}))
	require.NoError(t, err)
	piKey := res.ProcessInstanceKey

	waiting, _, err := wfEngine.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: t.Name(), UserID: "u3"})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	u3 := waiting[0]

	last, err := wfEngine.IsLastTask(t.Context(), u3.Key)
	require.NoError(t, err)
	assert.False(t, last)

	_, err = wfEngine.CompleteTask(t.Context(), u3.Key, runnerOf(t, guid, "u3"), nil)
	assert.ErrorIs(t, err, ErrActivityNotActive)
	_, err = wfEngine.EntrustTask(t.Context(), Delegation{TaskKey: u3.Key, Runner: runnerOf(t, guid, "u3"), Delegate: model.Performer{UserID: "u4"}})
	assert.ErrorIs(t, err, ErrActivityNotActive)

	pi, err := wfEngine.FindProcessInstance(t.Context(), piKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateRunning, pi.State)
	assert.ElementsMatch(t, []runtime.ActivityState{
		runtime.ActivityStateSuspended, // host
		runtime.ActivityStateReady,
		runtime.ActivityStateSuspended,
		runtime.ActivityStateSuspended,
	}, activityStates(t, piKey, "chain"))

	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "u1").Key, runnerOf(t, guid, "u1"), nil)
	require.NoError(t, err)
	assert.Equal(t, FeedbackForwardToNextSequenceTask, res.Feedback)
	res, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "u2").Key, runnerOf(t, guid, "u2"), nil)
	require.NoError(t, err)
	assert.Equal(t, FeedbackForwardToNextSequenceTask, res.Feedback)
	assert.False(t, res.ProcessCompleted)

	last, err = wfEngine.IsLastTask(t.Context(), u3.Key)
	require.NoError(t, err)
	assert.True(t, last)
	res, err = wfEngine.CompleteTask(t.Context(), u3.Key, runnerOf(t, guid, "u3"), nil)
	require.NoError(t, err)
	assert.True(t, res.ProcessCompleted)
}

func TestSubProcessResumesParentWhenFinished(t *testing.T) {
	child, err := graph.NewBuilder("expense-check", "1", "Expense check").
		Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
		Activity(model.Activity{GUID: "check", Type: model.ActivityTypeTask}).
		Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
		Connect("start", "check", "").
		Connect("check", "end", "").
		Build()
	require.NoError(t, err)
	registry.Register(child)

	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "sub", Type: model.ActivityTypeSubProcess, SubProcessGUID: "expense-check"}).
			Activity(model.Activity{GUID: "pay", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "sub", "").
			Connect("sub", "pay", "").
			Connect("pay", "end", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"check": {"auditor"}}))
	require.NoError(t, err)
	parentKey := res.ProcessInstanceKey
	assert.Len(t, res.Created.ProcessInstanceKeys, 2)
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateSuspended}, activityStates(t, parentKey, "sub"))

	children, err := wfEngine.FindChildProcessInstances(t.Context(), parentKey)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "expense-check", children[0].ProcessGUID)

	check := liveTask(t, "auditor")
	assert.Equal(t, children[0].Key, check.ProcessInstanceKey)

	res, err = wfEngine.CompleteTask(t.Context(), check.Key, runnerOf(t, guid, "auditor"), performers(map[string][]string{"pay": {"cashier"}}))
	require.NoError(t, err)
	assert.True(t, res.ProcessCompleted)

	parent, err := wfEngine.FindProcessInstance(t.Context(), parentKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateRunning, parent.State)
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateCompleted}, activityStates(t, parentKey, "sub"))
	assert.Equal(t, parentKey, liveTask(t, "cashier").ProcessInstanceKey)
}

func TestJumpSkipsToTargetActivity(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "draft", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "xor", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionXOrSplit}).
			Activity(model.Activity{GUID: "review", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "publish", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "draft", "").
			Connect("draft", "review", "").
			Connect("review", "xor", "").
			Connect("xor", "publish", "").
			Connect("publish", "end", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"draft": {"writer"}}))
	require.NoError(t, err)
	piKey := res.ProcessInstanceKey
	draft := liveTask(t, "writer")

	_, err = wfEngine.Jump(t.Context(), draft.Key, "xor", runnerOf(t, guid, "writer"), nil)
	var wfErr *WorkflowError
	assert.ErrorAs(t, err, &wfErr)
	assert.Equal(t, runtime.TaskStateToDo, liveTask(t, "writer").State)

	res, err = wfEngine.Jump(t.Context(), draft.Key, "publish", runnerOf(t, guid, "writer"), performers(map[string][]string{"publish": {"editor"}}))
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, res.Feedback)
	assert.Equal(t, "publish", liveTask(t, "editor").ActivityGUID)
	assert.Empty(t, activityStates(t, piKey, "review"))

	transitions, err := wfEngine.FindTransitionInstances(t.Context(), piKey)
	require.NoError(t, err)
	jump := transitions[len(transitions)-1]
	assert.Equal(t, "draft", jump.FromActivityGUID)
	assert.Equal(t, "publish", jump.ToActivityGUID)
	assert.Equal(t, runtime.FlyingTypeForwardFlying, jump.FlyingType)
	assert.Empty(t, jump.TransitionGUID)
}

func TestUnknownNodeTypeRollsBackStep(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "timer", Type: model.ActivityType("TIMER")}).
			Connect("start", "timer", "")
	})

	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), nil)

	var unknown *UnknownNodeTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "timer", unknown.ActivityGUID)
	assert.Equal(t, "TIMER", unknown.ActivityType)
	assert.Equal(t, FeedbackUnknownNodeTypeToWatch, unknown.Feedback())
	assert.Zero(t, res.ProcessInstanceKey)
}

func TestActionFailureRollsBackWholeStep(t *testing.T) {
	actions.RegisterMethod("reject-all", func(ctx context.Context, delegate DelegateContext) error {
		return assert.AnError
	})
	defer actions.RemoveMethod("reject-all")

	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart, Actions: []model.Action{
				{Name: "reject", Type: model.ActionTypeMethod, FireType: model.FireTypeAfter, Method: "reject-all"},
			}}).
			Activity(model.Activity{GUID: "split", Type: model.ActivityTypeGateway, GatewayDirection: model.GatewayDirectionAndSplit}).
			Activity(model.Activity{GUID: "a", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "b", Type: model.ActivityTypeTask}).
			Connect("start", "split", "").
			Connect("split", "a", "").
			Connect("split", "b", "")
	})

	_, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"a": {"x"}, "b": {"y"}}))

	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "start", actionErr.ActivityGUID)
	assert.ErrorIs(t, err, assert.AnError)
	tasks, total, err := wfEngine.FindTasks(t.Context(), storage.TaskQuery{AppInstanceID: t.Name()})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, total)
}

func TestFailedIntermediateEventStopsBranch(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "notify", Type: model.ActivityTypeIntermediateEvent, Actions: []model.Action{
				{Name: "guard", Type: model.ActionTypeScript, FireType: model.FireTypeBefore, Script: "amount < 100"},
			}}).
			Activity(model.Activity{GUID: "review", Type: model.ActivityTypeTask}).
			Connect("start", "notify", "").
			Connect("notify", "review", "")
	})
	resource := performers(map[string][]string{"review": {"alice"}})
	resource.Conditions = map[string]string{"amount": "500"}

	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), resource)
	require.NoError(t, err)
	assert.Equal(t, FeedbackIntermediateEventFailed, res.Feedback)
	assert.Empty(t, activityStates(t, res.ProcessInstanceKey, "notify"))
	assert.Empty(t, liveTasks(t))

	pi, err := wfEngine.FindProcessInstance(t.Context(), res.ProcessInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessStateRunning, pi.State)
}

func TestPassingIntermediateEventContinues(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "notify", Type: model.ActivityTypeIntermediateEvent, Actions: []model.Action{
				{Name: "guard", Type: model.ActionTypeScript, FireType: model.FireTypeBefore, Script: "amount < 100"},
			}}).
			Activity(model.Activity{GUID: "review", Type: model.ActivityTypeTask}).
			Connect("start", "notify", "").
			Connect("notify", "review", "")
	})
	resource := performers(map[string][]string{"review": {"alice"}})
	resource.Conditions = map[string]string{"amount": "20"}

	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), resource)
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, res.Feedback)
	assert.Equal(t, []runtime.ActivityState{runtime.ActivityStateCompleted}, activityStates(t, res.ProcessInstanceKey, "notify"))
	liveTask(t, "alice")
}

func TestHooksFireOnSourceAndEndActivities(t *testing.T) {
	var calls []string
	actions.RegisterMethod("audit", func(ctx context.Context, delegate DelegateContext) error {
		calls = append(calls, delegate.ActivityGUID+":"+delegate.UserID)
		return nil
	})
	defer actions.RemoveMethod("audit")

	audit := func(fire model.FireType) []model.Action {
		return []model.Action{{Name: "audit", Type: model.ActionTypeMethod, FireType: fire, Method: "audit"}}
	}
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "review", Type: model.ActivityTypeTask, Actions: audit(model.FireTypeBefore)}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd, Actions: audit(model.FireTypeAfter)}).
			Connect("start", "review", "").
			Connect("review", "end", "")
	})
	_, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"review": {"alice"}}))
	require.NoError(t, err)
	assert.Empty(t, calls)

	_, err = wfEngine.CompleteTask(t.Context(), liveTask(t, "alice").Key, runnerOf(t, guid, "alice"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"review:alice", "end:alice"}, calls)
}

func TestCompleteTaskOfFinishedProcessFails(t *testing.T) {
	guid := deploy(t, func(b *graph.Builder) *graph.Builder {
		return b.
			Activity(model.Activity{GUID: "start", Type: model.ActivityTypeStart}).
			Activity(model.Activity{GUID: "a", Type: model.ActivityTypeTask}).
			Activity(model.Activity{GUID: "end", Type: model.ActivityTypeEnd}).
			Connect("start", "a", "").
			Connect("a", "end", "")
	})
	res, err := wfEngine.StartProcess(t.Context(), runnerOf(t, guid, "starter"), performers(map[string][]string{"a": {"alice"}}))
	require.NoError(t, err)
	task := liveTask(t, "alice")

	pi, err := wfEngine.FindProcessInstance(t.Context(), res.ProcessInstanceKey)
	require.NoError(t, err)
	pi.State = runtime.ProcessStateTerminated
	tx, err := engineStorage.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.SaveProcessInstance(t.Context(), pi))
	require.NoError(t, tx.Commit(t.Context()))

	_, err = wfEngine.CompleteTask(t.Context(), task.Key, runnerOf(t, guid, "alice"), nil)
	var wfErr *WorkflowError
	assert.ErrorAs(t, err, &wfErr)
	assert.Equal(t, runtime.TaskStateToDo, liveTask(t, "alice").State)
}
